package classifier

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/features"
	"github.com/ayusman/vistrain/internal/training"
)

// acceptAllCascade is a one-stage 24x24 Haar cascade whose single stump
// accepts every window.
const acceptAllCascade = `<?xml version="1.0"?>
<opencv_storage>
<cascade type_id="opencv-cascade-classifier"><stageType>BOOST</stageType>
  <featureType>HAAR</featureType>
  <height>24</height>
  <width>24</width>
  <stageParams>
    <maxWeakCount>1</maxWeakCount></stageParams>
  <featureParams>
    <maxCatCount>0</maxCatCount></featureParams>
  <stageNum>1</stageNum>
  <stages>
    <_>
      <maxWeakCount>1</maxWeakCount>
      <stageThreshold>-1.0000000000000000e+00</stageThreshold>
      <weakClassifiers>
        <_>
          <internalNodes>
            0 -1 0 5.0000000000000000e-01</internalNodes>
          <leafValues>
            1.0000000000000000e+00 1.0000000000000000e+00</leafValues></_></weakClassifiers></_></stages>
  <features>
    <_>
      <rects>
        <_>
          0 0 24 24 -1.</_>
        <_>
          0 0 12 24 2.</_></rects></_></features></cascade>
</opencv_storage>
`

// fakeCascade stands in for the external trainer. When started is set it
// signals the call and waits for release before returning.
type fakeCascade struct {
	xml       []byte
	jobs      []CascadeJob
	positives int
	negatives int
	started   chan struct{}
	release   chan struct{}
}

func (f *fakeCascade) TrainCascade(job CascadeJob) ([]byte, error) {
	pos, err := os.ReadDir(job.PositiveDir)
	if err != nil {
		return nil, err
	}
	neg, err := os.ReadDir(job.NegativeDir)
	if err != nil {
		return nil, err
	}
	f.positives, f.negatives = len(pos), len(neg)
	f.jobs = append(f.jobs, job)
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.xml, nil
}

// fakeExtractor returns canned keypoints chosen by image width.
type fakeExtractor struct {
	byWidth map[int][]features.Keypoint
}

func (f fakeExtractor) Extract(img gocv.Mat) ([]features.Keypoint, error) {
	return f.byWidth[img.Cols()], nil
}

func (fakeExtractor) Close() error { return nil }

func oneHot(i, n int) []float64 {
	v := make([]float64, n)
	v[i] = 10
	return v
}

// translatedKeypoints builds a 40x40 template and the same points shifted
// by offset, plus one distractor, as a frame of width 320.
func translatedKeypoints(offset features.Point) fakeExtractor {
	pts := []features.Point{{5, 5}, {35, 5}, {35, 35}, {5, 35}, {20, 10}, {12, 28}, {30, 22}, {20, 20}}
	var tpl, frame []features.Keypoint
	for i, p := range pts {
		desc := oneHot(i, len(pts))
		tpl = append(tpl, features.Keypoint{Point: p, Descriptor: desc})
		frame = append(frame, features.Keypoint{Point: features.Point{X: p.X + offset.X, Y: p.Y + offset.Y}, Descriptor: desc})
	}
	distractor := make([]float64, len(pts))
	for i := range distractor {
		distractor[i] = 5
	}
	frame = append(frame, features.Keypoint{Point: features.Point{X: 10, Y: 10}, Descriptor: distractor})
	return fakeExtractor{byWidth: map[int][]features.Keypoint{40: tpl, 320: frame}}
}

// groupSet adds one sample per image, cut over the whole image.
func groupSet(t *testing.T, set *training.Set, group training.Group, imgs ...gocv.Mat) {
	for _, img := range imgs {
		s, err := training.NewSample(group, img, image.Rect(0, 0, img.Cols(), img.Rows()))
		require.NoError(t, err)
		_, err = set.Add(s)
		require.NoError(t, err)
	}
}

func barImage(rows, cols int, bar image.Rectangle) gocv.Mat {
	img := filled(rows, cols, dark)
	fillRect(&img, bar, scalarOf(bright))
	return img
}

// barAndDiscFrame is a 320x240 frame with a 60x20 bar and a disc of radius 25.
func barAndDiscFrame() gocv.Mat {
	frame := barImage(240, 320, image.Rect(200, 150, 260, 170))
	gocv.Circle(&frame, image.Pt(80, 80), 25, bright, -1)
	return frame
}

func shapeSet(t *testing.T) *training.Set {
	set := training.NewSet()
	t.Cleanup(set.Close)
	img := barImage(40, 80, image.Rect(10, 10, 70, 30))
	defer img.Close()
	groupSet(t, set, training.GroupPositive, img)
	return set
}

func featureSet(t *testing.T) *training.Set {
	set := training.NewSet()
	t.Cleanup(set.Close)
	img := filled(40, 40, bright)
	defer img.Close()
	groupSet(t, set, training.GroupPositive, img)
	return set
}

func appearanceSet(t *testing.T) *training.Set {
	set := training.NewSet()
	t.Cleanup(set.Close)
	pos := barImage(30, 30, image.Rect(5, 5, 25, 25))
	defer pos.Close()
	neg := filled(60, 60, dark)
	defer neg.Close()
	groupSet(t, set, training.GroupPositive, pos, pos, pos)
	groupSet(t, set, training.GroupNegative, neg, neg, neg)
	return set
}

func TestVariants_TrainClassifySaveLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping OpenCV-heavy test")
	}

	tests := []struct {
		name    string
		variant Variant
		deps    func(t *testing.T) Deps
		set     func(t *testing.T) *training.Set
		frame   func() gocv.Mat
		check   func(t *testing.T, res Result, mask gocv.Mat)
	}{
		{
			name:    "shape keeps the bar and drops the disc",
			variant: VariantShape,
			deps:    testDeps,
			set:     shapeSet,
			frame:   barAndDiscFrame,
			check: func(t *testing.T, res Result, mask gocv.Mat) {
				require.NotEmpty(t, res.Boxes)
				for _, b := range res.Boxes {
					assert.True(t, b.In(image.Rect(196, 146, 264, 174)), "box %v outside the bar", b)
				}
				assert.Equal(t, uint8(255), mask.GetUCharAt(160, 230))
				assert.Zero(t, mask.GetUCharAt(80, 80))
			},
		},
		{
			name:    "feature masks the RANSAC box",
			variant: VariantFeature,
			deps: func(t *testing.T) Deps {
				ex := translatedKeypoints(features.Point{X: 150, Y: 80})
				d := testDeps(t)
				d.NewExtractor = func() features.Extractor { return ex }
				return d
			},
			set: featureSet,
			frame: func() gocv.Mat {
				return filled(240, 320, dark)
			},
			check: func(t *testing.T, res Result, mask gocv.Mat) {
				require.Len(t, res.Boxes, 1)
				box := res.Boxes[0]
				assert.InDelta(t, 150, box.Min.X, 1)
				assert.InDelta(t, 80, box.Min.Y, 1)
				assert.InDelta(t, 190, box.Max.X, 1)
				assert.InDelta(t, 120, box.Max.Y, 1)
				assert.Equal(t, box.Dx()*box.Dy(), gocv.CountNonZero(mask))
			},
		},
		{
			name:    "appearance masks cascade detections",
			variant: VariantAppearance,
			deps: func(t *testing.T) Deps {
				d := testDeps(t)
				d.Cascade = &fakeCascade{xml: []byte(acceptAllCascade)}
				return d
			},
			set: appearanceSet,
			frame: func() gocv.Mat {
				return filled(120, 160, dark)
			},
			check: func(t *testing.T, res Result, mask gocv.Mat) {
				want := AllOn(mask.Rows(), mask.Cols())
				defer want.Close()
				keepBoxes(&want, res.Boxes)
				assert.Equal(t, gocv.CountNonZero(want), gocv.CountNonZero(mask))
			},
		},
	}

	cfg := config.Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := tt.deps(t)
			c, err := New(tt.variant, cfg, deps)
			require.NoError(t, err)
			defer c.Close()
			require.NoError(t, c.Train(tt.set(t)))
			require.True(t, c.IsTrained())

			frame := tt.frame()
			defer frame.Close()
			mask := AllOn(frame.Rows(), frame.Cols())
			defer mask.Close()
			res, err := c.Classify(Input{Frame: frame}, &mask)
			require.NoError(t, err)
			tt.check(t, res, mask)

			dir := filepath.Join(t.TempDir(), DirName(tt.variant, c.ID()))
			require.NoError(t, c.Save(dir))
			_, err = os.Stat(dataFile(dir, tt.variant))
			require.NoError(t, err)

			loaded, err := Load(dir, cfg, deps)
			require.NoError(t, err)
			defer loaded.Close()
			require.True(t, loaded.IsTrained())

			again := AllOn(frame.Rows(), frame.Cols())
			defer again.Close()
			reloaded, err := loaded.Classify(Input{Frame: frame}, &again)
			require.NoError(t, err)
			assert.Equal(t, res.Boxes, reloaded.Boxes)
			assert.Equal(t, gocv.CountNonZero(mask), gocv.CountNonZero(again))
		})
	}
}

func TestShape_SimilarityThresholdGatesMask(t *testing.T) {
	cfg := config.Default()
	cfg.Shape.SimilarityThreshold = 0
	c, err := New(VariantShape, cfg, testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Train(shapeSet(t)))

	frame := barAndDiscFrame()
	defer frame.Close()
	mask := AllOn(frame.Rows(), frame.Cols())
	defer mask.Close()
	res, err := c.Classify(Input{Frame: frame}, &mask)
	require.NoError(t, err)
	assert.Empty(t, res.Boxes)
	assert.Zero(t, gocv.CountNonZero(mask))
}

func TestShape_TemplatePointsRoundTrip(t *testing.T) {
	cfg := config.Default()
	c, err := New(VariantShape, cfg, testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Train(shapeSet(t)))

	dir := filepath.Join(t.TempDir(), DirName(VariantShape, "s1"))
	require.NoError(t, c.Save(dir))
	loaded, err := Load(dir, cfg, testDeps(t))
	require.NoError(t, err)
	defer loaded.Close()

	want := c.algo.(*shape).templates
	got := loaded.algo.(*shape).templates
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ToPoints(), got[i].ToPoints())
	}
}

func TestFeature_NoKeypointsClearsMask(t *testing.T) {
	d := testDeps(t)
	ex := translatedKeypoints(features.Point{X: 150, Y: 80})
	d.NewExtractor = func() features.Extractor { return ex }
	c, err := New(VariantFeature, config.Default(), d)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Train(featureSet(t)))

	frame := filled(100, 100, dark)
	defer frame.Close()
	mask := AllOn(100, 100)
	defer mask.Close()
	res, err := c.Classify(Input{Frame: frame}, &mask)
	require.NoError(t, err)
	assert.Empty(t, res.Boxes)
	assert.Zero(t, gocv.CountNonZero(mask))
}

func TestAppearance_DataFileHoldsCascade(t *testing.T) {
	cfg := config.Default()
	trainer := &fakeCascade{xml: []byte(acceptAllCascade)}
	d := testDeps(t)
	d.Cascade = trainer
	c, err := New(VariantAppearance, cfg, d)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Train(appearanceSet(t)))
	require.Len(t, trainer.jobs, 1)
	assert.Equal(t, 3, trainer.jobs[0].Positives)
	assert.Equal(t, 3, trainer.jobs[0].Negatives)
	assert.Equal(t, 3, trainer.positives)
	assert.Equal(t, 3, trainer.negatives)
	assert.Equal(t, cfg.Appearance.SampleSize, trainer.jobs[0].SampleSize)
	_, err = os.Stat(trainer.jobs[0].WorkDir)
	assert.True(t, os.IsNotExist(err), "work dir should be removed after training")

	dir := filepath.Join(t.TempDir(), DirName(VariantAppearance, "a1"))
	require.NoError(t, c.Save(dir))
	raw, err := os.ReadFile(dataFile(dir, VariantAppearance))
	require.NoError(t, err)
	assert.Equal(t, acceptAllCascade, string(raw))

	loaded, err := Load(dir, cfg, d)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, []byte(acceptAllCascade), loaded.algo.(*appearance).xml)
}

func TestAppearance_TrainErrors(t *testing.T) {
	cfg := config.Default()

	c, err := New(VariantAppearance, cfg, testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	assert.ErrorIs(t, c.Train(appearanceSet(t)), ErrNoCascadeTrainer)
	assert.False(t, c.IsTrained())

	few := training.NewSet()
	defer few.Close()
	pos := filled(30, 30, bright)
	defer pos.Close()
	groupSet(t, few, training.GroupPositive, pos, pos)
	assert.ErrorIs(t, c.Train(few), ErrInsufficientSamples)
}

func TestTrain_ClassifyNotBlockedWhileTraining(t *testing.T) {
	trainer := &fakeCascade{
		xml:     []byte(acceptAllCascade),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := testDeps(t)
	d.Cascade = trainer
	c, err := New(VariantAppearance, config.Default(), d)
	require.NoError(t, err)
	defer c.Close()

	set := appearanceSet(t)
	trained := make(chan error, 1)
	go func() { trained <- c.Train(set) }()
	<-trainer.started

	frame := filled(60, 80, dark)
	defer frame.Close()
	mask := AllOn(60, 80)
	defer mask.Close()
	classified := make(chan error, 1)
	go func() {
		_, err := c.Classify(Input{Frame: frame}, &mask)
		classified <- err
	}()

	select {
	case err := <-classified:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(trainer.release)
		t.Fatal("Classify blocked while the classifier was training")
	}
	assert.False(t, c.IsTrained())
	assert.Equal(t, 60*80, gocv.CountNonZero(mask))

	close(trainer.release)
	require.NoError(t, <-trained)
	assert.True(t, c.IsTrained())
}
