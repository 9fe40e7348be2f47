package classifier

import (
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/motion"
	"github.com/ayusman/vistrain/internal/training"
	"github.com/ayusman/vistrain/internal/trajectory"
)

var (
	dark   = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	bright = color.RGBA{R: 220, G: 220, B: 220, A: 255}
)

func testDeps(t *testing.T) Deps {
	return Deps{Log: logs.NewTestingLog(t)}
}

func scalarOf(c color.RGBA) gocv.Scalar {
	return gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0)
}

func filled(rows, cols int, c color.RGBA) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(scalarOf(c), rows, cols, gocv.MatTypeCV8UC3)
}

// brightSquareSet holds one 34x34 positive sample: a 30x30 bright square on a dark border.
func brightSquareSet(t *testing.T) *training.Set {
	img := filled(34, 34, dark)
	defer img.Close()
	fillRect(&img, image.Rect(2, 2, 32, 32), scalarOf(bright))

	sample, err := training.NewSample(training.GroupPositive, img, image.Rect(0, 0, 34, 34))
	require.NoError(t, err)
	set := training.NewSet()
	t.Cleanup(set.Close)
	_, err = set.Add(sample)
	require.NoError(t, err)
	return set
}

// darkFrameWithSquare is a 320x240 dark frame with a bright 30x30 square at (200, 100).
func darkFrameWithSquare() gocv.Mat {
	frame := filled(240, 320, dark)
	fillRect(&frame, image.Rect(200, 100, 230, 130), scalarOf(bright))
	return frame
}

func TestVariant_RoundTrip(t *testing.T) {
	for v := VariantColor; v <= VariantGesture; v++ {
		got, err := ParseVariant(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseVariant("bogus")
	assert.ErrorIs(t, err, ErrUnknownVariant)
	assert.Equal(t, "Brightness", VariantBrightness.DisplayName(config.Default()))
}

func TestClassify_UntrainedLeavesMaskOn(t *testing.T) {
	c, err := New(VariantBrightness, config.Default(), testDeps(t))
	require.NoError(t, err)
	defer c.Close()

	frame := darkFrameWithSquare()
	defer frame.Close()
	mask := AllOn(frame.Rows(), frame.Cols())
	defer mask.Close()

	res, err := c.Classify(Input{Frame: frame}, &mask)
	require.NoError(t, err)
	assert.Empty(t, res.Boxes)
	assert.Equal(t, 320*240, gocv.CountNonZero(mask))
}

func TestTrain_InsufficientSamples(t *testing.T) {
	cfg := config.Default()
	for _, v := range []Variant{VariantBrightness, VariantMotion, VariantGesture} {
		c, err := New(v, cfg, testDeps(t))
		require.NoError(t, err)
		set := training.NewSet()
		err = c.Train(set)
		assert.True(t, errors.Is(err, ErrInsufficientSamples), "%s: %v", v, err)
		assert.False(t, c.IsTrained())
		c.Close()
	}
}

func TestBrightness_DetectsBrightSquare(t *testing.T) {
	c, err := New(VariantBrightness, config.Default(), testDeps(t))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Train(brightSquareSet(t)))
	require.True(t, c.IsTrained())

	frame := darkFrameWithSquare()
	defer frame.Close()
	mask := AllOn(frame.Rows(), frame.Cols())
	defer mask.Close()

	res, err := c.Classify(Input{Frame: frame}, &mask)
	require.NoError(t, err)
	require.Len(t, res.Boxes, 1)
	box := res.Boxes[0]
	assert.Equal(t, image.Rect(200, 100, 230, 130), box)
	center := image.Pt((box.Min.X+box.Max.X)/2, (box.Min.Y+box.Max.Y)/2)
	assert.Equal(t, image.Pt(215, 115), center)
	assert.Equal(t, 900, gocv.CountNonZero(mask))

	demo := c.Demo()
	defer demo.Close()
	assert.Equal(t, 240, demo.Cols())
	assert.Equal(t, 180, demo.Rows())
}

func TestBrightness_NegativesSuppressBackground(t *testing.T) {
	set := brightSquareSet(t)
	neg := filled(20, 20, dark)
	defer neg.Close()
	sample, err := training.NewSample(training.GroupNegative, neg, image.Rect(0, 0, 20, 20))
	require.NoError(t, err)
	_, err = set.Add(sample)
	require.NoError(t, err)

	c, err := New(VariantBrightness, config.Default(), testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Train(set))

	algo := c.algo.(*histogram)
	assert.Equal(t, float32(255), algo.bins[13])
	assert.Zero(t, algo.bins[1])
}

func TestPersistence_RoundTrip(t *testing.T) {
	cfg := config.Default()
	dir := filepath.Join(t.TempDir(), DirName(VariantBrightness, "abc"))

	c, err := New(VariantBrightness, cfg, testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	c.SetName("lamp")
	c.SetThreshold(0.3)

	// an untrained save has no data file; training re-saves it
	require.NoError(t, c.Save(dir))
	_, err = os.Stat(dataFile(dir, VariantBrightness))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, c.Train(brightSquareSet(t)))
	_, err = os.Stat(dataFile(dir, VariantBrightness))
	require.NoError(t, err)

	loaded, err := Load(dir, cfg, testDeps(t))
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, "abc", loaded.ID())
	assert.Equal(t, VariantBrightness, loaded.Variant())
	assert.Equal(t, "lamp", loaded.Name())
	assert.InDelta(t, 0.3, loaded.Threshold(), 1e-6)
	assert.True(t, loaded.IsTrained())
	assert.True(t, loaded.IsOnDisk())
	assert.Equal(t, c.algo.(*histogram).bins, loaded.algo.(*histogram).bins)

	raw, err := os.ReadFile(filepath.Join(dir, thresholdFile))
	require.NoError(t, err)
	assert.Len(t, raw, 4)

	require.NoError(t, loaded.DeleteFromDisk())
	assert.False(t, loaded.IsOnDisk())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_Errors(t *testing.T) {
	cfg := config.Default()
	root := t.TempDir()

	_, err := Load(filepath.Join(root, "nodash"), cfg, testDeps(t))
	assert.ErrorIs(t, err, ErrPersistence)

	_, err = Load(filepath.Join(root, "bogus-123"), cfg, testDeps(t))
	assert.ErrorIs(t, err, ErrPersistence)

	dir := filepath.Join(root, DirName(VariantMotion, "m1"))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, nameFile), []byte("m"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, thresholdFile), []byte{1, 2}, 0o644))
	_, err = Load(dir, cfg, testDeps(t))
	assert.ErrorIs(t, err, ErrPersistence)
}

// rampSnapshot has a 28x20 region whose stamps grow along dir (+1 right, -1 left).
func rampSnapshot(dir float64) *motion.Snapshot {
	const w, h = 60, 40
	snap := &motion.Snapshot{Width: w, Height: h, Timestamp: 30, Duration: 15, MHI: make([]float32, w*h)}
	for y := 10; y < 30; y++ {
		for x := 10; x < 38; x++ {
			step := float64(x - 10)
			if dir < 0 {
				step = float64(37 - x)
			}
			snap.MHI[y*w+x] = float32(16 + 0.5*step)
		}
	}
	return snap
}

func TestMotion_KeepsMatchingDirection(t *testing.T) {
	cfg := config.Default()
	c, err := New(VariantMotion, cfg, testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.NeedsMotion())
	require.False(t, c.NeedsTrajectories())

	set := training.NewSet()
	_, err = set.Add(&training.Sample{Group: training.GroupPositive, Motion: rampSnapshot(1)})
	require.NoError(t, err)
	require.NoError(t, c.Train(set))

	frame := filled(40, 60, dark)
	defer frame.Close()

	mask := AllOn(40, 60)
	defer mask.Close()
	res, err := c.Classify(Input{Frame: frame, Motion: rampSnapshot(1)}, &mask)
	require.NoError(t, err)
	assert.Len(t, res.Boxes, 1)
	assert.Equal(t, 28*20, gocv.CountNonZero(mask))

	opposite := AllOn(40, 60)
	defer opposite.Close()
	res, err = c.Classify(Input{Frame: frame, Motion: rampSnapshot(-1)}, &opposite)
	require.NoError(t, err)
	assert.Empty(t, res.Boxes)
	assert.Zero(t, gocv.CountNonZero(opposite))

	none := AllOn(40, 60)
	defer none.Close()
	_, err = c.Classify(Input{Frame: frame}, &none)
	require.NoError(t, err)
	assert.Zero(t, gocv.CountNonZero(none))
}

func circleTrack(n int, r float64) *trajectory.MotionTrack {
	tr := &trajectory.MotionTrack{ID: 1, FrameLast: n - 1}
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		x, y := 100+r*math.Cos(a), 100+r*math.Sin(a)
		var vx, vy float64
		if i > 0 {
			vx, vy = x-tr.Samples[i-1].X, y-tr.Samples[i-1].Y
		}
		tr.Samples = append(tr.Samples, trajectory.MotionSample{X: x, Y: y, VX: vx, VY: vy, SizeX: 10, SizeY: 10})
	}
	return tr
}

func lineTrack(n int) *trajectory.MotionTrack {
	tr := &trajectory.MotionTrack{ID: 2, FrameLast: n - 1}
	for i := 0; i < n; i++ {
		vx := 0.0
		if i > 0 {
			vx = 4
		}
		tr.Samples = append(tr.Samples, trajectory.MotionSample{X: float64(4 * i), Y: 50, VX: vx, SizeX: 10, SizeY: 10})
	}
	return tr
}

func TestGesture_ScoreAgainstThreshold(t *testing.T) {
	cfg := config.Default()
	c, err := New(VariantGesture, cfg, testDeps(t))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.NeedsTrajectories())

	set := training.NewSet()
	_, err = set.Add(&training.Sample{Group: training.GroupRange, Track: circleTrack(40, 30)})
	require.NoError(t, err)
	require.NoError(t, c.Train(set))

	frame := filled(60, 80, dark)
	defer frame.Close()

	match := AllOn(60, 80)
	defer match.Close()
	res, err := c.Classify(Input{Frame: frame, Track: circleTrack(40, 50)}, &match)
	require.NoError(t, err)
	assert.Greater(t, res.Score, 0.5)
	assert.Equal(t, 60*80, gocv.CountNonZero(match))

	c.SetThreshold(0.99)
	miss := AllOn(60, 80)
	defer miss.Close()
	res, err = c.Classify(Input{Frame: frame, Track: lineTrack(40)}, &miss)
	require.NoError(t, err)
	assert.Less(t, res.Score, 0.99)
	assert.Zero(t, gocv.CountNonZero(miss))

	noTrack := AllOn(60, 80)
	defer noTrack.Close()
	_, err = c.Classify(Input{Frame: frame}, &noTrack)
	require.NoError(t, err)
	assert.Zero(t, gocv.CountNonZero(noTrack))
}

func TestShape_MatchInvariantToRotationAndScale(t *testing.T) {
	ell := []image.Point{{0, 0}, {30, 0}, {30, 10}, {10, 10}, {10, 40}, {0, 40}}
	// the same L rotated by 90 degrees and scaled by 3
	turned := make([]image.Point, len(ell))
	for i, p := range ell {
		turned[i] = image.Pt(200-3*p.Y, 3*p.X)
	}
	bar := []image.Point{{0, 0}, {100, 0}, {100, 10}, {0, 10}}

	s := newShape(config.Default())
	defer s.Close()
	s.setTemplates([][]image.Point{ell})

	tv := gocv.NewPointVectorFromPoints(turned)
	defer tv.Close()
	bv := gocv.NewPointVectorFromPoints(bar)
	defer bv.Close()

	assert.Less(t, gocv.MatchShapes(s.templates[0], tv, gocv.ContoursMatchI1, 0), 0.01)
	assert.Greater(t, gocv.MatchShapes(s.templates[0], bv, gocv.ContoursMatchI1, 0), 1.0)
	assert.True(t, s.matches(tv))
	assert.False(t, s.matches(bv))
}

func TestLibrary_LoadSaveDelete(t *testing.T) {
	cfg := config.Default()
	root := t.TempDir()
	lib := NewLibrary(root, cfg, testDeps(t))

	b, err := lib.Create(VariantBrightness)
	require.NoError(t, err)
	require.NoError(t, b.Train(brightSquareSet(t)))
	g, err := lib.Create(VariantGesture)
	require.NoError(t, err)
	require.NoError(t, lib.Save(b.ID()))
	require.NoError(t, lib.Save(g.ID()))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "junk"), 0o755))
	lib.Close()

	reloaded := NewLibrary(root, cfg, testDeps(t))
	defer reloaded.Close()
	n, err := reloaded.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := reloaded.Get(b.ID())
	require.NoError(t, err)
	assert.True(t, got.IsTrained())
	other, err := reloaded.Get(g.ID())
	require.NoError(t, err)
	assert.False(t, other.IsTrained())

	require.NoError(t, reloaded.Delete(b.ID()))
	_, err = reloaded.Get(b.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(root, DirName(VariantBrightness, b.ID())))
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, reloaded.List(), 1)
}
