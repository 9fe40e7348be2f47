package classifier

import (
	"errors"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/features"
	"github.com/ayusman/vistrain/internal/training"
)

// feature backs the SIFT variant. It keeps the keypoints of the first
// positive sample and locates them in each frame.
type feature struct {
	extractor features.Extractor
	matcher   *features.Matcher
	tpl       features.Template
	preview
}

func newFeature(cfg *config.Config, newExtractor func() features.Extractor) *feature {
	var ex features.Extractor
	if newExtractor != nil {
		ex = newExtractor()
	} else {
		ex = features.NewSIFTExtractor()
	}
	return &feature{
		extractor: ex,
		matcher:   features.NewMatcher(cfg.Feature),
		preview:   preview{color: cfg.Swatch(int(VariantFeature))},
	}
}

func (f *feature) ContainsSufficientSamples(set *training.Set) bool {
	return set.Counts().Positive >= 1
}

func (f *feature) Train(set *training.Set) error {
	for _, s := range set.ByGroup(training.GroupPositive) {
		if s.Image == nil || s.Image.Empty() {
			continue
		}
		kps, err := f.extractor.Extract(*s.Image)
		if err != nil {
			return fmt.Errorf("extract sample keypoints: %w", err)
		}
		if len(kps) == 0 {
			return errors.New("first positive sample has no keypoints")
		}
		f.tpl = features.Template{Keypoints: kps, Width: s.Image.Cols(), Height: s.Image.Rows()}
		f.preview.set(set)
		return nil
	}
	return errors.New("no positive sample image")
}

func (f *feature) Classify(in Input, mask *gocv.Mat, _ float64) (Result, error) {
	kps, err := f.extractor.Extract(in.Frame)
	if err != nil {
		return Result{}, fmt.Errorf("extract frame keypoints: %w", err)
	}
	det := f.matcher.Match(f.tpl, kps)
	box := det.Box.Intersect(image.Rect(0, 0, in.Frame.Cols(), in.Frame.Rows()))
	if box.Empty() {
		clearMask(mask)
		return Result{}, nil
	}
	boxes := []image.Rectangle{box}
	keepBoxes(mask, boxes)
	return Result{Boxes: boxes}, nil
}

func (f *feature) RenderDemo(dst *gocv.Mat, in *Input, res Result) {
	f.preview.render(dst, in, res)
}

func (f *feature) Persist(w io.Writer) error {
	_, err := f.tpl.WriteTo(w)
	return err
}

func (f *feature) Load(r io.Reader) error {
	tpl, err := features.ReadTemplate(r)
	if err != nil {
		return err
	}
	f.tpl = tpl
	return nil
}

func (f *feature) Close() {
	f.extractor.Close()
	f.preview.close()
}
