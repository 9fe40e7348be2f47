package classifier

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/training"
)

// ErrNoCascadeTrainer is returned when an appearance classifier is trained
// without an external trainer.
var ErrNoCascadeTrainer = errors.New("no cascade trainer configured")

// appearance backs the Adaboost variant: a boosted Haar cascade trained by
// an external tool and evaluated with OpenCV.
type appearance struct {
	cfg     config.AppearanceConfig
	trainer CascadeTrainer
	xml     []byte
	cascade *gocv.CascadeClassifier
	preview
}

func newAppearance(cfg *config.Config, trainer CascadeTrainer) *appearance {
	return &appearance{
		cfg:     cfg.Appearance,
		trainer: trainer,
		preview: preview{color: cfg.Swatch(int(VariantAppearance))},
	}
}

func (a *appearance) ContainsSufficientSamples(set *training.Set) bool {
	c := set.Counts()
	return c.Positive >= a.cfg.MinPositive && c.Negative >= a.cfg.MinNegative
}

// writeSamples stores up to MaxSamples sample images in dir as PNG files.
// When size is positive the images are scaled to size x size.
func (a *appearance) writeSamples(dir string, samples []*training.Sample, size int) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	n := 0
	for _, s := range samples {
		if n >= a.cfg.MaxSamples {
			break
		}
		if s.Image == nil || s.Image.Empty() {
			continue
		}
		img := toGray(*s.Image)
		if size > 0 {
			scaled := gocv.NewMat()
			gocv.Resize(img, &scaled, image.Pt(size, size), 0, 0, gocv.InterpolationArea)
			img.Close()
			img = scaled
		}
		path := filepath.Join(dir, fmt.Sprintf("%04d.png", n))
		ok := gocv.IMWrite(path, img)
		img.Close()
		if !ok {
			return n, fmt.Errorf("write %s", path)
		}
		n++
	}
	return n, nil
}

func (a *appearance) Train(set *training.Set) error {
	if a.trainer == nil {
		return ErrNoCascadeTrainer
	}
	work, err := os.MkdirTemp("", "vistrain-cascade-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	job := CascadeJob{
		WorkDir:     work,
		PositiveDir: filepath.Join(work, "pos"),
		NegativeDir: filepath.Join(work, "neg"),
		SampleSize:  a.cfg.SampleSize,
	}
	if job.Positives, err = a.writeSamples(job.PositiveDir, set.ByGroup(training.GroupPositive), a.cfg.SampleSize); err != nil {
		return fmt.Errorf("write positive samples: %w", err)
	}
	if job.Negatives, err = a.writeSamples(job.NegativeDir, set.ByGroup(training.GroupNegative), 0); err != nil {
		return fmt.Errorf("write negative samples: %w", err)
	}

	xml, err := a.trainer.TrainCascade(job)
	if err != nil {
		return fmt.Errorf("train cascade: %w", err)
	}
	if err := a.setCascade(xml); err != nil {
		return err
	}
	a.preview.set(set)
	return nil
}

// setCascade loads xml into a fresh OpenCV cascade, replacing the old one.
func (a *appearance) setCascade(xml []byte) error {
	f, err := os.CreateTemp("", "vistrain-cascade-*.xml")
	if err != nil {
		return err
	}
	path := f.Name()
	defer os.Remove(path)
	_, err = f.Write(xml)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	cc := gocv.NewCascadeClassifier()
	if !cc.Load(path) {
		cc.Close()
		return errors.New("cascade file rejected by OpenCV")
	}
	if a.cascade != nil {
		a.cascade.Close()
	}
	a.cascade = &cc
	a.xml = xml
	return nil
}

func (a *appearance) Classify(in Input, mask *gocv.Mat, _ float64) (Result, error) {
	if a.cascade == nil {
		return Result{}, errors.New("cascade not loaded")
	}
	gray := toGray(in.Frame)
	defer gray.Close()
	boxes := a.cascade.DetectMultiScale(gray)
	keepBoxes(mask, boxes)
	return Result{Boxes: boxes}, nil
}

func (a *appearance) RenderDemo(dst *gocv.Mat, in *Input, res Result) {
	a.preview.render(dst, in, res)
}

// Data: the cascade XML as written by the trainer.
func (a *appearance) Persist(w io.Writer) error {
	_, err := w.Write(a.xml)
	return err
}

func (a *appearance) Load(r io.Reader) error {
	xml, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return err
	}
	return a.setCascade(xml)
}

func (a *appearance) Close() {
	if a.cascade != nil {
		a.cascade.Close()
		a.cascade = nil
	}
	a.preview.close()
}
