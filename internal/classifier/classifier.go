// Package classifier implements the trainable detectors run by the frame
// pipeline. Every classifier is a Variant tag plus an Algorithm payload that
// owns the variant's trained parameters.
package classifier

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/features"
	"github.com/ayusman/vistrain/internal/motion"
	"github.com/ayusman/vistrain/internal/training"
	"github.com/ayusman/vistrain/internal/trajectory"
)

var (
	// ErrInsufficientSamples is returned by Train when the sample set does not meet the variant's minimum.
	ErrInsufficientSamples = errors.New("insufficient training samples")
	// ErrPersistence wraps every failure to read or write a classifier directory.
	ErrPersistence = errors.New("classifier persistence failed")
	// ErrUnknownVariant is returned for unrecognised variant names.
	ErrUnknownVariant = errors.New("unknown classifier variant")
)

// Variant identifies the detection algorithm of a classifier.
type Variant int

const (
	VariantColor Variant = iota
	VariantShape
	VariantBrightness
	VariantFeature
	VariantAppearance
	VariantMotion
	VariantGesture
)

var variantKeys = [...]string{"color", "shape", "brightness", "sift", "adaboost", "motion", "gesture"}

// String returns the stable key used in directory and file names.
func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantKeys) {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantKeys[v]
}

// DisplayName returns the user-facing name from the configuration.
func (v Variant) DisplayName(cfg *config.Config) string {
	if v < 0 || int(v) >= len(cfg.VariantNames) {
		return v.String()
	}
	return cfg.VariantNames[v]
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	for i, k := range variantKeys {
		if k == s {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Input is what a classifier sees for one frame. Motion is only set when a
// motion classifier is active, Track only when a gesture classifier is.
type Input struct {
	Frame  gocv.Mat
	Motion *motion.Snapshot
	Track  *trajectory.MotionTrack
}

// Result describes one classification.
type Result struct {
	Boxes []image.Rectangle
	// Score and Label are set by the gesture variant.
	Score float64
	Label string
}

// Algorithm is the per-variant payload behind a Classifier.
//
// Classify refines mask in place: pixels it rules out are cleared.
// It must not change trained parameters.
type Algorithm interface {
	ContainsSufficientSamples(set *training.Set) bool
	Train(set *training.Set) error
	Classify(in Input, mask *gocv.Mat, threshold float64) (Result, error)
	// Persist encodes the trained parameters, Load restores them.
	Persist(w io.Writer) error
	Load(r io.Reader) error
	// RenderDemo draws a preview into dst. in is nil right after training.
	RenderDemo(dst *gocv.Mat, in *Input, res Result)
	Close()
}

// CascadeTrainer trains a boosted Haar cascade outside the process.
type CascadeTrainer interface {
	TrainCascade(job CascadeJob) ([]byte, error)
}

// CascadeJob points a CascadeTrainer at prepared sample images.
type CascadeJob struct {
	WorkDir     string
	PositiveDir string
	NegativeDir string
	Positives   int
	Negatives   int
	SampleSize  int
}

// Deps are the collaborators classifiers are built with.
type Deps struct {
	Log          logs.Log
	NewExtractor func() features.Extractor
	Cascade      CascadeTrainer
}

// Classifier wraps a variant algorithm with the state every variant shares.
type Classifier struct {
	id        string
	variant   Variant
	name      string
	threshold float64
	trained   bool
	onDisk    bool
	dir       string

	cfg  *config.Config
	deps Deps
	log  logs.Log
	algo Algorithm
	mu   sync.RWMutex

	// demo is redrawn by Classify, which only holds mu for reading.
	demoMu sync.Mutex
	demo   gocv.Mat
}

// New creates a fresh, untrained classifier of the given variant.
func New(variant Variant, cfg *config.Config, deps Deps) (*Classifier, error) {
	algo, err := newAlgorithm(variant, cfg, deps)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		id:        uuid.NewString(),
		variant:   variant,
		name:      variant.DisplayName(cfg),
		threshold: cfg.Classifier.Threshold,
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log,
		algo:      algo,
		demo:      gocv.NewMatWithSize(cfg.Demo.Height, cfg.Demo.Width, gocv.MatTypeCV8UC3),
	}
	return c, nil
}

func newAlgorithm(variant Variant, cfg *config.Config, deps Deps) (Algorithm, error) {
	switch variant {
	case VariantColor:
		return newHistogram(cfg, true), nil
	case VariantBrightness:
		return newHistogram(cfg, false), nil
	case VariantShape:
		return newShape(cfg), nil
	case VariantFeature:
		return newFeature(cfg, deps.NewExtractor), nil
	case VariantAppearance:
		return newAppearance(cfg, deps.Cascade), nil
	case VariantMotion:
		return newMotion(cfg), nil
	case VariantGesture:
		return newGesture(cfg)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, int(variant))
}

func (c *Classifier) ID() string       { return c.id }
func (c *Classifier) Variant() Variant { return c.variant }

func (c *Classifier) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Classifier) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

func (c *Classifier) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// SetThreshold clamps t to [0, 1].
func (c *Classifier) SetThreshold(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = min(max(t, 0), 1)
}

func (c *Classifier) IsTrained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trained
}

func (c *Classifier) IsOnDisk() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onDisk
}

// Dir returns the directory the classifier was last saved to or loaded from.
func (c *Classifier) Dir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dir
}

// NeedsMotion reports whether Classify consumes the motion history image.
func (c *Classifier) NeedsMotion() bool { return c.variant == VariantMotion }

// NeedsTrajectories reports whether Classify consumes the current best track.
func (c *Classifier) NeedsTrajectories() bool { return c.variant == VariantGesture }

// ContainsSufficientSamples is the precondition for Train.
func (c *Classifier) ContainsSufficientSamples(set *training.Set) bool {
	if set == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.algo.ContainsSufficientSamples(set)
}

// Train replaces the trained parameters with ones learnt from set. A
// classifier that was already saved is saved again.
//
// A fresh algorithm is trained without holding the lock, so Classify keeps
// running on the previous parameters until the new ones are swapped in.
func (c *Classifier) Train(set *training.Set) error {
	if !c.ContainsSufficientSamples(set) {
		return fmt.Errorf("%w: %s classifier %q", ErrInsufficientSamples, c.variant, c.Name())
	}

	algo, err := newAlgorithm(c.variant, c.cfg, c.deps)
	if err != nil {
		return err
	}
	if err := algo.Train(set); err != nil {
		algo.Close()
		return fmt.Errorf("train %s classifier: %w", c.variant, err)
	}

	c.mu.Lock()
	old := c.algo
	c.algo = algo
	c.trained = true
	c.renderDemo(nil, Result{})
	onDisk, dir := c.onDisk, c.dir
	c.mu.Unlock()
	old.Close()

	if c.log != nil {
		c.log.Infof("Trained %s classifier %q on %d samples", c.variant, c.Name(), set.Len())
	}
	if onDisk {
		return c.Save(dir)
	}
	return nil
}

// Classify refines mask for one frame. An untrained classifier leaves the
// mask untouched and returns an empty result.
func (c *Classifier) Classify(in Input, mask *gocv.Mat) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.trained {
		return Result{}, nil
	}
	res, err := c.algo.Classify(in, mask, c.threshold)
	if err != nil {
		return Result{}, err
	}
	c.renderDemo(&in, res)
	return res, nil
}

func (c *Classifier) renderDemo(in *Input, res Result) {
	c.demoMu.Lock()
	defer c.demoMu.Unlock()
	c.demo.SetTo(gocv.NewScalar(0, 0, 0, 0))
	c.algo.RenderDemo(&c.demo, in, res)
}

// Demo returns a copy of the latest preview image. The caller owns it.
func (c *Classifier) Demo() gocv.Mat {
	c.demoMu.Lock()
	defer c.demoMu.Unlock()
	return c.demo.Clone()
}

// Close releases the classifier's native resources.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.algo.Close()
	c.demoMu.Lock()
	c.demo.Close()
	c.demoMu.Unlock()
}
