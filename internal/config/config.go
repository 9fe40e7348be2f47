// Package config holds the read-only settings shared by every vistrain component.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ErrInvalid is returned by Validate when a setting is out of range.
var ErrInvalid = errors.New("invalid config")

const maxFileSize = 1 * 1024 * 1024

// Config is built once at startup and must not be mutated afterwards.
// Components keep a pointer to it.
type Config struct {
	Palette      []color.RGBA      `json:"-"`
	VariantNames []string          `json:"-"`
	Histogram    HistogramConfig   `json:"histogram"`
	Shape        ShapeConfig       `json:"shape"`
	Motion       MotionConfig      `json:"motion"`
	Trajectory   TrajectoryConfig  `json:"trajectory"`
	Gesture      GestureConfig     `json:"gesture"`
	Feature      FeatureConfig     `json:"feature"`
	Appearance   AppearanceConfig  `json:"appearance"`
	Blob         BlobConfig        `json:"blob"`
	Demo         DemoConfig        `json:"demo"`
	Classifier   ClassifierDefault `json:"classifier"`
}

// HistogramConfig tunes the Brightness and Color variants.
type HistogramConfig struct {
	Bins    int     `json:"bins"`
	MinArea float64 `json:"min_area"`
	MaxArea float64 `json:"max_area"`
	VMin    int     `json:"vmin"`
	VMax    int     `json:"vmax"`
	SMin    int     `json:"smin"`
}

type ShapeConfig struct {
	MinLength           float64 `json:"min_length"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	CannyLow            float32 `json:"canny_low"`
	CannyHigh           float32 `json:"canny_high"`
}

// MotionConfig tunes the motion history image and the Motion variant.
// Durations and deltas are measured in frames.
type MotionConfig struct {
	DurationFrames   float64 `json:"duration_frames"`
	DiffThreshold    int     `json:"diff_threshold"`
	RingSize         int     `json:"ring_size"`
	MinComponentArea int     `json:"min_component_area"`
	MaxTimeDelta     float64 `json:"max_time_delta"`
	MinTimeDelta     float64 `json:"min_time_delta"`
	AngleTolerance   float64 `json:"angle_tolerance"`
}

type TrajectoryConfig struct {
	MinLength        int  `json:"min_length"`
	MaxStaleFrames   int  `json:"max_stale_frames"`
	CompatZeroOrigin bool `json:"compat_zero_origin"`
}

type GestureConfig struct {
	RhoMax         float64 `json:"rho_max"`
	ResampleLength int     `json:"resample_length"`
	Metric         string  `json:"metric"`
}

type FeatureConfig struct {
	RatioThreshold float64 `json:"ratio_threshold"`
	RansacError    float64 `json:"ransac_error"`
	RansacProb     float64 `json:"ransac_prob"`
	MinRansac      int     `json:"min_ransac"`
	MaxIterations  int     `json:"max_iterations"`
	Seed           int64   `json:"seed"`
}

type AppearanceConfig struct {
	SampleSize    int    `json:"sample_size"`
	MaxSamples    int    `json:"max_samples"`
	MinPositive   int    `json:"min_positive"`
	MinNegative   int    `json:"min_negative"`
	TrainerPlugin string `json:"trainer_plugin"`
	PluginDir     string `json:"plugin_dir"`
	TimeoutMs     int    `json:"timeout_ms"`
}

// BlobConfig tunes foreground segmentation and blob association.
type BlobConfig struct {
	MinArea     float64 `json:"min_area"`
	MaxNoMatch  int     `json:"max_no_match"`
	SearchSlack int     `json:"search_slack"`
}

type DemoConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ClassifierDefault struct {
	Threshold float64 `json:"threshold"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Palette:      defaultPalette(),
		VariantNames: []string{"Color", "Shape", "Brightness", "SIFT", "Adaboost", "Motion", "Gesture"},
		Histogram: HistogramConfig{
			Bins:    16,
			MinArea: 100,
			MaxArea: 120000,
			VMin:    15,
			VMax:    230,
			SMin:    30,
		},
		Shape: ShapeConfig{
			MinLength:           100,
			SimilarityThreshold: 0.2,
			CannyLow:            50,
			CannyHigh:           150,
		},
		Motion: MotionConfig{
			DurationFrames:   15,
			DiffThreshold:    30,
			RingSize:         4,
			MinComponentArea: 100,
			MaxTimeDelta:     7,
			MinTimeDelta:     1,
			AngleTolerance:   30,
		},
		Trajectory: TrajectoryConfig{
			MinLength:        20,
			MaxStaleFrames:   15,
			CompatZeroOrigin: true,
		},
		Gesture: GestureConfig{
			RhoMax:         1.5,
			ResampleLength: 32,
			Metric:         "dtw",
		},
		Feature: FeatureConfig{
			RatioThreshold: 0.49,
			RansacError:    3.0,
			RansacProb:     0.01,
			MinRansac:      4,
			MaxIterations:  500,
			Seed:           1,
		},
		Appearance: AppearanceConfig{
			SampleSize:    24,
			MaxSamples:    100,
			MinPositive:   3,
			MinNegative:   3,
			TrainerPlugin: "traincascade",
			TimeoutMs:     10 * 60 * 1000,
		},
		Blob: BlobConfig{
			MinArea:     100,
			MaxNoMatch:  15,
			SearchSlack: 16,
		},
		Demo:       DemoConfig{Width: 240, Height: 180},
		Classifier: ClassifierDefault{Threshold: 0.5},
	}
}

func defaultPalette() []color.RGBA {
	hex := [][3]uint8{
		{0x45, 0x8A, 0x8A}, {0xE6, 0xA1, 0x73}, {0xE6, 0xC3, 0x73}, {0x5C, 0x5C, 0xA1},
		{0x40, 0x80, 0x80}, {0x80, 0x59, 0x40}, {0x80, 0x6C, 0x40}, {0x49, 0x49, 0x80},
		{0xCF, 0xE6, 0xE6}, {0xE6, 0xD8, 0xCF}, {0xE6, 0xDF, 0xCF}, {0xD2, 0xD2, 0xE6},
		{0x30, 0xBF, 0xBF}, {0xBF, 0x69, 0x30}, {0xBF, 0x94, 0x30}, {0x44, 0x44, 0xBF},
	}
	p := make([]color.RGBA, len(hex))
	for i, c := range hex {
		p[i] = color.RGBA{R: c[0], G: c[1], B: c[2], A: 0xFF}
	}
	return p
}

// Swatch returns the palette colour for slot i, wrapping around.
func (c *Config) Swatch(i int) color.RGBA {
	if i < 0 {
		i = -i
	}
	return c.Palette[i%len(c.Palette)]
}

// Load reads a JSON (or HuJSON) file and overlays it onto Default.
// Fields omitted from the file keep their default values.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".hujson" {
		return nil, fmt.Errorf("config file must have .json or .hujson extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes HuJSON bytes onto Default and validates the result.
func Parse(data []byte) (*Config, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every tuning value is usable.
func (c *Config) Validate() error {
	switch {
	case c.Histogram.Bins <= 0 || c.Histogram.Bins > 256:
		return fmt.Errorf("%w: histogram.bins must be in (0, 256], got %d", ErrInvalid, c.Histogram.Bins)
	case c.Histogram.MinArea < 0 || c.Histogram.MaxArea <= c.Histogram.MinArea:
		return fmt.Errorf("%w: histogram area band [%v, %v] is empty", ErrInvalid, c.Histogram.MinArea, c.Histogram.MaxArea)
	case c.Motion.RingSize < 2 || c.Motion.RingSize&(c.Motion.RingSize-1) != 0:
		return fmt.Errorf("%w: motion.ring_size must be a power of two >= 2, got %d", ErrInvalid, c.Motion.RingSize)
	case c.Motion.DurationFrames <= 0:
		return fmt.Errorf("%w: motion.duration_frames must be positive", ErrInvalid)
	case c.Motion.MinTimeDelta > c.Motion.MaxTimeDelta:
		return fmt.Errorf("%w: motion.min_time_delta exceeds motion.max_time_delta", ErrInvalid)
	case c.Trajectory.MinLength < 0:
		return fmt.Errorf("%w: trajectory.min_length must not be negative", ErrInvalid)
	case c.Gesture.RhoMax < 1:
		return fmt.Errorf("%w: gesture.rho_max must be >= 1, got %v", ErrInvalid, c.Gesture.RhoMax)
	case c.Gesture.Metric != "dtw" && c.Gesture.Metric != "resampled":
		return fmt.Errorf("%w: gesture.metric must be \"dtw\" or \"resampled\", got %q", ErrInvalid, c.Gesture.Metric)
	case c.Gesture.ResampleLength < 2:
		return fmt.Errorf("%w: gesture.resample_length must be >= 2", ErrInvalid)
	case c.Feature.RatioThreshold <= 0 || c.Feature.RatioThreshold >= 1:
		return fmt.Errorf("%w: feature.ratio_threshold must be in (0, 1), got %v", ErrInvalid, c.Feature.RatioThreshold)
	case c.Feature.MinRansac < 4:
		return fmt.Errorf("%w: feature.min_ransac must be >= 4", ErrInvalid)
	case c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1:
		return fmt.Errorf("%w: classifier.threshold must be in [0, 1]", ErrInvalid)
	case c.Demo.Width <= 0 || c.Demo.Height <= 0:
		return fmt.Errorf("%w: demo size must be positive", ErrInvalid)
	}
	return nil
}
