package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Palette, 16)
	assert.Equal(t, []string{"Color", "Shape", "Brightness", "SIFT", "Adaboost", "Motion", "Gesture"}, cfg.VariantNames)
	assert.Equal(t, 0.5, cfg.Classifier.Threshold)
	assert.Equal(t, 20, cfg.Trajectory.MinLength)
}

func TestSwatch_Wraps(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Palette[0], cfg.Swatch(16))
	assert.Equal(t, cfg.Palette[3], cfg.Swatch(-3))
}

func TestParse_OverlaysDefaults(t *testing.T) {
	data := []byte(`{
		// comments and trailing commas are allowed
		"feature": {"ratio_threshold": 0.36, "seed": 7,},
		"trajectory": {"compat_zero_origin": false},
	}`)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 0.36, cfg.Feature.RatioThreshold)
	assert.Equal(t, int64(7), cfg.Feature.Seed)
	assert.False(t, cfg.Trajectory.CompatZeroOrigin)

	// untouched fields keep their defaults
	assert.Equal(t, 3.0, cfg.Feature.RansacError)
	assert.Equal(t, 16, cfg.Histogram.Bins)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"ratio too large", `{"feature": {"ratio_threshold": 1.2}}`},
		{"ring not power of two", `{"motion": {"ring_size": 3}}`},
		{"empty area band", `{"histogram": {"min_area": 500, "max_area": 100}}`},
		{"unknown metric", `{"gesture": {"metric": "cosine"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "vistrain.hujson")
	require.NoError(t, os.WriteFile(good, []byte(`{"demo": {"width": 320}}`), 0644))
	cfg, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Demo.Width)
	assert.Equal(t, 180, cfg.Demo.Height)

	bad := filepath.Join(dir, "vistrain.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`demo: {}`), 0644))
	_, err = Load(bad)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
