package motion

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
)

const (
	testW = 80
	testH = 60
)

// squareFrame draws a bright size x size square at (x, y) on a dark gray plane.
func squareFrame(x, y, size int) []byte {
	buf := make([]byte, testW*testH)
	for r := y; r < y+size && r < testH; r++ {
		for c := x; c < x+size && c < testW; c++ {
			buf[r*testW+c] = 220
		}
	}
	return buf
}

func TestHistory_StaticSceneHasNoMotion(t *testing.T) {
	h := NewHistory(config.Default().Motion, testW, testH)
	for i := 0; i < 6; i++ {
		assert.Equal(t, 0, h.updateGray(squareFrame(10, 10, 12)))
	}
	snap := h.Snapshot()
	assert.Equal(t, 6.0, snap.Timestamp)
	assert.Empty(t, snap.Components(1))
}

func TestHistory_MovingSquareStampsAndDecays(t *testing.T) {
	cfg := config.Default().Motion
	h := NewHistory(cfg, testW, testH)

	for i := 0; i < 10; i++ {
		h.updateGray(squareFrame(5+3*i, 20, 12))
	}
	snap := h.Snapshot()
	comps := snap.Components(10)
	require.NotEmpty(t, comps)

	deg, ok := snap.GlobalOrientation(cfg.MinTimeDelta, cfg.MaxTimeDelta)
	require.True(t, ok)
	assert.Less(t, AngleDiff(deg, 0), 30.0, "square moving right, got %v degrees", deg)

	// with a still scene every stamp eventually ages out of the window
	still := squareFrame(5+3*9, 20, 12)
	for i := 0; i < int(cfg.DurationFrames)+cfg.RingSize+2; i++ {
		h.updateGray(still)
	}
	snap = h.Snapshot()
	for i, v := range snap.MHI {
		if v != 0 {
			t.Fatalf("pixel %d still stamped with %v", i, v)
		}
	}
}

func uniformFrame(v byte) []byte {
	buf := make([]byte, testW*testH)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func TestHistory_DiffersAgainstFrameRingSizeMinusOneBack(t *testing.T) {
	cfg := config.Default().Motion
	require.Equal(t, 4, cfg.RingSize)
	h := NewHistory(cfg, testW, testH)

	// frames 1-3 dark, then the scene brightens for good at frame 4
	values := []byte{0, 0, 0, 100, 100, 100, 100, 100}
	want := []int{0, 0, 0, testW * testH, testW * testH, testW * testH, 0, 0}
	for i, v := range values {
		assert.Equal(t, want[i], h.updateGray(uniformFrame(v)), "frame %d", i+1)
	}
	assert.GreaterOrEqual(t, h.ring.Len(), cfg.RingSize)
}

func TestHistory_Reset(t *testing.T) {
	h := NewHistory(config.Default().Motion, testW, testH)
	h.updateGray(squareFrame(0, 0, 10))
	h.updateGray(squareFrame(20, 20, 10))
	require.NotZero(t, h.Timestamp())

	h.Reset()
	assert.Zero(t, h.Timestamp())
	assert.Empty(t, h.Snapshot().Components(1))
}

func TestAngleDiff(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{10, 350, 20},
		{90, 270, 180},
		{45, 90, 45},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, AngleDiff(tt.a, tt.b), 1e-9)
	}
}

func TestHistory_UpdateRejectsWrongSize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
	h := NewHistory(config.Default().Motion, testW, testH)
	frame := gocv.NewMatWithSize(testH+1, testW, gocv.MatTypeCV8UC3)
	defer frame.Close()

	_, err := h.Update(frame)
	assert.Error(t, err)

	ok := gocv.NewMatWithSize(testH, testW, gocv.MatTypeCV8UC3)
	defer ok.Close()
	_, err = h.Update(ok)
	assert.NoError(t, err)
}

func TestSnapshot_ComponentsAreFourConnected(t *testing.T) {
	const w, h = 20, 10
	snap := &Snapshot{Width: w, Height: h, Timestamp: 20, Duration: 15, MHI: make([]float32, w*h)}
	stamp := func(r image.Rectangle, v float32) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				snap.MHI[y*w+x] = v
			}
		}
	}
	stamp(image.Rect(2, 1, 6, 4), 18)
	// touches the first block only at a corner
	stamp(image.Rect(6, 4, 9, 7), 19)
	// expired motion is ignored
	stamp(image.Rect(12, 1, 18, 8), 2)
	stamp(image.Rect(15, 8, 16, 9), 20)

	comps := snap.Components(2)
	require.Len(t, comps, 2)
	assert.Equal(t, image.Rect(2, 1, 6, 4), comps[0].Bounds)
	assert.Equal(t, 12, comps[0].Area)
	assert.Len(t, comps[0].Pixels(), 12)
	assert.Equal(t, image.Rect(6, 4, 9, 7), comps[1].Bounds)
	assert.Equal(t, 9, comps[1].Area)

	assert.Len(t, snap.Components(1), 3)
}
