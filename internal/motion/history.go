// Package motion maintains a motion history image (MHI) over a video stream.
package motion

import (
	"fmt"
	"sync"

	"github.com/bmharper/ringbuffer"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
)

// History keeps the last RingSize grayscale frames and a per-pixel
// timestamp plane. Each frame is differenced against the one RingSize-1
// frames before it. A pixel's value is the frame index at which motion was
// last seen there, or 0 once that motion is older than DurationFrames.
type History struct {
	cfg       config.MotionConfig
	width     int
	height    int
	ring      ringbuffer.RingP[[]byte]
	mhi       []float32
	silh      []byte
	timestamp float64
	mu        sync.Mutex
}

// Snapshot is an immutable copy of the MHI at one timestamp.
type Snapshot struct {
	Width     int
	Height    int
	Timestamp float64
	Duration  float64
	MHI       []float32
}

// NewHistory allocates an MHI for frames of the given size.
func NewHistory(cfg config.MotionConfig, width, height int) *History {
	return &History{
		cfg:    cfg,
		width:  width,
		height: height,
		ring:   newFrameRing(cfg.RingSize),
		mhi:    make([]float32, width*height),
		silh:   make([]byte, width*height),
	}
}

// newFrameRing returns a ring that holds at least n frames. RingP keeps one
// slot free, so a ring sized n would only hold n-1.
func newFrameRing(n int) ringbuffer.RingP[[]byte] {
	return ringbuffer.NewRingP[[]byte](2 * n)
}

// Update converts frame to grayscale, differences it against the frame
// RingSize-1 steps back (the oldest one while the ring fills) and stamps moving pixels with the current frame index.
// It returns the number of pixels flagged as moving.
func (h *History) Update(frame gocv.Mat) (int, error) {
	if frame.Empty() {
		return 0, fmt.Errorf("motion: empty frame")
	}
	if frame.Cols() != h.width || frame.Rows() != h.height {
		return 0, fmt.Errorf("motion: frame is %dx%d, history is %dx%d", frame.Cols(), frame.Rows(), h.width, h.height)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	return h.updateGray(gray.ToBytes()), nil
}

func (h *History) updateGray(gray []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.timestamp++
	h.ring.Add(gray)
	if h.ring.Len() < 2 {
		return 0
	}

	oldest := h.ring.Peek(max(h.ring.Len()-h.cfg.RingSize, 0))
	threshold := h.cfg.DiffThreshold
	moving := 0
	for i := range gray {
		d := int(gray[i]) - int(oldest[i])
		if d < 0 {
			d = -d
		}
		if d > threshold {
			h.silh[i] = 1
			moving++
		} else {
			h.silh[i] = 0
		}
	}

	ts := float32(h.timestamp)
	expiry := float32(h.timestamp - h.cfg.DurationFrames)
	for i, s := range h.silh {
		if s != 0 {
			h.mhi[i] = ts
		} else if h.mhi[i] < expiry {
			h.mhi[i] = 0
		}
	}
	return moving
}

// Timestamp returns the index of the most recent frame.
func (h *History) Timestamp() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timestamp
}

// Snapshot copies the current MHI.
func (h *History) Snapshot() *Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	mhi := make([]float32, len(h.mhi))
	copy(mhi, h.mhi)
	return &Snapshot{
		Width:     h.width,
		Height:    h.height,
		Timestamp: h.timestamp,
		Duration:  h.cfg.DurationFrames,
		MHI:       mhi,
	}
}

// Reset clears the ring and the timestamp plane.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring = newFrameRing(h.cfg.RingSize)
	for i := range h.mhi {
		h.mhi[i] = 0
		h.silh[i] = 0
	}
	h.timestamp = 0
}

// Image renders the snapshot as an 8-bit grayscale Mat where recent motion is bright.
// The caller owns the returned Mat.
func (s *Snapshot) Image() (gocv.Mat, error) {
	buf := make([]byte, len(s.MHI))
	oldest := s.Timestamp - s.Duration
	for i, v := range s.MHI {
		if v == 0 {
			continue
		}
		w := (float64(v) - oldest) / s.Duration
		if w > 0 {
			buf[i] = byte(255 * min(w, 1))
		}
	}
	return gocv.NewMatFromBytes(s.Height, s.Width, gocv.MatTypeCV8UC1, buf)
}
