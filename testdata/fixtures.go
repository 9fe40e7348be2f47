// Package testdata generates synthetic frames and clips for tests.
package testdata

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	Dark   = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	Bright = color.RGBA{R: 220, G: 220, B: 220, A: 255}
)

func scalar(c color.RGBA) gocv.Scalar {
	return gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0)
}

// Frame returns a BGR frame of the given size filled with bg.
func Frame(width, height int, bg color.RGBA) *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(scalar(bg), height, width, gocv.MatTypeCV8UC3)
	return &m
}

// FillRect paints r, clipped to the frame, with c.
func FillRect(m *gocv.Mat, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(image.Rect(0, 0, m.Cols(), m.Rows()))
	if r.Empty() {
		return
	}
	region := m.Region(r)
	region.SetTo(scalar(c))
	region.Close()
}

// FrameWithSquare is a dark frame holding one bright square.
func FrameWithSquare(width, height int, square image.Rectangle) *gocv.Mat {
	m := Frame(width, height, Dark)
	FillRect(m, square, Bright)
	return m
}

// MovingSquare returns n dark frames with a bright square of side size whose
// top-left corner moves linearly from `from` to `to`.
func MovingSquare(width, height, size int, from, to image.Point, n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		p := image.Pt(
			from.X+int(t*float64(to.X-from.X)),
			from.Y+int(t*float64(to.Y-from.Y)),
		)
		frames[i] = FrameWithSquare(width, height, image.Rectangle{Min: p, Max: p.Add(image.Pt(size, size))})
	}
	return frames
}

// Repeat returns n references to frame.
func Repeat(frame *gocv.Mat, n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = frame
	}
	return frames
}

// CloseAll releases every distinct frame.
func CloseAll(frames []*gocv.Mat) {
	seen := make(map[*gocv.Mat]bool)
	for _, f := range frames {
		if f != nil && !seen[f] {
			seen[f] = true
			f.Close()
		}
	}
}

// ErrNoEncoder is returned by WriteClip when OpenCV cannot encode MJPG.
var ErrNoEncoder = errors.New("MJPG encoder unavailable")

// WriteClip encodes frames into an MJPG .avi file.
func WriteClip(path string, frames []*gocv.Mat, fps float64) error {
	if len(frames) == 0 {
		return errors.New("no frames to write")
	}
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, frames[0].Cols(), frames[0].Rows(), true)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer w.Close()
	if !w.IsOpened() {
		return ErrNoEncoder
	}
	for _, f := range frames {
		if err := w.Write(*f); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
