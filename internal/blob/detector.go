// Package blob segments moving foreground blobs and follows them from frame
// to frame, feeding the trajectory tracker.
package blob

import (
	"image"

	"gocv.io/x/gocv"
)

// Blob is one foreground region.
type Blob struct {
	Box  image.Rectangle
	Area float64
}

// Center returns the centre of the blob's box.
func (b Blob) Center() (float64, float64) {
	return float64(b.Box.Min.X+b.Box.Max.X) / 2, float64(b.Box.Min.Y+b.Box.Max.Y) / 2
}

// Detector defines the interface for foreground blob detection.
type Detector interface {
	// Detect analyzes a video frame and returns the foreground blobs.
	// Returns an empty slice if nothing moves.
	Detect(frame *gocv.Mat) ([]Blob, error)

	// Close releases any resources held by the detector.
	Close() error
}
