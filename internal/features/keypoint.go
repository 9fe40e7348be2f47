// Package features matches keypoint descriptors between a trained sample and
// a frame, and verifies the match geometrically with a RANSAC homography.
package features

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Point is a location in image coordinates.
type Point struct {
	X, Y float64
}

// Keypoint is a detected interest point with its descriptor vector.
type Keypoint struct {
	Point
	Descriptor []float64
}

// Extractor detects keypoints and computes their descriptors.
type Extractor interface {
	Extract(img gocv.Mat) ([]Keypoint, error)
	Close() error
}

// SIFTExtractor extracts SIFT keypoints with OpenCV.
type SIFTExtractor struct {
	sift gocv.SIFT
}

func NewSIFTExtractor() *SIFTExtractor {
	return &SIFTExtractor{sift: gocv.NewSIFT()}
}

// Extract converts img to grayscale and runs SIFT on it.
func (e *SIFTExtractor) Extract(img gocv.Mat) ([]Keypoint, error) {
	if img.Empty() {
		return nil, fmt.Errorf("features: empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() > 1 {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	} else {
		img.CopyTo(&gray)
	}

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := e.sift.DetectAndCompute(gray, mask)
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() {
		return nil, nil
	}
	if desc.Rows() != len(kps) {
		return nil, fmt.Errorf("features: %d keypoints but %d descriptors", len(kps), desc.Rows())
	}

	out := make([]Keypoint, len(kps))
	cols := desc.Cols()
	for i, kp := range kps {
		vec := make([]float64, cols)
		for c := 0; c < cols; c++ {
			vec[c] = float64(desc.GetFloatAt(i, c))
		}
		out[i] = Keypoint{Point: Point{X: kp.X, Y: kp.Y}, Descriptor: vec}
	}
	return out, nil
}

func (e *SIFTExtractor) Close() error {
	return e.sift.Close()
}

// boundingBox returns the smallest integer rectangle containing pts.
func boundingBox(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	return image.Rect(int(minX), int(minY), int(maxX+0.999999), int(maxY+0.999999))
}
