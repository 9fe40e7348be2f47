// Package sink holds OutputSink implementations for the frame pipeline.
package sink

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/pipeline"
)

// Regions returns the detected boxes of one classifier output. A mask that
// is still fully on means the classifier did not restrict anything (it is
// untrained or passes everything) and yields no regions.
func Regions(mask gocv.Mat, contours gocv.PointsVector) []image.Rectangle {
	if mask.Empty() || gocv.CountNonZero(mask) == mask.Rows()*mask.Cols() {
		return nil
	}
	return pipeline.ContourBoxes(contours)
}

func largest(boxes []image.Rectangle) image.Rectangle {
	var best image.Rectangle
	for _, b := range boxes {
		if b.Dx()*b.Dy() > best.Dx()*best.Dy() {
			best = b
		}
	}
	return best
}
