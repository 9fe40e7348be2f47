package classifier

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/training"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// AllOn returns a mask of the given size with every pixel set.
func AllOn(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), rows, cols, gocv.MatTypeCV8UC1)
}

func clearMask(mask *gocv.Mat) {
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

// fillRect sets every pixel of r, clipped to m, to v.
func fillRect(m *gocv.Mat, r image.Rectangle, v gocv.Scalar) {
	r = r.Intersect(image.Rect(0, 0, m.Cols(), m.Rows()))
	if r.Empty() {
		return
	}
	region := m.Region(r)
	defer region.Close()
	region.SetTo(v)
}

// keepBoxes clears every mask pixel outside boxes.
func keepBoxes(mask *gocv.Mat, boxes []image.Rectangle) {
	keep := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)
	defer keep.Close()
	for _, b := range boxes {
		fillRect(&keep, b, gocv.NewScalar(255, 0, 0, 0))
	}
	gocv.BitwiseAnd(*mask, keep, mask)
}

// contourBoxes returns the bounding boxes of the external contours of bin
// whose area lies strictly inside (minArea, maxArea).
func contourBoxes(bin gocv.Mat, minArea, maxArea float64) []image.Rectangle {
	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if area := gocv.ContourArea(c); area > minArea && area < maxArea {
			boxes = append(boxes, gocv.BoundingRect(c))
		}
	}
	return boxes
}

// toGray returns a single-channel copy of img. The caller owns it.
func toGray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}
	return gray
}

// toBGR returns a three-channel copy of img. The caller owns it.
func toBGR(img gocv.Mat) gocv.Mat {
	bgr := gocv.NewMat()
	switch img.Channels() {
	case 1:
		gocv.CvtColor(img, &bgr, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(img, &bgr, gocv.ColorBGRAToBGR)
	default:
		img.CopyTo(&bgr)
	}
	return bgr
}

// fitInto scales src to dst's size, converting to three channels.
func fitInto(dst *gocv.Mat, src gocv.Mat) {
	if src.Empty() || dst.Empty() {
		return
	}
	bgr := toBGR(src)
	defer bgr.Close()
	gocv.Resize(bgr, dst, image.Pt(dst.Cols(), dst.Rows()), 0, 0, gocv.InterpolationLinear)
}

// drawScaledBoxes outlines boxes given in src coordinates on a dst that src was fitted into.
func drawScaledBoxes(dst *gocv.Mat, srcSize image.Point, boxes []image.Rectangle, c color.RGBA) {
	if srcSize.X == 0 || srcSize.Y == 0 {
		return
	}
	sx := float64(dst.Cols()) / float64(srcSize.X)
	sy := float64(dst.Rows()) / float64(srcSize.Y)
	for _, b := range boxes {
		r := image.Rect(int(float64(b.Min.X)*sx), int(float64(b.Min.Y)*sy), int(float64(b.Max.X)*sx), int(float64(b.Max.Y)*sy))
		gocv.Rectangle(dst, r, c, 2)
	}
}

// preview is the demo of the frame-based variants: the first positive
// sample after training and the annotated frame after classification.
type preview struct {
	img   *gocv.Mat
	color color.RGBA
}

func (p *preview) set(set *training.Set) {
	p.close()
	for _, s := range set.ByGroup(training.GroupPositive) {
		if s.Image != nil && !s.Image.Empty() {
			img := s.Image.Clone()
			p.img = &img
			return
		}
	}
}

func (p *preview) render(dst *gocv.Mat, in *Input, res Result) {
	if in == nil {
		if p.img != nil {
			fitInto(dst, *p.img)
		}
		return
	}
	fitInto(dst, in.Frame)
	drawScaledBoxes(dst, image.Pt(in.Frame.Cols(), in.Frame.Rows()), res.Boxes, p.color)
}

func (p *preview) close() {
	if p.img != nil {
		p.img.Close()
		p.img = nil
	}
}
