package classifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/training"
)

// shape backs the Shape variant: frame contours that match a trained
// contour under the Hu-moment I1 distance are reported.
type shape struct {
	cfg       config.ShapeConfig
	templates []gocv.PointVector
	preview
}

func newShape(cfg *config.Config) *shape {
	return &shape{cfg: cfg.Shape, preview: preview{color: cfg.Swatch(int(VariantShape))}}
}

// eachContour calls fn for every edge contour of img longer than MinLength
// that encloses some area. c is only valid during the call.
func (s *shape) eachContour(img gocv.Mat, fn func(c gocv.PointVector)) {
	gray := toGray(img)
	defer gray.Close()
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, s.cfg.CannyLow, s.cfg.CannyHigh)

	pv := gocv.FindContours(edges, gocv.RetrievalList, gocv.ChainApproxNone)
	defer pv.Close()

	for i := 0; i < pv.Size(); i++ {
		c := pv.At(i)
		if gocv.ArcLength(c, true) <= s.cfg.MinLength || gocv.ContourArea(c) < 1 {
			continue
		}
		fn(c)
	}
}

// matches reports whether c is within SimilarityThreshold of any template.
func (s *shape) matches(c gocv.PointVector) bool {
	for _, t := range s.templates {
		if gocv.MatchShapes(c, t, gocv.ContoursMatchI1, 0) < s.cfg.SimilarityThreshold {
			return true
		}
	}
	return false
}

func (s *shape) setTemplates(points [][]image.Point) {
	s.closeTemplates()
	s.templates = make([]gocv.PointVector, len(points))
	for i, pts := range points {
		s.templates[i] = gocv.NewPointVectorFromPoints(pts)
	}
}

func (s *shape) closeTemplates() {
	for _, t := range s.templates {
		t.Close()
	}
	s.templates = nil
}

func (s *shape) ContainsSufficientSamples(set *training.Set) bool {
	return set.Counts().Positive >= 1
}

func (s *shape) Train(set *training.Set) error {
	var points [][]image.Point
	for _, sample := range set.ByGroup(training.GroupPositive) {
		if sample.Image == nil || sample.Image.Empty() {
			continue
		}
		s.eachContour(*sample.Image, func(c gocv.PointVector) {
			points = append(points, c.ToPoints())
		})
	}
	if len(points) == 0 {
		return fmt.Errorf("no contour longer than %v in the positive samples", s.cfg.MinLength)
	}
	s.setTemplates(points)
	s.preview.set(set)
	return nil
}

func (s *shape) Classify(in Input, mask *gocv.Mat, _ float64) (Result, error) {
	if in.Frame.Empty() {
		return Result{}, errors.New("empty frame")
	}
	var boxes []image.Rectangle
	s.eachContour(in.Frame, func(c gocv.PointVector) {
		if s.matches(c) {
			boxes = append(boxes, gocv.BoundingRect(c))
		}
	})
	keepBoxes(mask, boxes)
	return Result{Boxes: boxes}, nil
}

func (s *shape) RenderDemo(dst *gocv.Mat, in *Input, res Result) {
	s.preview.render(dst, in, res)
}

// Data: int32 template count, then per template an int32 point count
// followed by int32 x, y pairs.
func (s *shape) Persist(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s.templates))); err != nil {
		return err
	}
	for _, t := range s.templates {
		pts := t.ToPoints()
		flat := make([]int32, 0, 2*len(pts))
		for _, p := range pts {
			flat = append(flat, int32(p.X), int32(p.Y))
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(pts))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, flat); err != nil {
			return err
		}
	}
	return nil
}

const maxShapePoints = 1 << 20

func (s *shape) Load(r io.Reader) error {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read template count: %w", err)
	}
	if n < 0 || n > 1<<16 {
		return fmt.Errorf("invalid template count %d", n)
	}
	points := make([][]image.Point, n)
	total := 0
	for i := range points {
		var m int32
		if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
			return fmt.Errorf("read template %d: %w", i, err)
		}
		total += int(m)
		if m < 0 || total > maxShapePoints {
			return fmt.Errorf("invalid point count %d in template %d", m, i)
		}
		flat := make([]int32, 2*m)
		if err := binary.Read(r, binary.LittleEndian, flat); err != nil {
			return fmt.Errorf("read template %d: %w", i, err)
		}
		pts := make([]image.Point, m)
		for j := range pts {
			pts[j] = image.Pt(int(flat[2*j]), int(flat[2*j+1]))
		}
		points[i] = pts
	}
	s.setTemplates(points)
	return nil
}

func (s *shape) Close() {
	s.closeTemplates()
	s.preview.close()
}
