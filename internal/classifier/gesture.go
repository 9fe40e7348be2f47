package classifier

import (
	"fmt"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/gesture"
	"github.com/ayusman/vistrain/internal/training"
)

// gestureAlgo backs the Gesture variant. Every range sample that carries a
// trajectory becomes a template. A frame passes when the current best track
// scores above the threshold against the library.
type gestureAlgo struct {
	matcher *gesture.Matcher
	library []gesture.Template
	color   color.RGBA
}

func newGesture(cfg *config.Config) (*gestureAlgo, error) {
	metric, err := gesture.MetricByName(cfg.Gesture.Metric, cfg.Gesture.ResampleLength)
	if err != nil {
		return nil, err
	}
	return &gestureAlgo{
		matcher: gesture.NewMatcher(metric, cfg.Gesture.RhoMax),
		color:   cfg.Swatch(int(VariantGesture)),
	}, nil
}

func (g *gestureAlgo) templates(set *training.Set) []gesture.Template {
	var lib []gesture.Template
	for _, s := range set.ByGroup(training.GroupRange) {
		if s.Track == nil || s.Track.Len() == 0 {
			continue
		}
		lib = append(lib, gesture.TemplateFromTrack(s.ID, *s.Track))
	}
	return lib
}

func (g *gestureAlgo) ContainsSufficientSamples(set *training.Set) bool {
	return len(g.templates(set)) > 0
}

func (g *gestureAlgo) Train(set *training.Set) error {
	lib := g.templates(set)
	if len(lib) == 0 {
		return fmt.Errorf("no range sample carries a trajectory")
	}
	g.library = lib
	return nil
}

// Classify leaves the mask untouched on a match and clears it otherwise.
func (g *gestureAlgo) Classify(in Input, mask *gocv.Mat, threshold float64) (Result, error) {
	if in.Track == nil || in.Track.Len() == 0 {
		clearMask(mask)
		return Result{}, nil
	}
	idx, label, score := g.matcher.Recognize(*in.Track, g.library)
	res := Result{Score: score, Label: label}
	if idx < 0 || score <= threshold {
		clearMask(mask)
	}
	return res, nil
}

// RenderDemo plots the first template and, while classifying, the candidate
// track with its score.
func (g *gestureAlgo) RenderDemo(dst *gocv.Mat, in *Input, res Result) {
	w, h := dst.Cols(), dst.Rows()
	dc := gg.NewContext(w, h)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	if len(g.library) > 0 {
		dc.SetRGBA(1, 1, 1, 0.5)
		plotPath(dc, g.library[0].Path(), w, h)
	}
	if in != nil && in.Track != nil {
		dc.SetColor(g.color)
		plotPath(dc, gesture.TemplateFromTrack("", *in.Track).Path(), w, h)
		dc.SetRGB(1, 1, 1)
		dc.DrawString(fmt.Sprintf("%.2f", res.Score), 6, 16)
	}

	mat, err := gocv.ImageToMatRGB(dc.Image())
	if err != nil {
		return
	}
	defer mat.Close()
	mat.CopyTo(dst)
}

// plotPath strokes a normalised path inside a w x h canvas with a margin.
func plotPath(dc *gg.Context, path []gesture.PathPoint, w, h int) {
	if len(path) < 2 {
		return
	}
	side := float64(min(w, h)) * 0.8
	ox := (float64(w) - side) / 2
	oy := (float64(h) - side) / 2
	dc.SetLineWidth(2)
	dc.MoveTo(ox+path[0].X*side, oy+path[0].Y*side)
	for _, p := range path[1:] {
		dc.LineTo(ox+p.X*side, oy+p.Y*side)
	}
	dc.Stroke()
}

func (g *gestureAlgo) Persist(w io.Writer) error {
	return gesture.EncodeLibrary(w, g.library)
}

func (g *gestureAlgo) Load(r io.Reader) error {
	lib, err := gesture.DecodeLibrary(r)
	if err != nil {
		return err
	}
	g.library = lib
	return nil
}

func (g *gestureAlgo) Close() {}
