package classifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/motion"
	"github.com/ayusman/vistrain/internal/training"
)

// motionAlgo backs the Motion variant. It learns the dominant directions of
// motion in the positive samples and keeps moving regions that go the same way.
type motionAlgo struct {
	cfg        config.MotionConfig
	color      color.RGBA
	directions []float64
}

func newMotion(cfg *config.Config) *motionAlgo {
	return &motionAlgo{cfg: cfg.Motion, color: cfg.Swatch(int(VariantMotion))}
}

func (m *motionAlgo) sampleDirections(set *training.Set) []float64 {
	var dirs []float64
	for _, s := range set.ByGroup(training.GroupPositive) {
		if s.Motion == nil {
			continue
		}
		if deg, ok := s.Motion.GlobalOrientation(m.cfg.MinTimeDelta, m.cfg.MaxTimeDelta); ok {
			dirs = append(dirs, deg)
		}
	}
	return dirs
}

func (m *motionAlgo) ContainsSufficientSamples(set *training.Set) bool {
	return len(m.sampleDirections(set)) > 0
}

func (m *motionAlgo) Train(set *training.Set) error {
	dirs := m.sampleDirections(set)
	if len(dirs) == 0 {
		return errors.New("no positive sample carries motion")
	}
	m.directions = dirs
	return nil
}

func (m *motionAlgo) matches(deg float64) bool {
	for _, d := range m.directions {
		if motion.AngleDiff(deg, d) <= m.cfg.AngleTolerance {
			return true
		}
	}
	return false
}

// Classify keeps the moving components whose direction matches a trained
// one. Without motion data the mask is cleared.
func (m *motionAlgo) Classify(in Input, mask *gocv.Mat, _ float64) (Result, error) {
	snap := in.Motion
	if snap == nil {
		clearMask(mask)
		return Result{}, nil
	}
	if snap.Width != mask.Cols() || snap.Height != mask.Rows() {
		return Result{}, fmt.Errorf("motion snapshot is %dx%d, mask is %dx%d", snap.Width, snap.Height, mask.Cols(), mask.Rows())
	}

	keep := make([]byte, snap.Width*snap.Height)
	var boxes []image.Rectangle
	for _, c := range snap.Components(m.cfg.MinComponentArea) {
		deg, ok := snap.ComponentOrientation(c, m.cfg.MinTimeDelta, m.cfg.MaxTimeDelta)
		if !ok || !m.matches(deg) {
			continue
		}
		for _, p := range c.Pixels() {
			keep[p] = 255
		}
		boxes = append(boxes, c.Bounds)
	}

	km, err := gocv.NewMatFromBytes(snap.Height, snap.Width, gocv.MatTypeCV8UC1, keep)
	if err != nil {
		return Result{}, err
	}
	defer km.Close()
	gocv.BitwiseAnd(*mask, km, mask)
	return Result{Boxes: boxes}, nil
}

// RenderDemo draws the trained directions as arrows, or the motion history
// with matched regions while classifying.
func (m *motionAlgo) RenderDemo(dst *gocv.Mat, in *Input, res Result) {
	if in == nil {
		center := image.Pt(dst.Cols()/2, dst.Rows()/2)
		r := float64(min(dst.Cols(), dst.Rows())) * 0.4
		for _, d := range m.directions {
			rad := d * math.Pi / 180
			tip := image.Pt(center.X+int(r*math.Cos(rad)), center.Y+int(r*math.Sin(rad)))
			gocv.ArrowedLine(dst, center, tip, m.color, 2)
		}
		return
	}
	if in.Motion == nil {
		return
	}
	img, err := in.Motion.Image()
	if err != nil {
		return
	}
	defer img.Close()
	fitInto(dst, img)
	drawScaledBoxes(dst, image.Pt(in.Motion.Width, in.Motion.Height), res.Boxes, m.color)
}

// Data: int32 direction count, then float64 degrees.
func (m *motionAlgo) Persist(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(m.directions))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.directions)
}

func (m *motionAlgo) Load(r io.Reader) error {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read direction count: %w", err)
	}
	if n < 0 || n > 1<<16 {
		return fmt.Errorf("invalid direction count %d", n)
	}
	dirs := make([]float64, n)
	if err := binary.Read(r, binary.LittleEndian, dirs); err != nil {
		return fmt.Errorf("read directions: %w", err)
	}
	m.directions = dirs
	return nil
}

func (m *motionAlgo) Close() {}
