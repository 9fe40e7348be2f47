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
	"github.com/ayusman/vistrain/internal/training"
)

// histogram backs the Brightness and Color variants. It learns a
// histogram of the gray level (or of the hue) of the positive samples and
// back-projects it onto frames.
type histogram struct {
	cfg  config.HistogramConfig
	hue  bool
	bins []float32
	preview
}

func newHistogram(cfg *config.Config, hue bool) *histogram {
	v := VariantBrightness
	if hue {
		v = VariantColor
	}
	return &histogram{cfg: cfg.Histogram, hue: hue, preview: preview{color: cfg.Swatch(int(v))}}
}

func (h *histogram) ranges() []float64 {
	if h.hue {
		return []float64{0, 180}
	}
	return []float64{0, 256}
}

// plane extracts the channel the histogram is built over, plus the mask of
// pixels that count. The mask is empty for brightness.
func (h *histogram) plane(img gocv.Mat) (gocv.Mat, gocv.Mat) {
	if !h.hue {
		return toGray(img), gocv.NewMat()
	}

	bgr := toBGR(img)
	defer bgr.Close()
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	vlo, vhi := min(h.cfg.VMin, h.cfg.VMax), max(h.cfg.VMin, h.cfg.VMax)
	valid := gocv.NewMat()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(0, float64(h.cfg.SMin), float64(vlo), 0),
		gocv.NewScalar(180, 256, float64(vhi), 0),
		&valid)

	channels := gocv.Split(hsv)
	for _, c := range channels[1:] {
		c.Close()
	}
	return channels[0], valid
}

// density sums the normalised histograms of the samples.
func (h *histogram) density(samples []*training.Sample, bins int) []float64 {
	sum := make([]float64, bins)
	var total float64
	for _, s := range samples {
		if s.Image == nil || s.Image.Empty() {
			continue
		}
		plane, valid := h.plane(*s.Image)
		hist := gocv.NewMat()
		gocv.CalcHist([]gocv.Mat{plane}, []int{0}, valid, &hist, []int{bins}, h.ranges(), false)
		for i := 0; i < bins; i++ {
			v := float64(hist.GetFloatAt(i, 0))
			sum[i] += v
			total += v
		}
		hist.Close()
		valid.Close()
		plane.Close()
	}
	if total > 0 {
		for i := range sum {
			sum[i] /= total
		}
	}
	return sum
}

func (h *histogram) ContainsSufficientSamples(set *training.Set) bool {
	return set.Counts().Positive >= 1
}

// Train builds the positive histogram. Bins where the negatives are denser
// than the positives are cleared. The result is scaled so its peak is 255.
func (h *histogram) Train(set *training.Set) error {
	bins := h.cfg.Bins
	pos := h.density(set.ByGroup(training.GroupPositive), bins)
	neg := h.density(set.ByGroup(training.GroupNegative), bins)

	var peak float64
	for i := range pos {
		if neg[i] > pos[i] {
			pos[i] = 0
		}
		peak = math.Max(peak, pos[i])
	}
	if peak == 0 {
		return errors.New("positive samples have no usable pixels")
	}

	h.bins = make([]float32, bins)
	for i, v := range pos {
		h.bins[i] = float32(v / peak * 255)
	}
	h.preview.set(set)
	return nil
}

// Classify back-projects the histogram, keeps pixels whose likelihood is
// above threshold*255 and reports blobs inside the configured area band.
func (h *histogram) Classify(in Input, mask *gocv.Mat, threshold float64) (Result, error) {
	if in.Frame.Empty() {
		return Result{}, errors.New("empty frame")
	}
	plane, valid := h.plane(in.Frame)
	defer plane.Close()
	defer valid.Close()

	hist := gocv.NewMatWithSize(len(h.bins), 1, gocv.MatTypeCV32F)
	defer hist.Close()
	for i, v := range h.bins {
		hist.SetFloatAt(i, 0, v)
	}

	bp := gocv.NewMat()
	defer bp.Close()
	gocv.CalcBackProject([]gocv.Mat{plane}, []int{0}, hist, &bp, h.ranges(), true)
	if !valid.Empty() {
		gocv.BitwiseAnd(bp, valid, &bp)
	}

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(bp, &bin, float32(threshold*255), 255, gocv.ThresholdBinary)

	boxes := contourBoxes(bin, h.cfg.MinArea, h.cfg.MaxArea)
	keepBoxes(mask, boxes)
	return Result{Boxes: boxes}, nil
}

// RenderDemo shows the learnt histogram as bars after training.
func (h *histogram) RenderDemo(dst *gocv.Mat, in *Input, res Result) {
	if in != nil || len(h.bins) == 0 {
		h.preview.render(dst, in, res)
		return
	}
	w := dst.Cols() / len(h.bins)
	for i, v := range h.bins {
		top := dst.Rows() - int(float64(v)/255*float64(dst.Rows()))
		bar := image.Rect(i*w, top, (i+1)*w-1, dst.Rows())
		gocv.Rectangle(dst, bar, h.binColor(i), -1)
	}
}

func (h *histogram) binColor(i int) color.RGBA {
	if !h.hue {
		g := uint8((float64(i) + 0.5) / float64(len(h.bins)) * 255)
		return color.RGBA{R: g, G: g, B: g, A: 255}
	}
	return hueColor((float64(i) + 0.5) / float64(len(h.bins)) * 360)
}

// hueColor converts a hue in degrees to a fully saturated colour.
func hueColor(deg float64) color.RGBA {
	x := 1 - math.Abs(math.Mod(deg/60, 2)-1)
	var r, g, b float64
	switch {
	case deg < 60:
		r, g = 1, x
	case deg < 120:
		r, g = x, 1
	case deg < 180:
		g, b = 1, x
	case deg < 240:
		g, b = x, 1
	case deg < 300:
		r, b = x, 1
	default:
		r, b = 1, x
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}

// Data: int32 bin count, then one float32 per bin.
func (h *histogram) Persist(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(h.bins))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.bins)
}

func (h *histogram) Load(r io.Reader) error {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read bin count: %w", err)
	}
	if n <= 0 || n > 256 {
		return fmt.Errorf("invalid bin count %d", n)
	}
	bins := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, bins); err != nil {
		return fmt.Errorf("read bins: %w", err)
	}
	h.bins = bins
	return nil
}

func (h *histogram) Close() {
	h.preview.close()
}
