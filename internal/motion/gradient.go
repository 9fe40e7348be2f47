package motion

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Component is a 4-connected region of recent motion.
type Component struct {
	Bounds image.Rectangle
	Area   int
	pixels []int
}

// Recent reports whether pixel i moved within the duration window.
func (s *Snapshot) Recent(i int) bool {
	v := float64(s.MHI[i])
	return v > 0 && v >= s.Timestamp-s.Duration
}

// Components segments recent motion into 4-connected regions of at least
// minArea pixels, in raster order of their first pixel.
func (s *Snapshot) Components(minArea int) []Component {
	if s.Width <= 0 || s.Height <= 0 {
		return nil
	}
	recent := make([]byte, len(s.MHI))
	for i := range s.MHI {
		if s.Recent(i) {
			recent[i] = 255
		}
	}
	bin, err := gocv.NewMatFromBytes(s.Height, s.Width, gocv.MatTypeCV8UC1, recent)
	if err != nil {
		return nil
	}
	defer bin.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()
	n := gocv.ConnectedComponentsWithStatsWithParams(bin, &labels, &stats, &centroids,
		4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)
	if n <= 1 {
		return nil
	}

	pixels := make([][]int, n)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if l := labels.GetIntAt(y, x); l > 0 {
				pixels[l] = append(pixels[l], y*s.Width+x)
			}
		}
	}

	var out []Component
	for l := 1; l < n; l++ {
		area := int(stats.GetIntAt(l, int(gocv.CC_STAT_AREA)))
		if area < minArea || len(pixels[l]) == 0 {
			continue
		}
		x := int(stats.GetIntAt(l, int(gocv.CC_STAT_LEFT)))
		y := int(stats.GetIntAt(l, int(gocv.CC_STAT_TOP)))
		w := int(stats.GetIntAt(l, int(gocv.CC_STAT_WIDTH)))
		h := int(stats.GetIntAt(l, int(gocv.CC_STAT_HEIGHT)))
		out = append(out, Component{
			Bounds: image.Rect(x, y, x+w, y+h),
			Area:   area,
			pixels: pixels[l],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pixels[0] < out[j].pixels[0] })
	return out
}

// gradient returns the MHI gradient at interior pixel i, and whether the
// local time spread lies inside [minDelta, maxDelta].
func (s *Snapshot) gradient(i int, minDelta, maxDelta float64) (dx, dy float64, ok bool) {
	x, y := i%s.Width, i/s.Width
	if x == 0 || y == 0 || x == s.Width-1 || y == s.Height-1 {
		return 0, 0, false
	}
	c := float64(s.MHI[i])
	l := float64(s.MHI[i-1])
	r := float64(s.MHI[i+1])
	u := float64(s.MHI[i-s.Width])
	d := float64(s.MHI[i+s.Width])
	if c == 0 || l == 0 || r == 0 || u == 0 || d == 0 {
		return 0, 0, false
	}
	lo := math.Min(c, math.Min(math.Min(l, r), math.Min(u, d)))
	hi := math.Max(c, math.Max(math.Max(l, r), math.Max(u, d)))
	spread := hi - lo
	if spread < minDelta || spread > maxDelta {
		return 0, 0, false
	}
	dx = (r - l) / 2
	dy = (d - u) / 2
	if dx == 0 && dy == 0 {
		return 0, 0, false
	}
	return dx, dy, true
}

// Orientation returns the recency-weighted mean direction of motion, in
// degrees within [0, 360), over the given pixels. Image y grows downwards,
// so 90 means downward motion. ok is false when no pixel has a valid gradient.
func (s *Snapshot) Orientation(pixels []int, minDelta, maxDelta float64) (deg float64, ok bool) {
	oldest := s.Timestamp - s.Duration
	var sx, sy float64
	for _, p := range pixels {
		dx, dy, valid := s.gradient(p, minDelta, maxDelta)
		if !valid {
			continue
		}
		w := (float64(s.MHI[p]) - oldest) / s.Duration
		if w <= 0 {
			continue
		}
		n := math.Hypot(dx, dy)
		sx += w * dx / n
		sy += w * dy / n
	}
	if sx == 0 && sy == 0 {
		return 0, false
	}
	deg = math.Atan2(sy, sx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg, true
}

// ComponentOrientation is Orientation restricted to one component.
func (s *Snapshot) ComponentOrientation(c Component, minDelta, maxDelta float64) (float64, bool) {
	return s.Orientation(c.pixels, minDelta, maxDelta)
}

// GlobalOrientation is Orientation over every recently moving pixel.
func (s *Snapshot) GlobalOrientation(minDelta, maxDelta float64) (float64, bool) {
	var pixels []int
	for i := range s.MHI {
		if s.Recent(i) {
			pixels = append(pixels, i)
		}
	}
	return s.Orientation(pixels, minDelta, maxDelta)
}

// Pixels returns the flat indices covered by the component.
func (c Component) Pixels() []int {
	return c.pixels
}

// AngleDiff is the absolute difference between two angles in degrees, within [0, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
