// Package gesture recognises motion trajectories against a library of templates.
package gesture

import (
	"math"

	"github.com/ayusman/vistrain/internal/trajectory"
)

// PathPoint is one point of a trajectory in the plane.
type PathPoint struct {
	X float64
	Y float64
}

// pathFromMotion rebuilds positions by accumulating sample velocities.
// The result is only defined up to translation, which normalizePath removes.
func pathFromMotion(samples []trajectory.MotionSample) []PathPoint {
	path := make([]PathPoint, len(samples))
	var x, y float64
	for i, s := range samples {
		if i > 0 {
			x += s.VX
			y += s.VY
		}
		path[i] = PathPoint{X: x, Y: y}
	}
	return path
}

// normalizePath translates the path to the origin and scales its larger
// extent to 1, keeping the aspect ratio.
func normalizePath(path []PathPoint) []PathPoint {
	if path == nil {
		return nil
	}
	n := len(path)
	if n == 0 {
		return []PathPoint{}
	}

	minX, maxX := path[0].X, path[0].X
	minY, maxY := path[0].Y, path[0].Y
	for _, p := range path[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	scale := math.Max(maxX-minX, maxY-minY)
	normalized := make([]PathPoint, n)
	for i, p := range path {
		if scale > 0 {
			normalized[i] = PathPoint{X: (p.X - minX) / scale, Y: (p.Y - minY) / scale}
		}
	}
	return normalized
}

// resamplePath resamples a path to exactly targetLength points by linear
// interpolation along the sample index.
func resamplePath(path []PathPoint, targetLength int) []PathPoint {
	if len(path) == 0 {
		return nil
	}
	if len(path) == 1 || targetLength <= 1 {
		return []PathPoint{path[0]}
	}

	result := make([]PathPoint, targetLength)
	for i := 0; i < targetLength; i++ {
		pos := float64(i) / float64(targetLength-1) * float64(len(path)-1)
		idx := int(pos)
		if idx >= len(path)-1 {
			idx = len(path) - 2
		}
		frac := pos - float64(idx)

		p1, p2 := path[idx], path[idx+1]
		result[i] = PathPoint{
			X: p1.X + frac*(p2.X-p1.X),
			Y: p1.Y + frac*(p2.Y-p1.Y),
		}
	}
	return result
}

func pointDistance(a, b PathPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
