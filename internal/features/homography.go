package features

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrNoConsensus is returned when RANSAC finds no transform supported by
// enough correspondences. Callers fall back to the unverified detection.
var ErrNoConsensus = errors.New("no geometric consensus")

const minCorrespondences = 4

// Homography is a 3x3 planar projective transform in row-major order.
type Homography [9]float64

// Project maps p through h. ok is false for points mapped to infinity.
func (h Homography) Project(p Point) (Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// transferError is the distance between dst and the projection of src.
func (h Homography) transferError(src, dst Point) float64 {
	p, ok := h.Project(src)
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(p.X-dst.X, p.Y-dst.Y)
}

// Correspondence pairs a sample-side point with its matched frame-side point.
type Correspondence struct {
	Sample Point
	Frame  Point
}

// normalization returns the similarity transform that moves pts to their
// centroid and scales their mean distance from it to sqrt(2).
func normalization(pts []Point) (k, cx, cy float64) {
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n
	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	if mean < 1e-12 {
		return 1, cx, cy
	}
	return math.Sqrt2 / mean, cx, cy
}

// FitHomography solves for the homography mapping Sample to Frame points in
// the least-squares sense (normalized DLT, smallest singular vector).
func FitHomography(corr []Correspondence) (Homography, error) {
	n := len(corr)
	if n < minCorrespondences {
		return Homography{}, fmt.Errorf("need %d correspondences, got %d", minCorrespondences, n)
	}

	src := make([]Point, n)
	dst := make([]Point, n)
	for i, c := range corr {
		src[i], dst[i] = c.Sample, c.Frame
	}
	ks, sx, sy := normalization(src)
	kd, dx, dy := normalization(dst)

	rows := max(2*n, 9)
	a := mat.NewDense(rows, 9, nil)
	for i := range corr {
		x, y := ks*(src[i].X-sx), ks*(src[i].Y-sy)
		u, v := kd*(dst[i].X-dx), kd*(dst[i].Y-dy)
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, errors.New("homography SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn [9]float64
	for i := range hn {
		hn[i] = v.At(i, 8)
	}

	// H = inv(Td) * Hn * Ts
	ts := mat.NewDense(3, 3, []float64{ks, 0, -ks * sx, 0, ks, -ks * sy, 0, 0, 1})
	tdInv := mat.NewDense(3, 3, []float64{1 / kd, 0, dx, 0, 1 / kd, dy, 0, 0, 1})
	var tmp, full mat.Dense
	tmp.Mul(mat.NewDense(3, 3, hn[:]), ts)
	full.Mul(tdInv, &tmp)

	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[3*r+c] = full.At(r, c)
		}
	}
	if math.Abs(h[8]) < 1e-12 {
		return Homography{}, errors.New("degenerate homography")
	}
	for i := range h {
		h[i] /= h[8]
	}
	return h, nil
}

// RansacParams configures EstimateHomography.
type RansacParams struct {
	// Threshold is the maximum transfer error, in pixels, of an inlier.
	Threshold float64
	// FailProb is the accepted probability of never drawing an all-inlier sample.
	FailProb      float64
	MaxIterations int
	MinInliers    int
}

// EstimateHomography runs RANSAC over corr: minimal four-point samples are
// fitted, scored by transfer error, and the transform with the most inliers
// is refitted on all of them. It returns the inlier indices, or
// ErrNoConsensus when no sample gathers MinInliers support.
func EstimateHomography(corr []Correspondence, params RansacParams, rng *rand.Rand) (Homography, []int, error) {
	n := len(corr)
	minInliers := max(params.MinInliers, minCorrespondences)
	if n < minInliers {
		return Homography{}, nil, ErrNoConsensus
	}

	var best Homography
	var bestInliers []int
	needed := float64(params.MaxIterations)
	sample := make([]Correspondence, minCorrespondences)

	for iter := 0; iter < params.MaxIterations && float64(iter) < needed; iter++ {
		idx := rng.Perm(n)[:minCorrespondences]
		for i, j := range idx {
			sample[i] = corr[j]
		}
		if degenerate(sample) {
			continue
		}
		h, err := FitHomography(sample)
		if err != nil {
			continue
		}
		inliers := h.inliers(corr, params.Threshold)
		if len(inliers) <= len(bestInliers) {
			continue
		}
		best, bestInliers = h, inliers
		needed = iterationsNeeded(float64(len(inliers))/float64(n), params.FailProb, params.MaxIterations)
	}

	if len(bestInliers) < minInliers {
		return Homography{}, nil, ErrNoConsensus
	}

	consensus := make([]Correspondence, len(bestInliers))
	for i, j := range bestInliers {
		consensus[i] = corr[j]
	}
	if refit, err := FitHomography(consensus); err == nil {
		if inliers := refit.inliers(corr, params.Threshold); len(inliers) >= len(bestInliers) {
			best, bestInliers = refit, inliers
		}
	}
	return best, bestInliers, nil
}

func (h Homography) inliers(corr []Correspondence, threshold float64) []int {
	var out []int
	for i, c := range corr {
		if h.transferError(c.Sample, c.Frame) < threshold {
			out = append(out, i)
		}
	}
	return out
}

// iterationsNeeded is the RANSAC stopping bound for the given inlier ratio.
func iterationsNeeded(inlierRatio, failProb float64, limit int) float64 {
	if inlierRatio >= 1 {
		return 1
	}
	all := math.Pow(inlierRatio, minCorrespondences)
	if all <= 0 || failProb <= 0 {
		return float64(limit)
	}
	return math.Ceil(math.Log(failProb) / math.Log(1-all))
}

// degenerate reports whether any three points of the sample are (nearly)
// collinear on either side.
func degenerate(s []Correspondence) bool {
	for i := 0; i < len(s); i++ {
		for j := i + 1; j < len(s); j++ {
			for k := j + 1; k < len(s); k++ {
				if collinear(s[i].Sample, s[j].Sample, s[k].Sample) || collinear(s[i].Frame, s[j].Frame, s[k].Frame) {
					return true
				}
			}
		}
	}
	return false
}

func collinear(a, b, c Point) bool {
	return math.Abs((b.X-a.X)*(c.Y-a.Y)-(b.Y-a.Y)*(c.X-a.X)) < 1e-6
}
