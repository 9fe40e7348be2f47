package gesture

import (
	"fmt"
	"math"
)

// Metric measures the dissimilarity of two normalized paths. Implementations
// must be deterministic, return 0 for identical paths and grow as the paths
// diverge point by point.
type Metric interface {
	Name() string
	Distance(a, b []PathPoint) float64
}

// DTW is dynamic time warping over the raw sample sequences, normalized by
// the longer path length. It tolerates differing speeds and lengths.
type DTW struct{}

func (DTW) Name() string { return "dtw" }

// Distance returns +Inf if either path is empty.
func (DTW) Distance(a, b []PathPoint) float64 {
	return DTWDistance(a, b)
}

// DTWDistance computes the dynamic time warping distance between two paths,
// keeping only two rows of the cost matrix.
func DTWDistance(path1, path2 []PathPoint) float64 {
	n, m := len(path1), len(path2)
	if n == 0 || m == 0 {
		return math.Inf(1)
	}

	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := range prev {
		prev[j] = math.Inf(1)
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		cur[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := pointDistance(path1[i-1], path2[j-1])
			cur[j] = cost + min(prev[j], cur[j-1], prev[j-1])
		}
		prev, cur = cur, prev
	}

	return prev[m] / float64(max(n, m))
}

// Resampled brings both paths to N points and averages the pointwise
// Euclidean distance.
type Resampled struct {
	N int
}

func (r Resampled) Name() string { return "resampled" }

func (r Resampled) Distance(a, b []PathPoint) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}
	ra := resamplePath(a, r.N)
	rb := resamplePath(b, r.N)
	if len(ra) != len(rb) {
		return math.Inf(1)
	}
	var sum float64
	for i := range ra {
		sum += pointDistance(ra[i], rb[i])
	}
	return sum / float64(len(ra))
}

// MetricByName returns the metric registered under name.
func MetricByName(name string, resampleLength int) (Metric, error) {
	switch name {
	case "dtw", "":
		return DTW{}, nil
	case "resampled":
		return Resampled{N: resampleLength}, nil
	}
	return nil, fmt.Errorf("unknown gesture metric %q", name)
}
