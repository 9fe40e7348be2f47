package features

import (
	"image"
	"math/rand"

	"github.com/ayusman/vistrain/internal/config"
)

// Template is the trained side of a feature match: the keypoints of one
// positive sample and that sample's dimensions.
type Template struct {
	Keypoints []Keypoint
	Width     int
	Height    int
}

// Detection is the outcome of matching a template against one frame.
type Detection struct {
	Matches []Correspondence
	// Box is the reported detection, empty when nothing matched.
	Box image.Rectangle
	// Baseline is the bounding box of the matched frame points.
	Baseline image.Rectangle
	// Verified is true when Box comes from a RANSAC homography.
	Verified   bool
	Homography Homography
	Inliers    []int
}

// Matcher runs ratio-tested nearest-neighbour matching and geometric verification.
type Matcher struct {
	cfg config.FeatureConfig
}

func NewMatcher(cfg config.FeatureConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// Match finds the template in a frame described by frameKps.
func (m *Matcher) Match(tpl Template, frameKps []Keypoint) Detection {
	var det Detection
	if len(frameKps) == 0 || len(tpl.Keypoints) == 0 {
		return det
	}

	index := NewIndex(frameKps)
	frameSide := make([]Point, 0, len(tpl.Keypoints))
	for _, kp := range tpl.Keypoints {
		nn := index.Nearest(kp.Descriptor, 2)
		if len(nn) < 2 || !PassesRatio(nn[0].DistSq, nn[1].DistSq, m.cfg.RatioThreshold) {
			continue
		}
		fp := frameKps[nn[0].Index].Point
		det.Matches = append(det.Matches, Correspondence{Sample: kp.Point, Frame: fp})
		frameSide = append(frameSide, fp)
	}
	if len(det.Matches) == 0 {
		return det
	}

	det.Baseline = boundingBox(frameSide)
	det.Box = det.Baseline

	if len(det.Matches) < m.cfg.MinRansac {
		return det
	}

	rng := rand.New(rand.NewSource(m.cfg.Seed))
	h, inliers, err := EstimateHomography(det.Matches, RansacParams{
		Threshold:     m.cfg.RansacError,
		FailProb:      m.cfg.RansacProb,
		MaxIterations: m.cfg.MaxIterations,
		MinInliers:    m.cfg.MinRansac,
	}, rng)
	if err != nil {
		// ErrNoConsensus: keep the baseline box
		return det
	}

	corners := []Point{
		{0, 0},
		{float64(tpl.Width), 0},
		{float64(tpl.Width), float64(tpl.Height)},
		{0, float64(tpl.Height)},
	}
	projected := make([]Point, 0, 4)
	for _, c := range corners {
		p, ok := h.Project(c)
		if !ok {
			return det
		}
		projected = append(projected, p)
	}

	det.Box = boundingBox(projected)
	det.Verified = true
	det.Homography = h
	det.Inliers = inliers
	return det
}
