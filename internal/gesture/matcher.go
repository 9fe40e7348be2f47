package gesture

import (
	"math"

	"github.com/ayusman/vistrain/internal/trajectory"
)

// Template is a named reference trajectory.
type Template struct {
	Name    string
	Samples []trajectory.MotionSample
}

// TemplateFromTrack builds a template from an exported track.
func TemplateFromTrack(name string, track trajectory.MotionTrack) Template {
	return Template{
		Name:    name,
		Samples: append([]trajectory.MotionSample(nil), track.Samples...),
	}
}

// Path returns the normalized template path.
func (t Template) Path() []PathPoint {
	return normalizePath(pathFromMotion(t.Samples))
}

// Matcher scores a candidate track against a template library.
// Acceptance is left to the caller, which compares the score to its threshold.
type Matcher struct {
	metric Metric
	rhoMax float64
}

// NewMatcher creates a matcher. Candidates longer than rhoMax times the
// longest template are cut down to their most recent samples.
func NewMatcher(metric Metric, rhoMax float64) *Matcher {
	if metric == nil {
		metric = DTW{}
	}
	if rhoMax < 1 {
		rhoMax = 1
	}
	return &Matcher{metric: metric, rhoMax: rhoMax}
}

// Metric returns the distance strategy in use.
func (m *Matcher) Metric() Metric {
	return m.metric
}

// Recognize returns the index, name and score of the best matching
// template. Scores lie in (0, 1], higher is better. With an empty library or
// candidate it returns index -1 and score 0.
func (m *Matcher) Recognize(candidate trajectory.MotionTrack, library []Template) (int, string, float64) {
	if len(library) == 0 || len(candidate.Samples) == 0 {
		return -1, "", 0
	}

	maxLen := 0
	for _, t := range library {
		maxLen = max(maxLen, len(t.Samples))
	}

	samples := candidate.Samples
	if limit := int(m.rhoMax * float64(maxLen)); limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	input := normalizePath(pathFromMotion(samples))

	bestIdx, bestScore := -1, 0.0
	for i, t := range library {
		d := m.metric.Distance(input, t.Path())
		if math.IsInf(d, 1) || math.IsNaN(d) {
			continue
		}
		score := 1.0 / (1.0 + d)
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 {
		return -1, "", 0
	}
	return bestIdx, library[bestIdx].Name, bestScore
}
