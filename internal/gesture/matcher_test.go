package gesture

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/vistrain/internal/trajectory"
)

// trackFromPoints builds a motion track with velocities measured from the origin for the first sample.
func trackFromPoints(pts []PathPoint) trajectory.MotionTrack {
	mt := trajectory.MotionTrack{Samples: make([]trajectory.MotionSample, len(pts))}
	var px, py float64
	for i, p := range pts {
		mt.Samples[i] = trajectory.MotionSample{X: p.X, Y: p.Y, VX: p.X - px, VY: p.Y - py, SizeX: 20, SizeY: 20}
		px, py = p.X, p.Y
	}
	mt.FrameLast = len(pts) - 1
	return mt
}

func circle(n int, cx, cy, r float64) []PathPoint {
	pts := make([]PathPoint, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n-1)
		pts[i] = PathPoint{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a)}
	}
	return pts
}

func line(n int) []PathPoint {
	pts := make([]PathPoint, n)
	for i := range pts {
		pts[i] = PathPoint{X: float64(i) * 4, Y: 100}
	}
	return pts
}

func TestRecognize_JitteredCircle(t *testing.T) {
	library := []Template{
		TemplateFromTrack("circle", trackFromPoints(circle(40, 200, 150, 60))),
		TemplateFromTrack("swipe", trackFromPoints(line(40))),
	}

	rng := rand.New(rand.NewSource(42))
	candidate := resamplePath(circle(40, 320, 240, 60), 36)
	for i := range candidate {
		candidate[i].X += rng.NormFloat64()
		candidate[i].Y += rng.NormFloat64()
	}

	for _, metric := range []Metric{DTW{}, Resampled{N: 32}} {
		t.Run(metric.Name(), func(t *testing.T) {
			m := NewMatcher(metric, 1.5)
			idx, name, score := m.Recognize(trackFromPoints(candidate), library)
			if idx != 0 || name != "circle" {
				t.Fatalf("Recognize() = %d %q, want 0 \"circle\"", idx, name)
			}
			if score <= 0.5 {
				t.Errorf("score = %f, want > 0.5", score)
			}
		})
	}
}

func TestRecognize_Deterministic(t *testing.T) {
	library := []Template{
		TemplateFromTrack("circle", trackFromPoints(circle(40, 0, 0, 30))),
		TemplateFromTrack("swipe", trackFromPoints(line(25))),
	}
	candidate := trackFromPoints(circle(33, 5, 5, 28))

	m := NewMatcher(DTW{}, 1.5)
	idx, name, score := m.Recognize(candidate, library)
	for i := 0; i < 5; i++ {
		i2, n2, s2 := m.Recognize(candidate, library)
		if i2 != idx || n2 != name || s2 != score {
			t.Fatalf("call %d returned (%d, %q, %v), first was (%d, %q, %v)", i, i2, n2, s2, idx, name, score)
		}
	}
}

func TestRecognize_IdenticalScoresOne(t *testing.T) {
	track := trackFromPoints(circle(40, 10, 10, 30))
	m := NewMatcher(nil, 1.5)
	idx, _, score := m.Recognize(track, []Template{TemplateFromTrack("c", track)})
	if idx != 0 || score != 1 {
		t.Errorf("Recognize() = %d, %f; want 0, 1", idx, score)
	}
}

func TestRecognize_TruncatesLongCandidates(t *testing.T) {
	// an old straight run followed by a fresh circle: only the recent part is scored
	swipe := line(200)
	last := swipe[len(swipe)-1]
	pts := append(swipe, circle(40, last.X+30, last.Y, 30)...)

	library := []Template{
		TemplateFromTrack("circle", trackFromPoints(circle(40, 0, 0, 30))),
		TemplateFromTrack("swipe", trackFromPoints(line(40))),
	}
	m := NewMatcher(DTW{}, 1.0)
	idx, name, _ := m.Recognize(trackFromPoints(pts), library)
	if idx != 0 || name != "circle" {
		t.Errorf("Recognize() = %d %q, want the recent circle", idx, name)
	}
}

func TestRecognize_ScoreFromDistance(t *testing.T) {
	tmpl := TemplateFromTrack("circle", trackFromPoints(circle(40, 0, 0, 30)))
	candidate := trackFromPoints(circle(33, 5, 5, 28))

	m := NewMatcher(DTW{}, 1.5)
	_, _, score := m.Recognize(candidate, []Template{tmpl})

	d := DTW{}.Distance(normalizePath(pathFromMotion(candidate.Samples)), tmpl.Path())
	if want := 1 / (1 + d); math.Abs(score-want) > 1e-12 {
		t.Errorf("score = %v, want 1/(1+%v) = %v", score, d, want)
	}
	if d <= 0 || score >= 1 {
		t.Errorf("distinct paths should score below 1, got d=%v score=%v", d, score)
	}
}

func TestRecognize_Empty(t *testing.T) {
	m := NewMatcher(DTW{}, 1.5)
	if idx, name, score := m.Recognize(trackFromPoints(line(5)), nil); idx != -1 || name != "" || score != 0 {
		t.Errorf("empty library: got (%d, %q, %v)", idx, name, score)
	}
	lib := []Template{TemplateFromTrack("swipe", trackFromPoints(line(5)))}
	if idx, _, _ := m.Recognize(trajectory.MotionTrack{}, lib); idx != -1 {
		t.Errorf("empty candidate: got index %d", idx)
	}
}

func TestLibraryCodec(t *testing.T) {
	library := []Template{
		TemplateFromTrack("circle", trackFromPoints(circle(12, 1, 2, 3))),
		{Name: "empty"},
	}

	var buf bytes.Buffer
	if err := EncodeLibrary(&buf, library); err != nil {
		t.Fatalf("EncodeLibrary() error = %v", err)
	}
	if got := int(buf.Bytes()[0]); got != 2 {
		t.Errorf("leading count byte = %d, want 2", got)
	}

	got, err := DecodeLibrary(&buf)
	if err != nil {
		t.Fatalf("DecodeLibrary() error = %v", err)
	}
	want := []Template{library[0], {Name: "empty", Samples: []trajectory.MotionSample{}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("library mismatch (-want +got):\n%s", diff)
	}

	if _, err := DecodeLibrary(bytes.NewReader([]byte{1, 0, 0, 0, 9})); err == nil {
		t.Error("expected error for truncated input")
	}
}
