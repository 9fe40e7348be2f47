// Package trajectory accumulates per-blob positions into motion tracks.
package trajectory

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/ayusman/vistrain/internal/config"
)

// Sample is one observation of a blob.
type Sample struct {
	TrackID int
	X, Y    float64
	SizeX   float64
	SizeY   float64
	Frame   int
}

// Track is the ordered sample history of one blob identity.
// FrameBegin <= FrameLast always holds.
type Track struct {
	ID         int
	FrameBegin int
	FrameLast  int
	Samples    []Sample
}

// MotionSample is a track sample expressed as position plus velocity.
type MotionSample struct {
	X, Y   float64
	VX, VY float64
	SizeX  float64
	SizeY  float64
}

// MotionTrack is an exported track.
type MotionTrack struct {
	ID         int
	FrameBegin int
	FrameLast  int
	Samples    []MotionSample
}

// Len returns the number of samples.
func (m MotionTrack) Len() int { return len(m.Samples) }

type slot struct {
	live  bool
	track Track
}

// Tracker owns every live track. Tracks are stored in an arena of slots and
// addressed only by their stable integer id.
type Tracker struct {
	cfg   config.TrajectoryConfig
	slots []slot
	byID  map[int]int
	free  []int
}

// NewTracker creates an empty tracker.
func NewTracker(cfg config.TrajectoryConfig) *Tracker {
	return &Tracker{
		cfg:  cfg,
		byID: make(map[int]int),
	}
}

// AddSample appends an observation to the track with the given id, creating
// the track with FrameBegin = frame when it does not exist yet.
func (t *Tracker) AddSample(id int, x, y, sizeX, sizeY float64, frame int) error {
	idx, ok := t.byID[id]
	if !ok {
		idx = t.alloc()
		t.slots[idx] = slot{live: true, track: Track{ID: id, FrameBegin: frame, FrameLast: frame}}
		t.byID[id] = idx
	}

	tr := &t.slots[idx].track
	if frame < tr.FrameLast {
		return errors.Errorf("track %d: frame %d is older than last frame %d", id, frame, tr.FrameLast)
	}
	tr.Samples = append(tr.Samples, Sample{TrackID: id, X: x, Y: y, SizeX: sizeX, SizeY: sizeY, Frame: frame})
	tr.FrameLast = frame
	return nil
}

func (t *Tracker) alloc() int {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		return idx
	}
	t.slots = append(t.slots, slot{})
	return len(t.slots) - 1
}

// Track returns a copy of the track with the given id.
func (t *Tracker) Track(id int) (Track, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return Track{}, false
	}
	tr := t.slots[idx].track
	tr.Samples = append([]Sample(nil), tr.Samples...)
	return tr, true
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.byID)
}

// ids returns live track ids in ascending order.
func (t *Tracker) ids() []int {
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ExportTracks converts every track spanning more than MinLength frames
// into a MotionTrack, in ascending id order. Shorter tracks are skipped.
//
// With CompatZeroOrigin the first velocity is measured from (0, 0), which
// makes it equal to the absolute first position. Otherwise it is zero.
func (t *Tracker) ExportTracks() []MotionTrack {
	var out []MotionTrack
	for _, id := range t.ids() {
		tr := &t.slots[t.byID[id]].track
		if tr.FrameLast-tr.FrameBegin <= t.cfg.MinLength {
			continue
		}
		out = append(out, t.export(tr))
	}
	return out
}

func (t *Tracker) export(tr *Track) MotionTrack {
	mt := MotionTrack{
		ID:         tr.ID,
		FrameBegin: tr.FrameBegin,
		FrameLast:  tr.FrameLast,
		Samples:    make([]MotionSample, len(tr.Samples)),
	}
	var prevX, prevY float64
	if !t.cfg.CompatZeroOrigin && len(tr.Samples) > 0 {
		prevX, prevY = tr.Samples[0].X, tr.Samples[0].Y
	}
	for i, s := range tr.Samples {
		mt.Samples[i] = MotionSample{
			X:     s.X,
			Y:     s.Y,
			VX:    s.X - prevX,
			VY:    s.Y - prevY,
			SizeX: s.SizeX,
			SizeY: s.SizeY,
		}
		prevX, prevY = s.X, s.Y
	}
	return mt
}

// BestTrack picks the exported track most suited as gesture input: the most
// recently updated one, preferring longer tracks and then lower ids.
func (t *Tracker) BestTrack() (MotionTrack, bool) {
	tracks := t.ExportTracks()
	if len(tracks) == 0 {
		return MotionTrack{}, false
	}
	best := 0
	for i := 1; i < len(tracks); i++ {
		a, b := tracks[i], tracks[best]
		if a.FrameLast > b.FrameLast || (a.FrameLast == b.FrameLast && a.Len() > b.Len()) {
			best = i
		}
	}
	return tracks[best], true
}

// EvictStale removes tracks that have not been updated for more than
// MaxStaleFrames frames before currentFrame and returns their ids.
// It is independent of the length filter used by ExportTracks.
func (t *Tracker) EvictStale(currentFrame int) []int {
	var evicted []int
	for _, id := range t.ids() {
		idx := t.byID[id]
		if currentFrame-t.slots[idx].track.FrameLast > t.cfg.MaxStaleFrames {
			t.remove(id, idx)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Remove drops the track with the given id.
func (t *Tracker) Remove(id int) bool {
	idx, ok := t.byID[id]
	if !ok {
		return false
	}
	t.remove(id, idx)
	return true
}

func (t *Tracker) remove(id, idx int) {
	t.slots[idx] = slot{}
	delete(t.byID, id)
	t.free = append(t.free, idx)
}

// Reset drops every track.
func (t *Tracker) Reset() {
	t.slots = nil
	t.free = nil
	t.byID = make(map[int]int)
}
