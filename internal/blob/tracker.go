package blob

import (
	"image"
	"math"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"

	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/trajectory"
)

type tracked struct {
	id      int
	box     image.Rectangle
	kf      *kalman_filter.Kalman2D
	predX   float64
	predY   float64
	noMatch int
}

func (t *tracked) predictedBox() image.Rectangle {
	w, h := t.box.Dx(), t.box.Dy()
	x0 := int(math.Round(t.predX - float64(w)/2))
	y0 := int(math.Round(t.predY - float64(h)/2))
	return image.Rect(x0, y0, x0+w, y0+h)
}

// Tracker assigns stable ids to blobs across frames. Each blob's centre is
// smoothed by a constant-velocity Kalman filter, and every observation is
// recorded as a sample in the trajectory tracker.
type Tracker struct {
	cfg          config.BlobConfig
	trajectories *trajectory.Tracker
	log          logs.Log
	tracks       []*tracked
	nextID       int
}

func NewTracker(cfg config.BlobConfig, trajectories *trajectory.Tracker, log logs.Log) *Tracker {
	return &Tracker{cfg: cfg, trajectories: trajectories, log: log}
}

// Len returns the number of live blob tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

func (t *Tracker) newTrack(b Blob) *tracked {
	cx, cy := b.Center()
	kf := kalman_filter.NewKalman2D(1, 1, 1, 2, 0.1, 0.1, kalman_filter.WithState2D(cx, cy))
	tr := &tracked{id: t.nextID, box: b.Box, kf: kf, predX: cx, predY: cy}
	t.nextID++
	return tr
}

// Update matches the blobs of one frame to the live tracks, records the
// observations and retires tracks that went unmatched for longer than
// MaxNoMatch frames. Trajectories that stopped growing are evicted.
func (t *Tracker) Update(blobs []Blob, frame int) error {
	old := t.tracks
	for _, tr := range old {
		tr.kf.Predict()
		tr.predX, tr.predY = tr.kf.GetState()
	}

	var fb *flatbush.Flatbush[int32]
	if len(old) > 0 {
		fb = flatbush.NewFlatbush[int32]()
		fb.Reserve(len(old))
		for _, tr := range old {
			p := tr.predictedBox()
			fb.Add(int32(p.Min.X), int32(p.Min.Y), int32(p.Max.X), int32(p.Max.Y))
		}
		fb.Finish()
	}

	matched := make([]bool, len(old))
	assign := make([]int, len(blobs))
	var nearby []int
	for i, b := range blobs {
		assign[i] = -1
		if fb == nil {
			continue
		}
		bx := max(t.cfg.SearchSlack, int(0.8*float64(b.Box.Dx())))
		by := max(t.cfg.SearchSlack, int(0.8*float64(b.Box.Dy())))
		nearby = fb.SearchFast(int32(b.Box.Min.X-bx), int32(b.Box.Min.Y-by), int32(b.Box.Max.X+bx), int32(b.Box.Max.Y+by), nearby)

		cx, cy := b.Center()
		best, bestIOU, bestDist := -1, 0.0, math.MaxFloat64
		for _, j := range nearby {
			if matched[j] {
				continue
			}
			iou := boxIOU(b.Box, old[j].predictedBox())
			dist := math.Hypot(cx-old[j].predX, cy-old[j].predY)
			if iou > bestIOU {
				best, bestIOU = j, iou
			} else if bestIOU == 0 && dist < bestDist {
				best, bestDist = j, dist
			}
		}
		if best >= 0 {
			matched[best] = true
			assign[i] = best
		}
	}

	var added []*tracked
	for i, b := range blobs {
		cx, cy := b.Center()
		var tr *tracked
		if j := assign[i]; j >= 0 {
			tr = old[j]
			if err := tr.kf.Update(cx, cy); err != nil {
				return errors.Wrapf(err, "Can't update blob track %d", tr.id)
			}
			tr.box = b.Box
			tr.noMatch = 0
		} else {
			tr = t.newTrack(b)
			added = append(added, tr)
		}
		x, y := tr.kf.GetState()
		if err := t.trajectories.AddSample(tr.id, x, y, float64(b.Box.Dx()), float64(b.Box.Dy()), frame); err != nil {
			return errors.Wrapf(err, "Can't record sample for blob %d", tr.id)
		}
	}

	live := make([]*tracked, 0, len(old)+len(added))
	for j, tr := range old {
		if !matched[j] {
			tr.noMatch++
		}
		if tr.noMatch > t.cfg.MaxNoMatch {
			if t.log != nil {
				t.log.Debugf("Blob %d lost after %d frames", tr.id, tr.noMatch)
			}
			continue
		}
		live = append(live, tr)
	}
	t.tracks = append(live, added...)

	if evicted := t.trajectories.EvictStale(frame); len(evicted) > 0 && t.log != nil {
		t.log.Debugf("Evicted stale trajectories %v", evicted)
	}
	return nil
}

// Reset forgets every blob track. Ids keep increasing.
func (t *Tracker) Reset() {
	t.tracks = nil
}

func boxIOU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
