package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/motion"
	"github.com/ayusman/vistrain/internal/store"
	"github.com/ayusman/vistrain/internal/training"
	"github.com/ayusman/vistrain/internal/trajectory"
)

// ErrNoTrack is returned when a range sample is captured while no gesture
// trajectory is available.
var ErrNoTrack = errors.New("no motion track available for a range sample")

// trainingSet returns the in-memory training set of a classifier, loading
// it from the catalog on first use.
func (a *App) trainingSet(id string) (*training.Set, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.sets[id]; ok {
		return set, nil
	}

	rows, err := a.store.Samples().ListByClassifier(id)
	if err != nil {
		return nil, err
	}
	set := training.NewSet()
	for _, row := range rows {
		smp, err := decodeSample(row)
		if err != nil {
			a.log.Warnf("Skipping stored sample %s of classifier %s: %v", row.ID, id, err)
			continue
		}
		if _, err := set.Add(smp); err != nil {
			smp.Close()
			set.Close()
			return nil, err
		}
	}
	a.sets[id] = set
	return set, nil
}

// AddSample captures rect from the most recent pipeline input frame. The
// motion history and gesture track of that frame are attached when they
// were being computed; range samples require the track.
func (a *App) AddSample(id string, group training.Group, rect image.Rectangle) (*training.Sample, error) {
	snap, err := a.pipeline.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return a.AddSampleFromFrame(id, group, snap.Input, rect, snap.Motion, snap.Track)
}

// AddSampleFromFrame stores rect of frame as a sample of the classifier.
// mot and track may be nil.
func (a *App) AddSampleFromFrame(id string, group training.Group, frame gocv.Mat, rect image.Rectangle, mot *motion.Snapshot, track *trajectory.MotionTrack) (*training.Sample, error) {
	if _, err := a.library.Get(id); err != nil {
		return nil, err
	}
	if group == training.GroupRange && track == nil {
		return nil, ErrNoTrack
	}
	set, err := a.trainingSet(id)
	if err != nil {
		return nil, err
	}

	smp, err := training.NewSample(group, frame, rect)
	if err != nil {
		return nil, err
	}
	if mot != nil {
		smp.Motion = mot.Crop(smp.Rect)
	}
	if track != nil {
		t := *track
		smp.Track = &t
	}
	if _, err := set.Add(smp); err != nil {
		smp.Close()
		return nil, err
	}

	row, err := encodeSample(id, smp)
	if err == nil {
		err = a.store.Samples().Create(row)
	}
	if err != nil {
		set.Remove(smp.ID)
		return nil, fmt.Errorf("store sample: %w", err)
	}
	return smp, nil
}

// Samples returns the classifier's samples in capture order.
func (a *App) Samples(id string) ([]*training.Sample, error) {
	if _, err := a.library.Get(id); err != nil {
		return nil, err
	}
	set, err := a.trainingSet(id)
	if err != nil {
		return nil, err
	}
	return set.All(), nil
}

// SampleCounts tallies the classifier's samples per group.
func (a *App) SampleCounts(id string) (training.Counts, error) {
	set, err := a.trainingSet(id)
	if err != nil {
		return training.Counts{}, err
	}
	return set.Counts(), nil
}

// MoveSample regroups a sample.
func (a *App) MoveSample(id, sampleID string, group training.Group) error {
	set, err := a.trainingSet(id)
	if err != nil {
		return err
	}
	if group == training.GroupRange {
		smp, err := set.Get(sampleID)
		if err != nil {
			return err
		}
		if smp.Track == nil {
			return ErrNoTrack
		}
	}
	if err := set.Move(sampleID, group); err != nil {
		return err
	}
	return a.store.Samples().Move(sampleID, group.String())
}

// RemoveSample deletes a sample from the set and the catalog.
func (a *App) RemoveSample(id, sampleID string) error {
	set, err := a.trainingSet(id)
	if err != nil {
		return err
	}
	if err := set.Remove(sampleID); err != nil {
		return err
	}
	if err := a.store.Samples().Delete(sampleID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func encodeSample(classifierID string, smp *training.Sample) (*store.Sample, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, *smp.Image)
	if err != nil {
		return nil, fmt.Errorf("encode sample image: %w", err)
	}
	defer buf.Close()

	row := &store.Sample{
		ID:           smp.ID,
		ClassifierID: classifierID,
		Group:        smp.Group.String(),
		Rect:         smp.Rect,
		Image:        append([]byte(nil), buf.GetBytes()...),
	}
	if smp.Track != nil {
		if row.Track, err = json.Marshal(smp.Track); err != nil {
			return nil, err
		}
	}
	if smp.Motion != nil {
		var b bytes.Buffer
		if _, err := smp.Motion.WriteTo(&b); err != nil {
			return nil, err
		}
		row.Motion = b.Bytes()
	}
	return row, nil
}

func decodeSample(row *store.Sample) (*training.Sample, error) {
	group, err := training.ParseGroup(row.Group)
	if err != nil {
		return nil, err
	}
	img, err := gocv.IMDecode(row.Image, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	if img.Empty() {
		img.Close()
		return nil, errors.New("undecodable sample image")
	}

	smp := &training.Sample{ID: row.ID, Group: group, Rect: row.Rect, Image: &img}
	if len(row.Track) > 0 {
		var track trajectory.MotionTrack
		if err := json.Unmarshal(row.Track, &track); err != nil {
			smp.Close()
			return nil, fmt.Errorf("decode track: %w", err)
		}
		smp.Track = &track
	}
	if len(row.Motion) > 0 {
		mot, err := motion.ReadSnapshot(bytes.NewReader(row.Motion))
		if err != nil {
			smp.Close()
			return nil, fmt.Errorf("decode motion: %w", err)
		}
		smp.Motion = mot
	}
	return smp, nil
}
