// Package training holds the labelled samples classifiers are trained from.
package training

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/motion"
	"github.com/ayusman/vistrain/internal/trajectory"
)

// Group tags a sample's role in training.
type Group int

const (
	GroupPositive Group = iota
	GroupNegative
	GroupRange
	GroupTrash
)

func (g Group) String() string {
	switch g {
	case GroupPositive:
		return "positive"
	case GroupNegative:
		return "negative"
	case GroupRange:
		return "range"
	case GroupTrash:
		return "trash"
	}
	return fmt.Sprintf("group(%d)", int(g))
}

// ParseGroup is the inverse of Group.String.
func ParseGroup(s string) (Group, error) {
	for g := GroupPositive; g <= GroupTrash; g++ {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown sample group %q", s)
}

// ErrSampleNotFound is returned for unknown sample ids.
var ErrSampleNotFound = errors.New("sample not found")

// Sample is one labelled example. Image is the selected region of the
// originating frame; Motion and Track are set when the region was captured
// while motion or trajectory tracking was running.
type Sample struct {
	ID     string
	Group  Group
	Rect   image.Rectangle
	Image  *gocv.Mat
	Motion *motion.Snapshot
	Track  *trajectory.MotionTrack
}

// NewSample copies rect out of frame. The sample owns the copy.
func NewSample(group Group, frame gocv.Mat, rect image.Rectangle) (*Sample, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	rect = rect.Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("sample region %v lies outside the %dx%d frame", rect, frame.Cols(), frame.Rows())
	}
	region := frame.Region(rect)
	defer region.Close()
	crop := region.Clone()
	return &Sample{Group: group, Rect: rect, Image: &crop}, nil
}

// Close releases the sample image.
func (s *Sample) Close() {
	if s.Image != nil {
		s.Image.Close()
		s.Image = nil
	}
}

// Counts is the number of samples per group.
type Counts struct {
	Positive int
	Negative int
	Range    int
	Trash    int
}

// Set maps sample ids to samples and keeps insertion order.
type Set struct {
	mu      sync.RWMutex
	samples map[string]*Sample
	order   []string
}

func NewSet() *Set {
	return &Set{samples: make(map[string]*Sample)}
}

// Add stores the sample, assigning a new id when it has none, and returns the id.
func (s *Set) Add(sample *Sample) (string, error) {
	if sample == nil {
		return "", errors.New("nil sample")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if _, exists := s.samples[sample.ID]; exists {
		return "", fmt.Errorf("sample %s already in set", sample.ID)
	}
	s.samples[sample.ID] = sample
	s.order = append(s.order, sample.ID)
	return sample.ID, nil
}

// Get returns the sample with the given id.
func (s *Set) Get(id string) (*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[id]
	if !ok {
		return nil, ErrSampleNotFound
	}
	return sample, nil
}

// Move changes the group of a sample.
func (s *Set) Move(id string, group Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[id]
	if !ok {
		return ErrSampleNotFound
	}
	sample.Group = group
	return nil
}

// Remove deletes a sample and releases its image.
func (s *Set) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[id]
	if !ok {
		return ErrSampleNotFound
	}
	sample.Close()
	delete(s.samples, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ByGroup returns the samples of one group in insertion order.
func (s *Set) ByGroup(group Group) []*Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Sample
	for _, id := range s.order {
		if sample := s.samples[id]; sample.Group == group {
			out = append(out, sample)
		}
	}
	return out
}

// All returns every sample in insertion order.
func (s *Set) All() []*Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Sample, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.samples[id])
	}
	return out
}

// Counts tallies the samples per group.
func (s *Set) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, sample := range s.samples {
		switch sample.Group {
		case GroupPositive:
			c.Positive++
		case GroupNegative:
			c.Negative++
		case GroupRange:
			c.Range++
		case GroupTrash:
			c.Trash++
		}
	}
	return c
}

// Len returns the number of samples.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Close releases every sample image and empties the set.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range s.samples {
		sample.Close()
	}
	s.samples = make(map[string]*Sample)
	s.order = nil
}
