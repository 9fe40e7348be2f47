package sink

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/store"
)

// DefaultFlushFrames is how many frames StoreSink buffers between writes.
const DefaultFlushFrames = 15

// StoreSink records detections in the catalog database. Rows are buffered
// and written in one transaction every FlushFrames frames and on StopRunning.
type StoreSink struct {
	store       *store.Store
	log         logs.Log
	flushFrames int

	mu      sync.Mutex
	frame   int
	pending []store.Detection
}

func NewStoreSink(s *store.Store, log logs.Log, flushFrames int) *StoreSink {
	if flushFrames <= 0 {
		flushFrames = DefaultFlushFrames
	}
	return &StoreSink{store: s, log: log, flushFrames: flushFrames}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) ProcessInput(frame gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame++
	if s.frame%s.flushFrames == 0 {
		s.flush()
	}
}

func (s *StoreSink) ProcessOutput(frame, mask gocv.Mat, contours gocv.PointsVector, classifierName string) {
	boxes := Regions(mask, contours)
	if len(boxes) == 0 {
		return
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range boxes {
		s.pending = append(s.pending, store.Detection{Classifier: classifierName, Frame: s.frame, Box: b, CreatedAt: now})
	}
}

func (s *StoreSink) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = 0
}

func (s *StoreSink) StopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
}

// flush writes the buffered detections. Callers hold s.mu.
func (s *StoreSink) flush() {
	if len(s.pending) == 0 {
		return
	}
	if err := s.store.Detections().Insert(s.pending); err != nil {
		s.log.Errorf("Failed to store %d detections: %v", len(s.pending), err)
	}
	s.pending = s.pending[:0]
}
