package sink

import (
	"sync"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

// LogSink logs whenever the number of regions a classifier reports changes.
type LogSink struct {
	log    logs.Log
	mu     sync.Mutex
	frame  int
	counts map[string]int
}

func NewLogSink(log logs.Log) *LogSink {
	return &LogSink{log: log, counts: make(map[string]int)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) ProcessInput(frame gocv.Mat) {
	s.mu.Lock()
	s.frame++
	s.mu.Unlock()
}

func (s *LogSink) ProcessOutput(frame, mask gocv.Mat, contours gocv.PointsVector, classifierName string) {
	boxes := Regions(mask, contours)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, seen := s.counts[classifierName]; seen && prev == len(boxes) {
		return
	}
	s.counts[classifierName] = len(boxes)
	switch {
	case len(boxes) == 0:
		s.log.Infof("Frame %d: %s lost its detections", s.frame, classifierName)
	case len(boxes) == 1:
		s.log.Infof("Frame %d: %s detected %v", s.frame, classifierName, boxes[0])
	default:
		s.log.Infof("Frame %d: %s detected %d regions, largest %v", s.frame, classifierName, len(boxes), largest(boxes))
	}
}

func (s *LogSink) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = 0
	s.counts = make(map[string]int)
	s.log.Infof("Detection logging started")
}

func (s *LogSink) StopRunning() {
	s.log.Infof("Detection logging stopped")
}
