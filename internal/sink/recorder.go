package sink

import (
	"fmt"
	"image"
	"sync"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
)

// RecorderSink writes every frame, with each classifier's contours traced in
// its palette colour, to a video file. The file is created on the first
// frame and finalized by StopRunning.
type RecorderSink struct {
	cfg   *config.Config
	log   logs.Log
	path  string
	codec string
	fps   float64

	mu      sync.Mutex
	writer  *gocv.VideoWriter
	pending gocv.Mat
	hasNext bool
	colors  map[string]int
	written int
	failed  bool
}

// NewRecorderSink records to path at fps frames per second using the MJPG codec.
func NewRecorderSink(cfg *config.Config, log logs.Log, path string, fps float64) *RecorderSink {
	if fps <= 0 {
		fps = 15
	}
	return &RecorderSink{
		cfg:     cfg,
		log:     log,
		path:    path,
		codec:   "MJPG",
		fps:     fps,
		pending: gocv.NewMat(),
		colors:  make(map[string]int),
	}
}

func (s *RecorderSink) Name() string { return "recorder" }

// ProcessInput writes out the previous annotated frame and starts a new one.
func (s *RecorderSink) ProcessInput(frame gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
	frame.CopyTo(&s.pending)
	s.hasNext = true
}

func (s *RecorderSink) ProcessOutput(frame, mask gocv.Mat, contours gocv.PointsVector, classifierName string) {
	if len(Regions(mask, contours)) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasNext {
		return
	}
	slot, ok := s.colors[classifierName]
	if !ok {
		slot = len(s.colors)
		s.colors[classifierName] = slot
	}
	gocv.DrawContours(&s.pending, contours, -1, s.cfg.Swatch(slot), 2)
	gocv.PutText(&s.pending, classifierName, image.Pt(8, 20+16*slot), gocv.FontHersheySimplex, 0.5, s.cfg.Swatch(slot), 1)
}

func (s *RecorderSink) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = false
	s.written = 0
}

// StopRunning writes the last frame and closes the file.
func (s *RecorderSink) StopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			s.log.Warnf("Closing recording %s: %v", s.path, err)
		}
		s.writer = nil
		s.log.Infof("Recorded %d frames to %s", s.written, s.path)
	}
}

// Written returns the number of frames written so far.
func (s *RecorderSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close releases the frame buffer. Call after StopRunning.
func (s *RecorderSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Close()
}

// flush writes the pending frame. Callers hold s.mu.
func (s *RecorderSink) flush() {
	if !s.hasNext || s.failed {
		return
	}
	s.hasNext = false
	if s.writer == nil {
		w, err := s.open(s.pending.Cols(), s.pending.Rows())
		if err != nil {
			s.failed = true
			s.log.Errorf("Recording disabled: %v", err)
			return
		}
		s.writer = w
	}
	if err := s.writer.Write(s.pending); err != nil {
		s.log.Warnf("Writing frame to %s: %v", s.path, err)
		return
	}
	s.written++
}

func (s *RecorderSink) open(width, height int) (*gocv.VideoWriter, error) {
	w, err := gocv.VideoWriterFile(s.path, s.codec, s.fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("open %s: codec %s unavailable", s.path, s.codec)
	}
	return w, nil
}
