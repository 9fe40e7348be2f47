package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockSource plays back in-memory frames for testing.
// Without looping it behaves like a recorded file and ends with ErrEndOfStream.
type MockSource struct {
	frames   []*gocv.Mat
	index    int
	loop     bool
	bottomUp bool
	openErr  error
	mu       sync.Mutex
	running  bool
}

func NewMockSource(frames []*gocv.Mat, loop bool) *MockSource {
	return &MockSource{
		frames: frames,
		loop:   loop,
	}
}

// FailOpen makes the next Open calls fail with err.
func (s *MockSource) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// SetBottomUp marks the frames as stored with inverted row order.
func (s *MockSource) SetBottomUp(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bottomUp = v
}

func (s *MockSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.running = true
	s.index = 0
	return nil
}

func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *MockSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, ErrSourceNotOpen
	}

	if s.index >= len(s.frames) {
		if !s.loop || len(s.frames) == 0 {
			return nil, ErrEndOfStream
		}
		s.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := s.frames[s.index].Clone()
	s.index++

	return &frame, nil
}

func (s *MockSource) Resolution() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return image.Point{}
	}
	return image.Pt(s.frames[0].Cols(), s.frames[0].Rows())
}

func (s *MockSource) FPS() float64 { return 15 }

func (s *MockSource) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop {
		return 0
	}
	return len(s.frames)
}

func (s *MockSource) IsLive() bool { return s.loop }

func (s *MockSource) BottomUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bottomUp
}

func (s *MockSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Position returns how many frames have been played since Open.
func (s *MockSource) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}
