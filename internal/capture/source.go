// Package capture opens live devices and recorded video files with GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Default live device settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrResourceUnavailable is returned by Open when the device or file cannot be opened.
	ErrResourceUnavailable = errors.New("capture source unavailable")
	// ErrEndOfStream is returned by ReadFrame once a recorded source is exhausted.
	ErrEndOfStream = errors.New("end of stream")
	// ErrSourceNotOpen is returned when reading from a source that is not open.
	ErrSourceNotOpen = errors.New("capture source is not open")
)

// Source yields sequential frames from a live device or a recorded file.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	Resolution() image.Point
	FPS() float64
	// FrameCount is the total number of frames of a recorded source, 0 for live sources.
	FrameCount() int
	IsLive() bool
	IsOpen() bool
	// BottomUp reports whether the source delivers rows in inverted order.
	BottomUp() bool
}

// Options configures a video source.
type Options struct {
	Width    int
	Height   int
	FPS      float64
	BottomUp bool
}

// videoSource wraps gocv.VideoCapture for both devices and files.
type videoSource struct {
	target  any
	live    bool
	opts    Options
	capture *gocv.VideoCapture
	mu      sync.Mutex
	size    image.Point
	fps     float64
	frames  int
	read    int
}

// NewDevice creates a live source for the given camera device.
func NewDevice(deviceID int, opts Options) Source {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	return &videoSource{target: deviceID, live: true, opts: opts}
}

// NewFile creates a recorded source reading the given video file.
func NewFile(path string, opts Options) Source {
	return &videoSource{target: path, live: false, opts: opts}
}

// Open opens the underlying device or file. On failure no capture state is kept.
func (s *videoSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(s.target)
	if err != nil {
		return fmt.Errorf("%w: %v: %v", ErrResourceUnavailable, s.target, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, s.target)
	}

	if s.live {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))
		capture.Set(gocv.VideoCaptureFPS, s.opts.FPS)
	}

	s.size = image.Pt(int(capture.Get(gocv.VideoCaptureFrameWidth)), int(capture.Get(gocv.VideoCaptureFrameHeight)))
	s.fps = capture.Get(gocv.VideoCaptureFPS)
	if s.fps <= 0 {
		s.fps = s.opts.FPS
	}
	if !s.live {
		s.frames = int(capture.Get(gocv.VideoCaptureFrameCount))
	}
	s.read = 0
	s.capture = capture

	return nil
}

// Close releases the capture handle.
func (s *videoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}

// ReadFrame reads a single frame.
// Recorded sources report ErrEndOfStream when exhausted, live devices report a read failure instead.
func (s *videoSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, ErrSourceNotOpen
	}
	if !s.live && s.frames > 0 && s.read >= s.frames {
		return nil, ErrEndOfStream
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if !s.live {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from device")
	}
	s.read++

	return &mat, nil
}

func (s *videoSource) Resolution() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *videoSource) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

func (s *videoSource) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *videoSource) IsLive() bool   { return s.live }
func (s *videoSource) BottomUp() bool { return s.opts.BottomUp }

func (s *videoSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}
