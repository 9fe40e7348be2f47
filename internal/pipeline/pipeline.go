// Package pipeline runs the classifier chain over a video source.
//
// One goroutine per session reads frames, updates the motion history and
// blob trajectories when an active classifier needs them, evaluates the
// chain in registration order and fans the results out to the registered
// sinks. A single mutex guards the session buffers and the classifier and
// sink lists; it is released while the next frame is acquired.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/blob"
	"github.com/ayusman/vistrain/internal/capture"
	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/motion"
	"github.com/ayusman/vistrain/internal/trajectory"
)

var (
	ErrAlreadyRunning = errors.New("pipeline is already running")
	ErrNotRunning     = errors.New("pipeline is not running")
)

const (
	// maxReadErrors consecutive failed reads end a session.
	maxReadErrors  = 30
	readRetryDelay = 10 * time.Millisecond
)

// State of a pipeline.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "idle"
}

// Stats are counters for the current or most recent session.
type Stats struct {
	State            State
	Resolution       image.Point
	Frames           int
	ClassifierErrors int
	SinkErrors       int
	ReadErrors       int
	EndOfStream      bool
}

// Options configures a Pipeline.
type Options struct {
	// NewDetector builds the foreground blob detector for each session.
	// Defaults to a MOG2 background subtractor.
	NewDetector func() blob.Detector
}

// Pipeline is the frame processing state machine: Idle, Running, Stopping.
type Pipeline struct {
	cfg         *config.Config
	log         logs.Log
	newDetector func() blob.Detector

	mu      sync.Mutex
	state   State
	sess    *session
	filters []Filter
	outputs []OutputSink
	stats   Stats
}

// session owns every buffer of one processing run.
type session struct {
	source   capture.Source
	size     image.Point
	bottomUp bool
	index    int

	frame  gocv.Mat // normalized copy of the captured frame
	mask   gocv.Mat // GuessMask of the classifier being evaluated
	accum  gocv.Mat // masked frame of the classifier being evaluated
	output gocv.Mat // weighted sum of all accumulators

	// published views, rewritten at the end of every iteration
	shownInput  gocv.Mat
	shownOutput gocv.Mat
	shownFrame  int
	shownMotion *motion.Snapshot
	shownTrack  *trajectory.MotionTrack

	history      *motion.History
	detector     blob.Detector
	blobs        *blob.Tracker
	trajectories *trajectory.Tracker

	stop atomic.Bool
	done chan struct{}
}

func New(cfg *config.Config, log logs.Log, opts Options) *Pipeline {
	newDetector := opts.NewDetector
	if newDetector == nil {
		newDetector = func() blob.Detector { return blob.NewMOG2Detector(cfg.Blob) }
	}
	return &Pipeline{
		cfg:         cfg,
		log:         log,
		newDetector: newDetector,
	}
}

// StartProcessing opens src and starts the processing goroutine. It returns
// without waiting for the first frame. If src cannot be opened the error
// wraps capture.ErrResourceUnavailable and no session state is created.
func (p *Pipeline) StartProcessing(src capture.Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return ErrAlreadyRunning
	}
	if err := src.Open(); err != nil {
		if errors.Is(err, capture.ErrResourceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", capture.ErrResourceUnavailable, err)
	}
	size := src.Resolution()
	if size.X <= 0 || size.Y <= 0 {
		src.Close()
		return fmt.Errorf("%w: source reports no resolution", capture.ErrResourceUnavailable)
	}

	s := p.newSession(src, size)
	p.sess = s
	p.state = StateRunning
	p.stats = Stats{State: StateRunning, Resolution: size}

	kind := "recorded"
	if src.IsLive() {
		kind = "live"
	}
	p.log.Infof("Processing %s source %dx%d at %.1f fps", kind, size.X, size.Y, src.FPS())
	go p.run(s)
	return nil
}

func (p *Pipeline) newSession(src capture.Source, size image.Point) *session {
	w, h := size.X, size.Y
	trajectories := trajectory.NewTracker(p.cfg.Trajectory)
	return &session{
		source:       src,
		size:         size,
		bottomUp:     src.BottomUp(),
		frame:        blank(h, w, gocv.MatTypeCV8UC3),
		mask:         blank(h, w, gocv.MatTypeCV8UC1),
		accum:        blank(h, w, gocv.MatTypeCV8UC3),
		output:       blank(h, w, gocv.MatTypeCV8UC3),
		shownInput:   blank(h, w, gocv.MatTypeCV8UC3),
		shownOutput:  blank(h, w, gocv.MatTypeCV8UC3),
		history:      motion.NewHistory(p.cfg.Motion, w, h),
		detector:     p.newDetector(),
		blobs:        blob.NewTracker(p.cfg.Blob, trajectories, p.log),
		trajectories: trajectories,
		done:         make(chan struct{}),
	}
}

func blank(rows, cols int, typ gocv.MatType) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, typ)
}

func (s *session) close() {
	s.source.Close()
	if s.detector != nil {
		s.detector.Close()
	}
	for _, m := range []*gocv.Mat{&s.frame, &s.mask, &s.accum, &s.output, &s.shownInput, &s.shownOutput} {
		m.Close()
	}
}

// StopProcessing asks the processing goroutine to finish its current
// iteration and waits until it has released the session. It has no timeout.
func (p *Pipeline) StopProcessing() error {
	p.mu.Lock()
	s := p.sess
	if s == nil {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.state = StateStopping
	p.stats.State = StateStopping
	p.mu.Unlock()

	s.stop.Store(true)
	<-s.done
	return nil
}

// Done returns a channel that is closed when the current session ends,
// whether stopped or at end of stream. With no session it is already closed.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return p.sess.done
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Snapshot holds copies of the published buffers. Close releases them.
type Snapshot struct {
	Input  gocv.Mat
	Output gocv.Mat
	// Frame is the index of the frame the buffers were published for.
	Frame int
	// Motion and Track are set when a motion or gesture classifier was
	// active for that frame.
	Motion *motion.Snapshot
	Track  *trajectory.MotionTrack
}

func (s *Snapshot) Close() {
	s.Input.Close()
	s.Output.Close()
}

// Snapshot copies the most recently published input and output frames.
func (p *Pipeline) Snapshot() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil, ErrNotRunning
	}
	return &Snapshot{
		Input:  p.sess.shownInput.Clone(),
		Output: p.sess.shownOutput.Clone(),
		Frame:  p.sess.shownFrame,
		Motion: p.sess.shownMotion,
		Track:  p.sess.shownTrack,
	}, nil
}

// Close stops a running session and detaches every sink and classifier.
func (p *Pipeline) Close() {
	if err := p.StopProcessing(); err != nil && !errors.Is(err, ErrNotRunning) {
		p.log.Warnf("Stopping pipeline: %v", err)
	}
	p.ClearActiveOutputs()
	p.ClearActiveFilters()
}

// run is the processing loop of session s. The next frame is read without
// holding p.mu, so list mutations and snapshot reads are never stalled by
// frame acquisition.
func (p *Pipeline) run(s *session) {
	defer close(s.done)

	readErrors := 0
	for !s.stop.Load() {
		raw, err := s.source.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			p.mu.Lock()
			p.stats.EndOfStream = true
			p.mu.Unlock()
			p.log.Infof("End of stream after %d frames", s.index)
			break
		}
		if err != nil {
			readErrors++
			p.mu.Lock()
			p.stats.ReadErrors++
			p.mu.Unlock()
			if readErrors >= maxReadErrors {
				p.log.Errorf("Giving up after %d failed reads: %v", readErrors, err)
				break
			}
			p.log.Warnf("Failed to read frame: %v", err)
			time.Sleep(readRetryDelay)
			continue
		}
		readErrors = 0

		if s.stop.Load() {
			raw.Close()
			break
		}
		p.mu.Lock()
		p.step(s, raw)
		p.mu.Unlock()
		raw.Close()
	}

	p.mu.Lock()
	s.close()
	p.sess = nil
	p.state = StateIdle
	p.stats.State = StateIdle
	frames := p.stats.Frames
	p.mu.Unlock()
	p.log.Infof("Processing stopped after %d frames", frames)
}
