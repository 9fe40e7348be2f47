package blob

import (
	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It returns queued frames of blobs in order, then the fixed blobs.
type MockDetector struct {
	blobs []Blob
	queue [][]Blob
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetBlobs sets the blobs returned once the queue is empty.
func (m *MockDetector) SetBlobs(blobs []Blob) {
	m.blobs = blobs
}

// Queue appends per-frame results.
func (m *MockDetector) Queue(frames ...[]Blob) {
	m.queue = append(m.queue, frames...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.err = err
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	return m.calls
}

func (m *MockDetector) Detect(frame *gocv.Mat) ([]Blob, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.blobs, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
