package pipeline

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/classifier"
)

// OutputSink consumes the frames and detections of a running pipeline.
//
// ProcessInput sees every normalized frame before any classifier runs.
// ProcessOutput is called once per active classifier with the same frame,
// the classifier's mask and the contours traced from it. None of the
// arguments may be retained after the call returns; clone what you keep.
type OutputSink interface {
	Name() string
	ProcessInput(frame gocv.Mat)
	ProcessOutput(frame, mask gocv.Mat, contours gocv.PointsVector, classifierName string)
	StartRunning()
	StopRunning()
}

// Filter is a classifier as the pipeline sees it. *classifier.Classifier
// implements it.
type Filter interface {
	Name() string
	NeedsMotion() bool
	NeedsTrajectories() bool
	Classify(in classifier.Input, mask *gocv.Mat) (classifier.Result, error)
}

// AddActiveFilter appends f to the classifier chain. It returns false if f
// is already in the chain.
func (p *Pipeline) AddActiveFilter(f Filter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.filters {
		if existing == f {
			return false
		}
	}
	p.filters = append(p.filters, f)
	return true
}

// RemoveActiveFilter takes f out of the chain, reporting whether it was there.
func (p *Pipeline) RemoveActiveFilter(f Filter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.filters {
		if existing == f {
			p.filters = append(p.filters[:i], p.filters[i+1:]...)
			return true
		}
	}
	return false
}

// IsActiveFilter reports whether f is in the chain.
func (p *Pipeline) IsActiveFilter(f Filter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.filters {
		if existing == f {
			return true
		}
	}
	return false
}

func (p *Pipeline) ClearActiveFilters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = nil
}

// ActiveFilters returns the names of the chained classifiers in order.
func (p *Pipeline) ActiveFilters() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.filters))
	for i, f := range p.filters {
		names[i] = f.Name()
	}
	return names
}

// AddActiveOutput registers o and calls its StartRunning hook. Adding a
// sink that is already active is a no-op and returns false.
func (p *Pipeline) AddActiveOutput(o OutputSink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.outputs {
		if existing == o {
			return false
		}
	}
	p.outputs = append(p.outputs, o)
	p.safeSink(o, "start", o.StartRunning)
	return true
}

// RemoveActiveOutput unregisters o after calling its StopRunning hook.
func (p *Pipeline) RemoveActiveOutput(o OutputSink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.outputs {
		if existing == o {
			p.safeSink(o, "stop", o.StopRunning)
			p.outputs = append(p.outputs[:i], p.outputs[i+1:]...)
			return true
		}
	}
	return false
}

// ClearActiveOutputs stops every registered sink, then empties the list.
func (p *Pipeline) ClearActiveOutputs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.outputs {
		p.safeSink(o, "stop", o.StopRunning)
	}
	p.outputs = nil
}

// ActiveOutputs returns the names of the registered sinks in order.
func (p *Pipeline) ActiveOutputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.outputs))
	for i, o := range p.outputs {
		names[i] = o.Name()
	}
	return names
}

// safeSink runs one sink hook, converting a panic into a logged sink error.
// Callers hold p.mu.
func (p *Pipeline) safeSink(o OutputSink, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.SinkErrors++
			p.log.Errorf("Output %s panicked in %s: %v", o.Name(), hook, r)
		}
	}()
	fn()
}
