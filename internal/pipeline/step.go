package pipeline

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/classifier"
	"github.com/ayusman/vistrain/internal/trajectory"
)

// contourApproxEpsilon is the polygon approximation tolerance, in pixels,
// applied to mask contours before they are drawn and handed to sinks.
const contourApproxEpsilon = 3

var black = gocv.NewScalar(0, 0, 0, 0)

// step processes one captured frame. Callers hold p.mu.
func (p *Pipeline) step(s *session, raw *gocv.Mat) {
	s.normalize(raw)

	in := classifier.Input{Frame: s.frame}
	if p.anyFilter(Filter.NeedsMotion) {
		if _, err := s.history.Update(s.frame); err != nil {
			p.log.Warnf("Motion history update failed on frame %d: %v", s.index, err)
		} else {
			in.Motion = s.history.Snapshot()
		}
	}
	if p.anyFilter(Filter.NeedsTrajectories) {
		if track, ok := p.trackBlobs(s); ok {
			in.Track = &track
		}
	}

	for _, o := range p.outputs {
		p.safeSink(o, "input", func() { o.ProcessInput(s.frame) })
	}

	s.output.SetTo(black)
	weight := 1.0 / float64(len(p.filters))
	for i, f := range p.filters {
		s.mask.SetTo(gocv.NewScalar(255, 0, 0, 0))
		if _, err := p.classify(f, in, &s.mask); err != nil {
			p.stats.ClassifierErrors++
			p.log.Warnf("Classifier %s failed on frame %d: %v", f.Name(), s.index, err)
			s.mask.SetTo(black)
		}

		s.accum.SetTo(black)
		s.frame.CopyToWithMask(&s.accum, s.mask)
		contours := traceContours(s.mask)
		if contours.Size() > 0 {
			gocv.DrawContours(&s.accum, contours, -1, p.cfg.Swatch(i), 2)
		}
		gocv.AddWeighted(s.accum, weight, s.output, 1, 0, &s.output)

		name := f.Name()
		for _, o := range p.outputs {
			p.safeSink(o, "output", func() { o.ProcessOutput(s.frame, s.mask, contours, name) })
		}
		contours.Close()
	}

	s.frame.CopyTo(&s.shownInput)
	s.output.CopyTo(&s.shownOutput)
	s.shownFrame = s.index
	s.shownMotion = in.Motion
	s.shownTrack = in.Track

	s.index++
	p.stats.Frames++
}

// normalize copies raw into the session frame: three channels, session
// resolution, top-down row order.
func (s *session) normalize(raw *gocv.Mat) {
	src := *raw
	if src.Channels() == 1 {
		color := gocv.NewMat()
		defer color.Close()
		gocv.CvtColor(src, &color, gocv.ColorGrayToBGR)
		src = color
	}
	if src.Cols() != s.size.X || src.Rows() != s.size.Y {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(src, &resized, s.size, 0, 0, gocv.InterpolationLinear)
		src = resized
	}
	if s.bottomUp {
		gocv.Flip(src, &s.frame, 0)
	} else {
		src.CopyTo(&s.frame)
	}
}

func (p *Pipeline) anyFilter(needs func(Filter) bool) bool {
	for _, f := range p.filters {
		if needs(f) {
			return true
		}
	}
	return false
}

// trackBlobs feeds the frame's foreground blobs to the blob tracker and
// returns the best exported trajectory.
func (p *Pipeline) trackBlobs(s *session) (trajectory.MotionTrack, bool) {
	blobs, err := s.detector.Detect(&s.frame)
	if err != nil {
		p.log.Warnf("Blob detection failed on frame %d: %v", s.index, err)
		return trajectory.MotionTrack{}, false
	}
	if err := s.blobs.Update(blobs, s.index); err != nil {
		p.log.Warnf("Blob tracking failed on frame %d: %v", s.index, err)
	}
	return s.trajectories.BestTrack()
}

// classify runs one classifier, turning a panic into an error.
func (p *Pipeline) classify(f Filter, in classifier.Input, mask *gocv.Mat) (res classifier.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.Classify(in, mask)
}

// traceContours returns the simplified outlines of the mask's regions.
func traceContours(mask gocv.Mat) gocv.PointsVector {
	found := gocv.FindContours(mask, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer found.Close()
	out := gocv.NewPointsVector()
	for i := 0; i < found.Size(); i++ {
		approx := gocv.ApproxPolyDP(found.At(i), contourApproxEpsilon, true)
		if approx.Size() > 0 {
			out.Append(approx)
		}
		approx.Close()
	}
	return out
}

// ContourBoxes returns the bounding rectangles of contours. Sinks use it to
// turn the ProcessOutput arguments into detections.
func ContourBoxes(contours gocv.PointsVector) []image.Rectangle {
	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, gocv.BoundingRect(contours.At(i)))
	}
	return boxes
}
