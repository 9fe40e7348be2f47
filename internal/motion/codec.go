package motion

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
)

// Snapshot files are little-endian int32 width and height, float64
// timestamp and duration, then width*height float32 MHI values.

const maxSnapshotPixels = 1 << 24

// Crop returns the part of the snapshot inside r, clipped to its bounds.
func (s *Snapshot) Crop(r image.Rectangle) *Snapshot {
	r = r.Intersect(image.Rect(0, 0, s.Width, s.Height))
	out := &Snapshot{
		Width:     r.Dx(),
		Height:    r.Dy(),
		Timestamp: s.Timestamp,
		Duration:  s.Duration,
		MHI:       make([]float32, 0, r.Dx()*r.Dy()),
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		out.MHI = append(out.MHI, s.MHI[y*s.Width+r.Min.X:y*s.Width+r.Max.X]...)
	}
	return out
}

// WriteTo encodes the snapshot.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	if len(s.MHI) != s.Width*s.Height {
		return 0, fmt.Errorf("snapshot has %d values for %dx%d", len(s.MHI), s.Width, s.Height)
	}
	if err := binary.Write(w, binary.LittleEndian, []int32{int32(s.Width), int32(s.Height)}); err != nil {
		return 0, fmt.Errorf("write snapshot size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, []float64{s.Timestamp, s.Duration}); err != nil {
		return 0, fmt.Errorf("write snapshot time: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.MHI); err != nil {
		return 0, fmt.Errorf("write snapshot values: %w", err)
	}
	return int64(8 + 16 + 4*len(s.MHI)), nil
}

// ReadSnapshot decodes a snapshot written by WriteTo.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	size := make([]int32, 2)
	if err := binary.Read(r, binary.LittleEndian, size); err != nil {
		return nil, fmt.Errorf("read snapshot size: %w", err)
	}
	w, h := int(size[0]), int(size[1])
	if w < 0 || h < 0 || w*h > maxSnapshotPixels {
		return nil, fmt.Errorf("invalid snapshot size %dx%d", w, h)
	}
	times := make([]float64, 2)
	if err := binary.Read(r, binary.LittleEndian, times); err != nil {
		return nil, fmt.Errorf("read snapshot time: %w", err)
	}
	s := &Snapshot{Width: w, Height: h, Timestamp: times[0], Duration: times[1], MHI: make([]float32, w*h)}
	if err := binary.Read(r, binary.LittleEndian, s.MHI); err != nil {
		return nil, fmt.Errorf("read snapshot values: %w", err)
	}
	return s, nil
}
