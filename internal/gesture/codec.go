package gesture

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ayusman/vistrain/internal/trajectory"
)

// Library files are little-endian: an int32 template count followed by the
// templates. Each template is an int32 name length, the UTF-8 name, an int32
// sample count and six float64 values per sample (x, y, vx, vy, sizex, sizey).

const maxCodecLen = 1 << 20

// EncodeLibrary writes the templates to w.
func EncodeLibrary(w io.Writer, library []Template) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(library))); err != nil {
		return fmt.Errorf("write template count: %w", err)
	}
	for i, t := range library {
		if err := encodeTemplate(w, t); err != nil {
			return fmt.Errorf("write template %d: %w", i, err)
		}
	}
	return nil
}

func encodeTemplate(w io.Writer, t Template) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(t.Name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, t.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(t.Samples))); err != nil {
		return err
	}
	buf := make([]float64, 0, 6*len(t.Samples))
	for _, s := range t.Samples {
		buf = append(buf, s.X, s.Y, s.VX, s.VY, s.SizeX, s.SizeY)
	}
	return binary.Write(w, binary.LittleEndian, buf)
}

// DecodeLibrary reads templates written by EncodeLibrary.
func DecodeLibrary(r io.Reader) ([]Template, error) {
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read template count: %w", err)
	}
	if count < 0 || count > maxCodecLen {
		return nil, fmt.Errorf("invalid template count %d", count)
	}

	library := make([]Template, 0, count)
	for i := int32(0); i < count; i++ {
		t, err := decodeTemplate(r)
		if err != nil {
			return nil, fmt.Errorf("read template %d: %w", i, err)
		}
		library = append(library, t)
	}
	return library, nil
}

func decodeTemplate(r io.Reader) (Template, error) {
	var nameLen int32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return Template{}, err
	}
	if nameLen < 0 || nameLen > maxCodecLen {
		return Template{}, fmt.Errorf("invalid name length %d", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Template{}, err
	}

	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return Template{}, err
	}
	if n < 0 || n > maxCodecLen {
		return Template{}, fmt.Errorf("invalid sample count %d", n)
	}
	buf := make([]float64, 6*n)
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return Template{}, err
	}

	t := Template{Name: string(name), Samples: make([]trajectory.MotionSample, n)}
	for i := range t.Samples {
		v := buf[6*i : 6*i+6]
		t.Samples[i] = trajectory.MotionSample{X: v[0], Y: v[1], VX: v[2], VY: v[3], SizeX: v[4], SizeY: v[5]}
	}
	return t, nil
}
