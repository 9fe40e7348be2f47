package features

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Template files are little-endian int32 width, height, keypoint count and
// descriptor length, then per keypoint float32 x, y and the descriptor.

const maxKeypoints = 1 << 20

// WriteTo encodes the template.
func (t Template) WriteTo(w io.Writer) (int64, error) {
	dims := 0
	if len(t.Keypoints) > 0 {
		dims = len(t.Keypoints[0].Descriptor)
	}
	header := []int32{int32(t.Width), int32(t.Height), int32(len(t.Keypoints)), int32(dims)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return 0, fmt.Errorf("write template header: %w", err)
	}

	buf := make([]float32, 0, len(t.Keypoints)*(2+dims))
	for i, kp := range t.Keypoints {
		if len(kp.Descriptor) != dims {
			return 0, fmt.Errorf("keypoint %d has %d descriptor values, want %d", i, len(kp.Descriptor), dims)
		}
		buf = append(buf, float32(kp.X), float32(kp.Y))
		for _, v := range kp.Descriptor {
			buf = append(buf, float32(v))
		}
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return 0, fmt.Errorf("write keypoints: %w", err)
	}
	return int64(4*len(header) + 4*len(buf)), nil
}

// ReadTemplate decodes a template written by WriteTo.
func ReadTemplate(r io.Reader) (Template, error) {
	header := make([]int32, 4)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return Template{}, fmt.Errorf("read template header: %w", err)
	}
	n, dims := header[2], header[3]
	if n < 0 || n > maxKeypoints || dims < 0 || dims > 1024 {
		return Template{}, fmt.Errorf("invalid template header %v", header)
	}

	buf := make([]float32, int(n)*int(2+dims))
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return Template{}, fmt.Errorf("read keypoints: %w", err)
	}

	t := Template{Width: int(header[0]), Height: int(header[1]), Keypoints: make([]Keypoint, n)}
	stride := int(2 + dims)
	for i := range t.Keypoints {
		row := buf[i*stride : (i+1)*stride]
		desc := make([]float64, dims)
		for j := range desc {
			desc[j] = float64(row[2+j])
		}
		t.Keypoints[i] = Keypoint{Point: Point{X: float64(row[0]), Y: float64(row[1])}, Descriptor: desc}
	}
	return t, nil
}
