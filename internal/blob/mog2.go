package blob

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/config"
)

// MOG2Detector finds blobs with OpenCV's Gaussian-mixture background model.
type MOG2Detector struct {
	cfg    config.BlobConfig
	mog    gocv.BackgroundSubtractorMOG2
	kernel gocv.Mat
	fg     gocv.Mat
	bin    gocv.Mat
}

func NewMOG2Detector(cfg config.BlobConfig) *MOG2Detector {
	return &MOG2Detector{
		cfg:    cfg,
		mog:    gocv.NewBackgroundSubtractorMOG2(),
		kernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3)),
		fg:     gocv.NewMat(),
		bin:    gocv.NewMat(),
	}
}

// Detect updates the background model with frame and returns the blobs of
// at least MinArea pixels. Shadow pixels are ignored.
func (d *MOG2Detector) Detect(frame *gocv.Mat) ([]Blob, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("blob: empty frame")
	}
	d.mog.Apply(*frame, &d.fg)
	// MOG2 marks shadows as 127
	gocv.Threshold(d.fg, &d.bin, 200, 255, gocv.ThresholdBinary)
	gocv.MorphologyEx(d.bin, &d.fg, gocv.MorphOpen, d.kernel)

	contours := gocv.FindContours(d.fg, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var blobs []Blob
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < d.cfg.MinArea {
			continue
		}
		blobs = append(blobs, Blob{Box: gocv.BoundingRect(c), Area: area})
	}
	return blobs, nil
}

func (d *MOG2Detector) Close() error {
	d.mog.Close()
	d.kernel.Close()
	d.fg.Close()
	d.bin.Close()
	return nil
}
