package server

import (
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/pipeline"
)

const streamInterval = 66 * time.Millisecond // ~15 FPS

// StreamHandler serves the pipeline's published frames as MJPEG. The
// classified output is streamed by default, the normalized input with
// ?view=input.
type StreamHandler struct {
	pipeline *pipeline.Pipeline
}

func NewStreamHandler(p *pipeline.Pipeline) *StreamHandler {
	return &StreamHandler{pipeline: p}
}

// ServeHTTP streams MJPEG frames until the client disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	input := r.URL.Query().Get("view") == "input"

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	last := -1
	for {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(streamInterval):
		}

		snap, err := h.pipeline.Snapshot()
		if err != nil {
			continue
		}
		if snap.Frame == last {
			snap.Close()
			continue
		}
		last = snap.Frame

		img := snap.Output
		if input {
			img = snap.Input
		}
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		snap.Close()
		if err != nil {
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		w.Write(buf.GetBytes())
		fmt.Fprintf(w, "\r\n")
		buf.Close()

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
