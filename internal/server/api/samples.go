package api

import (
	"image"
	"net/http"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/app"
	"github.com/ayusman/vistrain/internal/training"
)

// SamplesHandler handles HTTP requests for classifier training samples.
type SamplesHandler struct {
	app *app.App
}

func NewSamplesHandler(a *app.App) *SamplesHandler {
	return &SamplesHandler{app: a}
}

// serve handles /api/classifiers/{id}/samples followed by rest.
func (h *SamplesHandler) serve(w http.ResponseWriter, r *http.Request, classifierID string, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r, classifierID)
		case http.MethodPost:
			h.capture(w, r, classifierID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case 1:
		switch r.Method {
		case http.MethodPut:
			h.move(w, r, classifierID, rest[0])
		case http.MethodDelete:
			h.remove(w, r, classifierID, rest[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case 2:
		if rest[1] != "image" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.serveImage(w, r, classifierID, rest[0])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type captureSampleRequest struct {
	Group  string `json:"group"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type moveSampleRequest struct {
	Group string `json:"group"`
}

type sampleResponse struct {
	ID        string `json:"id"`
	Group     string `json:"group"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	HasMotion bool   `json:"has_motion"`
	HasTrack  bool   `json:"has_track"`
}

type listSamplesResponse struct {
	Samples []sampleResponse `json:"samples"`
}

func toSampleResponse(s *training.Sample) sampleResponse {
	return sampleResponse{
		ID:        s.ID,
		Group:     s.Group.String(),
		X:         s.Rect.Min.X,
		Y:         s.Rect.Min.Y,
		Width:     s.Rect.Dx(),
		Height:    s.Rect.Dy(),
		HasMotion: s.Motion != nil,
		HasTrack:  s.Track != nil,
	}
}

// list handles GET /api/classifiers/{id}/samples.
func (h *SamplesHandler) list(w http.ResponseWriter, r *http.Request, classifierID string) {
	samples, err := h.app.Samples(classifierID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	response := listSamplesResponse{
		Samples: make([]sampleResponse, 0, len(samples)),
	}
	for _, s := range samples {
		response.Samples = append(response.Samples, toSampleResponse(s))
	}
	writeJSON(w, http.StatusOK, response)
}

// capture handles POST /api/classifiers/{id}/samples. The region is cut
// from the frame currently shown by the pipeline.
func (h *SamplesHandler) capture(w http.ResponseWriter, r *http.Request, classifierID string) {
	var req captureSampleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	group, err := training.ParseGroup(req.Group)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeError(w, http.StatusBadRequest, "Region must have a positive size")
		return
	}

	rect := image.Rect(req.X, req.Y, req.X+req.Width, req.Y+req.Height)
	smp, err := h.app.AddSample(classifierID, group, rect)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSampleResponse(smp))
}

// move handles PUT /api/classifiers/{id}/samples/{sid}.
func (h *SamplesHandler) move(w http.ResponseWriter, r *http.Request, classifierID, sampleID string) {
	var req moveSampleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	group, err := training.ParseGroup(req.Group)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.app.MoveSample(classifierID, sampleID, group); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SamplesHandler) remove(w http.ResponseWriter, r *http.Request, classifierID, sampleID string) {
	if err := h.app.RemoveSample(classifierID, sampleID); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveImage writes the sample crop as a PNG.
func (h *SamplesHandler) serveImage(w http.ResponseWriter, r *http.Request, classifierID, sampleID string) {
	samples, err := h.app.Samples(classifierID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	for _, s := range samples {
		if s.ID != sampleID {
			continue
		}
		buf, err := gocv.IMEncode(gocv.PNGFileExt, *s.Image)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode sample")
			return
		}
		defer buf.Close()
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.GetBytes())
		return
	}
	writeError(w, http.StatusNotFound, "Sample not found")
}
