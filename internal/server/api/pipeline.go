package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/vistrain/internal/app"
	"github.com/ayusman/vistrain/internal/capture"
)

// PipelineHandler controls the processing loop and reports its state.
type PipelineHandler struct {
	app *app.App
	// NewSource opens capture sources; tests replace it.
	NewSource func(req StartRequest) capture.Source
}

func NewPipelineHandler(a *app.App) *PipelineHandler {
	return &PipelineHandler{app: a, NewSource: defaultSource}
}

// StartRequest selects the source of a processing session. File wins over Device.
type StartRequest struct {
	Device   int    `json:"device"`
	File     string `json:"file"`
	BottomUp bool   `json:"bottom_up"`
}

func defaultSource(req StartRequest) capture.Source {
	opts := capture.Options{BottomUp: req.BottomUp}
	if req.File != "" {
		return capture.NewFile(req.File, opts)
	}
	return capture.NewDevice(req.Device, opts)
}

type statusResponse struct {
	State            string   `json:"state"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	Frames           int      `json:"frames"`
	ClassifierErrors int      `json:"classifier_errors"`
	SinkErrors       int      `json:"sink_errors"`
	ReadErrors       int      `json:"read_errors"`
	EndOfStream      bool     `json:"end_of_stream"`
	Filters          []string `json:"filters"`
	Outputs          []string `json:"outputs"`
	Classifiers      int      `json:"classifiers"`
}

// ServeHTTP routes /api/pipeline, /api/pipeline/start and /api/pipeline/stop.
func (h *PipelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/pipeline")
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.status(w, r)
	case len(parts) == 1 && parts[0] == "start" && r.Method == http.MethodPost:
		h.start(w, r)
	case len(parts) == 1 && parts[0] == "stop" && r.Method == http.MethodPost:
		h.stop(w, r)
	case len(parts) == 0, len(parts) == 1 && (parts[0] == "start" || parts[0] == "stop"):
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *PipelineHandler) status(w http.ResponseWriter, r *http.Request) {
	st := h.app.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:            st.Pipeline.State.String(),
		Width:            st.Pipeline.Resolution.X,
		Height:           st.Pipeline.Resolution.Y,
		Frames:           st.Pipeline.Frames,
		ClassifierErrors: st.Pipeline.ClassifierErrors,
		SinkErrors:       st.Pipeline.SinkErrors,
		ReadErrors:       st.Pipeline.ReadErrors,
		EndOfStream:      st.Pipeline.EndOfStream,
		Filters:          st.Filters,
		Outputs:          st.Outputs,
		Classifiers:      st.Classifiers,
	})
}

func (h *PipelineHandler) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.app.Start(h.NewSource(req)); err != nil {
		writeFailure(w, err)
		return
	}
	h.status(w, r)
}

func (h *PipelineHandler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Stop(); err != nil {
		writeFailure(w, err)
		return
	}
	h.status(w, r)
}

// DetectionsHandler serves the most recent stored detections.
type DetectionsHandler struct {
	app *app.App
}

func NewDetectionsHandler(a *app.App) *DetectionsHandler {
	return &DetectionsHandler{app: a}
}

type detectionResponse struct {
	Classifier string `json:"classifier"`
	Frame      int    `json:"frame"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	CreatedAt  string `json:"created_at"`
}

type listDetectionsResponse struct {
	Detections []detectionResponse `json:"detections"`
	Totals     map[string]int      `json:"totals"`
}

const defaultDetectionLimit = 100

// ServeHTTP handles GET /api/detections?limit=N.
func (h *DetectionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultDetectionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	repo := h.app.Store().Detections()
	recent, err := repo.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}
	totals, err := repo.CountByClassifier()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count detections")
		return
	}

	response := listDetectionsResponse{
		Detections: make([]detectionResponse, 0, len(recent)),
		Totals:     totals,
	}
	for _, d := range recent {
		response.Detections = append(response.Detections, detectionResponse{
			Classifier: d.Classifier,
			Frame:      d.Frame,
			X:          d.Box.Min.X,
			Y:          d.Box.Min.Y,
			Width:      d.Box.Dx(),
			Height:     d.Box.Dy(),
			CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}
