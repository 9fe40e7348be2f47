package api

import (
	"net/http"

	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/app"
	"github.com/ayusman/vistrain/internal/classifier"
)

// ClassifierHandler handles HTTP requests for classifier resources.
type ClassifierHandler struct {
	app     *app.App
	samples *SamplesHandler
}

func NewClassifierHandler(a *app.App) *ClassifierHandler {
	return &ClassifierHandler{app: a, samples: NewSamplesHandler(a)}
}

// ServeHTTP routes
//
//	/api/classifiers
//	/api/classifiers/{id}
//	/api/classifiers/{id}/{train|save|activate|deactivate|demo}
//	/api/classifiers/{id}/samples[/...]
func (h *ClassifierHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/classifiers")

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 1:
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodPut:
			h.update(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case parts[1] == "samples":
		h.samples.serve(w, r, parts[0], parts[2:])

	case len(parts) == 2:
		h.action(w, r, parts[0], parts[1])

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type createClassifierRequest struct {
	Variant string `json:"variant"`
	Name    string `json:"name"`
}

type updateClassifierRequest struct {
	Name      string   `json:"name"`
	Threshold *float64 `json:"threshold"`
}

type sampleCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Range    int `json:"range"`
	Trash    int `json:"trash"`
}

type classifierResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Variant   string       `json:"variant"`
	Threshold float64      `json:"threshold"`
	Trained   bool         `json:"trained"`
	Saved     bool         `json:"saved"`
	Active    bool         `json:"active"`
	Samples   sampleCounts `json:"samples"`
}

type listClassifiersResponse struct {
	Classifiers []classifierResponse `json:"classifiers"`
}

func (h *ClassifierHandler) toResponse(c *classifier.Classifier) classifierResponse {
	resp := classifierResponse{
		ID:        c.ID(),
		Name:      c.Name(),
		Variant:   c.Variant().String(),
		Threshold: c.Threshold(),
		Trained:   c.IsTrained(),
		Saved:     c.IsOnDisk(),
		Active:    h.app.Pipeline().IsActiveFilter(c),
	}
	if counts, err := h.app.SampleCounts(c.ID()); err == nil {
		resp.Samples = sampleCounts{
			Positive: counts.Positive,
			Negative: counts.Negative,
			Range:    counts.Range,
			Trash:    counts.Trash,
		}
	}
	return resp
}

// list handles GET /api/classifiers.
func (h *ClassifierHandler) list(w http.ResponseWriter, r *http.Request) {
	all := h.app.Library().List()
	response := listClassifiersResponse{
		Classifiers: make([]classifierResponse, 0, len(all)),
	}
	for _, c := range all {
		response.Classifiers = append(response.Classifiers, h.toResponse(c))
	}
	writeJSON(w, http.StatusOK, response)
}

// create handles POST /api/classifiers.
func (h *ClassifierHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createClassifierRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	variant, err := classifier.ParseVariant(req.Variant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.app.CreateClassifier(variant, req.Name)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(c))
}

func (h *ClassifierHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.app.Classifier(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(c))
}

func (h *ClassifierHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	var req updateClassifierRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		writeError(w, http.StatusBadRequest, "Threshold must be in [0, 1]")
		return
	}
	if err := h.app.UpdateClassifier(id, req.Name, req.Threshold); err != nil {
		writeFailure(w, err)
		return
	}
	h.get(w, r, id)
}

func (h *ClassifierHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.app.DeleteClassifier(id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// action handles the verbs under /api/classifiers/{id}/.
func (h *ClassifierHandler) action(w http.ResponseWriter, r *http.Request, id, verb string) {
	if verb == "demo" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.demo(w, r, id)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var err error
	switch verb {
	case "train":
		err = h.app.Train(id)
	case "save":
		err = h.app.SaveClassifier(id)
	case "activate":
		_, err = h.app.Activate(id)
	case "deactivate":
		_, err = h.app.Deactivate(id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.get(w, r, id)
}

// demo serves the classifier's preview image as a JPEG.
func (h *ClassifierHandler) demo(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.app.Classifier(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	img := c.Demo()
	defer img.Close()
	if img.Empty() {
		writeError(w, http.StatusNotFound, "No preview available")
		return
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode preview")
		return
	}
	defer buf.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(buf.GetBytes())
}
