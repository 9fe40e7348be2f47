// Package api provides the HTTP handlers of the vistrain control API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/vistrain/internal/app"
	"github.com/ayusman/vistrain/internal/capture"
	"github.com/ayusman/vistrain/internal/classifier"
	"github.com/ayusman/vistrain/internal/pipeline"
	"github.com/ayusman/vistrain/internal/training"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeFailure maps a domain error onto an HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, classifier.ErrNotFound), errors.Is(err, training.ErrSampleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, classifier.ErrInsufficientSamples),
		errors.Is(err, classifier.ErrUnknownVariant),
		errors.Is(err, app.ErrNoTrack):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, pipeline.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrResourceUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// splitPath returns the non-empty path segments after prefix.
func splitPath(path, prefix string) []string {
	path = strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
