package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"netmonitor/errkind"
)

type errorBody struct {
	Error         string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("httpapi: encode response", "error", err)
	}
}

// respondError maps error kinds to HTTP statuses. Validation and not-found
// errors carry their message; anything else is reported as a generic category
// with a correlation id, and the detail goes to the log only.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errkind.ErrValidation):
		s.respond(w, http.StatusBadRequest, errorBody{Error: "validation", Detail: err.Error()})
	case errors.Is(err, errkind.ErrNotFound):
		s.respond(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: err.Error()})
	case errors.Is(err, errkind.ErrTransient):
		id := uuid.NewString()
		s.log.Warn("httpapi: transient failure", "correlation_id", id, "path", r.URL.Path, "error", err)
		s.respond(w, http.StatusServiceUnavailable, errorBody{Error: "transient", CorrelationID: id})
	default:
		id := uuid.NewString()
		s.log.Error("httpapi: internal failure", "correlation_id", id, "path", r.URL.Path, "error", err)
		s.respond(w, http.StatusInternalServerError, errorBody{Error: "internal", CorrelationID: id})
	}
}
