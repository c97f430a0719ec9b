package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/DeLi-Labs/deli-app/pkg/apperr"
	"github.com/DeLi-Labs/deli-app/pkg/permit"
)

type jsonErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, message string, details string) {
	writeJSON(w, status, jsonErrorResponse{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the response taxonomy. Causes of 5xx responses
// are logged and never echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *permit.Rejection
	if errors.As(err, &rej) {
		writeJSONError(w, http.StatusBadRequest, rej.Reason, rej.Details)
		return
	}
	status := apperr.HTTPStatus(err)
	message, details := apperr.Describe(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	if apperr.Retryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	writeJSONError(w, status, message, details)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, w http.ResponseWriter, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.ErrValidation.Wrapf("invalid JSON body: %v", err)
	}
	return nil
}
