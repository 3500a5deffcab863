package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/example/oauthapp/internal/oauth"
)

// APIError is the error body: an OAuth-style category and description.
type APIError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("write json")
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, category, description string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+category+`"`)
	}
	writeJSON(w, status, APIError{Error: category, ErrorDescription: description})
}

// requestError is a malformed request rejected before the engine runs.
type requestError struct {
	description string
}

func (e *requestError) Error() string { return "invalid_request: " + e.description }

// writeFailure transports a domain error verbatim. Anything else is logged
// and reported as a server error.
func (a *App) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeError(w, http.StatusBadRequest, "invalid_request", re.description)
		return
	}
	if e, ok := oauth.AsError(err); ok {
		writeError(w, e.Status, e.Category, e.Description)
		return
	}
	a.requestLog(r).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
}
