// Package httpserver contains HTTP handlers and middleware.
//
// It provides the REST surface of the job matcher: resume upload and
// matching, the recent-jobs feed, and health/readiness probes. HTTP
// concerns stay here; business logic lives in usecase and service.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// providerBusyMessage is the client-facing reply when the whole credential
// pool is rate limited. The wording is stable so clients can key off it.
const providerBusyMessage = "AI Analysis is busy. Please wait and try again."

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrProviderExhausted):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
		msg = providerBusyMessage
	// Transport and malformed-reply failures are internal faults from the
	// caller's point of view; only the code distinguishes them.
	case errors.Is(err, domain.ErrUpstreamTimeout):
		codeStr = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		codeStr = "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrSchemaInvalid):
		codeStr = "SCHEMA_INVALID"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: msg, Details: details}})
}
