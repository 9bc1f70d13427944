package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/logging"
	"github.com/iota-uz/outbound/pkg/middleware"
	"github.com/iota-uz/outbound/pkg/outbound"
	"github.com/iota-uz/outbound/pkg/scheduler"
	"github.com/iota-uz/outbound/pkg/serrors"
)

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeError maps the domain sentinels onto HTTP statuses. Unmapped errors are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, outbound.ErrUnknown), errors.Is(err, jobqueue.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrUnknownKind), errors.Is(err, jobqueue.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, jobqueue.ErrJobExists), errors.Is(err, outbound.ErrDisabled):
		status = http.StatusConflict
	case errors.Is(err, jobqueue.ErrClosed), errors.Is(err, outbound.ErrNotStarted):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		middleware.Logger(r.Context(), logging.Nop()).WithError(err).Error("ops request failed")
	}

	code := serrors.Code(err)
	if code == "" {
		code = "INTERNAL_SERVER_ERROR"
	}
	writeAPIError(w, status, code, err.Error())
}
