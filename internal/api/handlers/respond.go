package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/core/ingestion_engine"
	"github.com/markdave123-py/autophile/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		tooBig     *http.MaxBytesError
		validation validator.ValidationErrors
	)
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, ingestion_engine.ErrNoPageImage):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDocumentNotReady),
		errors.Is(err, services.ErrUnsupportedFile),
		errors.Is(err, services.ErrInvalidPage),
		errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrFileTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingestion_engine.ErrAlreadyProcessed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
