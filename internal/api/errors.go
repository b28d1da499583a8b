package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/dharsanguruparan/SeedTrace/internal/signing"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the tracker error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, signing.ErrMissing),
		errors.Is(err, signing.ErrExpired),
		errors.Is(err, signing.ErrInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, tracker.ErrUnauthorized), errors.Is(err, tracker.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, tracker.ErrInvalidStateTransition),
		errors.Is(err, tracker.ErrNotWhitelisted),
		errors.Is(err, tracker.ErrUnknownRole):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, tracker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrAlreadyExists), errors.Is(err, tracker.ErrAlreadyInitialized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		msg = "internal error"
	}
	respondJSON(w, status, errorBody{Error: msg})
}
