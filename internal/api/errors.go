package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/stellarlinkco/taskhub/internal/auth"
	"github.com/stellarlinkco/taskhub/internal/store"
	"github.com/stellarlinkco/taskhub/internal/tracker"
)

// badRequest is a request the handler could not even decode.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

var errUnauthenticated = errors.New("authentication credentials were not provided")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps service errors to status codes. Validation failures carry
// the per-field messages as the body.
func writeError(w http.ResponseWriter, err error) {
	var verr *tracker.ValidationError
	var bad *badRequest
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.As(err, &bad):
		writeDetail(w, http.StatusBadRequest, bad.msg)
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.Is(err, errUnauthenticated):
		writeDetail(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials):
		writeDetail(w, http.StatusUnauthorized, unwrapDetail(err))
	default:
		log.Printf("[api] internal error: %v", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func unwrapDetail(err error) string {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return auth.ErrInvalidCredentials.Error()
	}
	return auth.ErrInvalidToken.Error()
}
