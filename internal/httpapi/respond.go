package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/tasks"
)

// decodeJSON reads one JSON document. Unknown fields are ignored so clients
// may send server-owned fields like organizationId without effect.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")

// decode writes a 400 or 413 and reports false when the body is unusable.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
			return false
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// handleError maps service errors onto status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		unauthorized(w, r, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidReference):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrStreamUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "audit streaming disabled")
	default:
		obs.Logger().WithError(err).
			WithField("request_id", RequestIDFromContext(r.Context())).
			WithField("path", r.URL.Path).
			Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tasktrail"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
