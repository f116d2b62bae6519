package httpserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/upload"
)

// errBadRequest marks malformed input that never reached the filesystem.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to its status code and the fixed message sent to
// the client. Raw error text never leaves the server.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, upload.ErrNoFile):
		return http.StatusBadRequest, "no file in upload"
	case errors.Is(err, upload.ErrBadRange):
		return http.StatusBadRequest, "bad content range"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad request"
	}
	switch fsutil.Kind(err) {
	case fsutil.ErrPathViolation:
		return http.StatusBadRequest, "invalid path"
	case fsutil.ErrInvalidName:
		return http.StatusBadRequest, "invalid name"
	case fsutil.ErrNotADirectory:
		return http.StatusBadRequest, "not a directory"
	case fsutil.ErrNotAFile:
		return http.StatusBadRequest, "not a file"
	case fsutil.ErrNotFound:
		return http.StatusNotFound, "not found"
	case fsutil.ErrAlreadyExists:
		return http.StatusConflict, "already exists"
	case fsutil.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, "payload too large"
	case fsutil.ErrInsufficientStorage:
		return http.StatusInsufficientStorage, "insufficient storage"
	}
	return http.StatusInternalServerError, "i/o error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	log := logging.FromContext(r.Context())
	if code >= 500 {
		log.Error("request failed", zap.Int("status", code), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}
	writeJSONStatus(w, code, errorResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, r *http.Request, why string) {
	logging.FromContext(r.Context()).Debug("bad request", zap.String("reason", why))
	writeJSONStatus(w, http.StatusBadRequest, errorResponse{Error: why})
}
