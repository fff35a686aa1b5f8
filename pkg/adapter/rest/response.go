package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
)

// ErrorBody is the JSON shape of every error reply.
type ErrorBody struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CustomResponse is the envelope of the /file/name and /file/parent routes.
type CustomResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// UploadResponse answers a chunk upload.
type UploadResponse struct {
	Done    bool   `json:"done"`
	Message string `json:"message"`
	FileKey string `json:"fileKey,omitempty"`
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind fileerr.Kind) int {
	switch kind {
	case fileerr.NotFound:
		return http.StatusNotFound
	case fileerr.Forbidden:
		return http.StatusForbidden
	case fileerr.Unauthenticated:
		return http.StatusUnauthorized
	case fileerr.InvalidArgument, fileerr.InvalidChunk, fileerr.InvalidResolution:
		return http.StatusBadRequest
	case fileerr.SessionConflict, fileerr.Conflict:
		return http.StatusConflict
	case fileerr.RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case fileerr.StorageError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeText(w http.ResponseWriter, r *http.Request, status int, text string) {
	render.Status(r, status)
	render.PlainText(w, r, text)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	writeJSON(w, r, status, ErrorBody{Status: status, Error: kind, Message: message})
}

// writeError replies with the status and public message of err. Storage
// failures are logged with their cause and answered generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away; nobody reads the reply
		logger.Debug("%s %s cancelled by client", r.Method, r.URL.Path)
		return
	}

	kind := fileerr.KindOf(err)
	status := StatusOf(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debug("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}

	writeStatus(w, r, status, kind.String(), fileerr.PublicMessage(err))
}
