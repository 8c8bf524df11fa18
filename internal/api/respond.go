package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/maltedev/uniscrape/internal/apperr"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"requestId,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// StatusFor maps a failure kind to the HTTP status returned to clients.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidIdentifier:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindEmptyResults, apperr.KindWishlistNotFound, apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindWishlistConflict:
		return http.StatusConflict
	case apperr.KindDOMChanged, apperr.KindAPI, apperr.KindExtraction:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, kind apperr.Kind, message string) {
	h.respondJSON(w, status, errorResponse{
		Error:     message,
		Kind:      kind.String(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// respondErr renders err by its kind. Only server-side failures are logged
// at error level.
func (h *Handlers) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	message := "internal error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	logArgs := []interface{}{"error", err, "kind", kind.String(), "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context())}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", logArgs...)
	} else {
		h.logger.Info("request rejected", logArgs...)
	}

	h.respondError(w, r, status, kind, message)
}
