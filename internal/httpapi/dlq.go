package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type parkedListResponse struct {
	Messages []*reliability.ParkedMessage `json:"messages"`
	Count    int                          `json:"count"`
}

func (s *Server) listParked(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxListLimit)
	}

	messages, err := s.parked.List(r.Context(), limit)
	if err != nil {
		requestLogger(r, s.logger).Error("failed to list parked messages", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list parked messages", nil)
		return
	}
	if messages == nil {
		messages = []*reliability.ParkedMessage{}
	}

	writeJSON(w, http.StatusOK, parkedListResponse{Messages: messages, Count: len(messages)})
}

func (s *Server) getParked(w http.ResponseWriter, r *http.Request) {
	msg, err := s.parked.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, reliability.ErrParkedMessageNotFound):
		writeError(w, http.StatusNotFound, "Parked message not found", nil)
	case err != nil:
		requestLogger(r, s.logger).Error("failed to get parked message", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get parked message", nil)
	default:
		writeJSON(w, http.StatusOK, msg)
	}
}
