package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/deskpool/internal/api"
	"github.com/wolfeidau/deskpool/internal/manager"
)

const maxBodyBytes = 64 << 10

// restHandler serves the JSON endpoints used by the existing front door.
type restHandler struct {
	sessions Sessions
}

func (h *restHandler) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions/create", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/stats", h.stats)
	mux.HandleFunc("GET /api/sessions/queue/status", h.queueStatus)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.destroy)
	mux.HandleFunc("GET /api/health", h.health)

	return gzhttp.GzipHandler(mux)
}

func (h *restHandler) create(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %w", manager.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, fmt.Errorf("%w: %w", manager.ErrInvalidArgument, err))
		return
	}

	info, err := h.sessions.Create(r.Context(), createRequest(&req))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *restHandler) destroy(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(r.Context(), r.PathValue("id"))

	writeJSON(w, http.StatusOK, api.DestroySessionResponse{Message: "Session destroyed"})
}

func (h *restHandler) get(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *restHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *restHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Stats(r.Context()))
}

func (h *restHandler) queueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.QueueStatus())
}

func (h *restHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Health())
}

func httpStatus(reason string) int {
	switch reason {
	case manager.ReasonCapacity, manager.ReasonStore:
		return http.StatusServiceUnavailable
	case manager.ReasonNotFound:
		return http.StatusNotFound
	case manager.ReasonInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	reason := manager.Reason(err)
	status := httpStatus(reason)

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("reason", reason).Msg("Session request failed")
	}

	detail := err.Error()
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		detail = "request body too large"
	}

	writeJSON(w, status, api.ErrorBody{Detail: detail, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
