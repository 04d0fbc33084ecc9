package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sqlhelper/sqlhelper/pkg/sessions"
)

type SessionListResponse struct {
	Sessions []sessions.SessionListItem `json:"sessions"`
	Limit    int                        `json:"limit"`
	Offset   int                        `json:"offset"`
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		http.Error(w, "Sessions are not enabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	items, err := h.cfg.Sessions.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, h.internalError("Failed to list sessions", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: items, Limit: limit, Offset: offset})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := h.cfg.Sessions.Get(r.Context(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to get session", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	err := h.cfg.Sessions.Delete(r.Context(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to delete session", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.cfg.Sessions == nil {
		http.Error(w, "Sessions are not enabled", http.StatusNotFound)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
