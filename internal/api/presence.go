package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/sebas/dialer/internal/presence"
)

// DefaultRegistrationTTL applies when a registration names no expiry.
const DefaultRegistrationTTL = time.Hour

type registerRequest struct {
	User       string `json:"user"`
	ContactURI string `json:"contact_uri"`
	UserAgent  string `json:"user_agent,omitempty"`
	// Expires is the registration lifetime in seconds.
	Expires int `json:"expires,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	ttl := DefaultRegistrationTTL
	if req.Expires > 0 {
		ttl = time.Duration(req.Expires) * time.Second
	}

	rec, err := s.presence.Register(r.Context(), presence.Record{
		User:       req.User,
		ContactURI: req.ContactURI,
		UserAgent:  req.UserAgent,
		ExpiresAt:  time.Now().Add(ttl),
	})
	switch {
	case errors.Is(err, presence.ErrEmptyUser),
		errors.Is(err, presence.ErrInvalidContact),
		errors.Is(err, presence.ErrExpired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("[API] Register failed", "user", req.User, "error", err)
		writeError(w, http.StatusInternalServerError, "register failed")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.presence.RecordsByUser(r.Context(), r.PathValue("user"))
	if err != nil {
		s.logger.Error("[API] Presence lookup failed", "user", r.PathValue("user"), "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if records == nil {
		records = []presence.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	contact := r.URL.Query().Get("contact")
	if contact == "" {
		writeError(w, http.StatusBadRequest, "contact query parameter is required")
		return
	}
	if err := s.presence.Unregister(r.Context(), r.PathValue("user"), contact); err != nil {
		s.logger.Error("[API] Unregister failed", "user", r.PathValue("user"), "error", err)
		writeError(w, http.StatusInternalServerError, "unregister failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
