package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/qr-attendance-api/internal/application/qrtoken"
	"github.com/qr-attendance-api/internal/application/session"
	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/pkg/validate"
	"github.com/qr-attendance-api/internal/transport/http/middleware"
)

// SessionHandler handles attendance-session endpoints.
type SessionHandler struct {
	sessions session.Service
	tokens   qrtoken.Service
}

func NewSessionHandler(sessions session.Service, tokens qrtoken.Service) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens}
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeDomainError(w, fmt.Errorf("%s: %w", err, domain.ErrValidation))
		return
	}
	sess, err := h.sessions.Start(r.Context(), req, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sess, err := h.sessions.End(r.Context(), chi.URLParam(r, "id"), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// QR mints the next admission token for the session and returns the payload
// the presenter renders. The presenter polls this endpoint, so each call
// replaces the previous token.
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	tok, err := h.tokens.Issue(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.QrPayload{SessionID: sessionID, Token: tok.Value})
}
