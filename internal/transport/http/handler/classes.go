package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/qr-attendance-api/internal/application/class"
	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/pkg/validate"
	"github.com/qr-attendance-api/internal/transport/http/middleware"
)

// ClassHandler handles class endpoints. All routes are teacher-only.
type ClassHandler struct {
	svc class.Service
}

func NewClassHandler(svc class.Service) *ClassHandler { return &ClassHandler{svc: svc} }

func (h *ClassHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.CreateClassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeDomainError(w, fmt.Errorf("%s: %w", err, domain.ErrValidation))
		return
	}
	c, err := h.svc.Create(r.Context(), req, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ClassHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	classes, err := h.svc.ListByTeacher(r.Context(), claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}
