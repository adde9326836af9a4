package account

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	accountrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session"
)

// Handler exposes the administrative account endpoints. The gate restricts /api/admin to ADMIN.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid provision payload", "err", err)
		h.writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	acct, err := h.svc.Provision(r.Context(), actorID(r), req)
	if err != nil {
		h.fail(w, "provision", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"message": "account registered", "user": acct})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	acct, err := h.svc.ChangeRole(r.Context(), actorID(r), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		h.fail(w, "change role", err)
		return
	}
	h.writeJSON(w, http.StatusOK, acct)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	id := chi.URLParam(r, "id")
	if !*req.Active && id == actorID(r) {
		h.writeError(w, http.StatusBadRequest, "cannot_deactivate_self")
		return
	}
	acct, err := h.svc.SetActive(r.Context(), actorID(r), id, *req.Active)
	if err != nil {
		h.fail(w, "set active", err)
		return
	}
	h.writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, "invalid_input")
	case errors.Is(err, ErrAccessDenied):
		h.writeError(w, http.StatusBadRequest, "institutional_email_required")
	case errors.Is(err, ErrAccountExists):
		h.writeError(w, http.StatusBadRequest, "account_exists")
	case errors.Is(err, accountrepo.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found")
	default:
		h.logger.Warnw(op+" failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func actorID(r *http.Request) string {
	if c := session.ClaimsFromContext(r.Context()); c != nil {
		return c.UserID
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code string) {
	h.writeJSON(w, status, map[string]string{"error": code})
}
