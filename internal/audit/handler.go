package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// List serves GET /api/admin/logs?limit=N. Role checks happen in the gate.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = DefaultLimit
	}
	logs, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Warnw("list system logs failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	h.writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
