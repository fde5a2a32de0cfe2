package handler

import (
	"net/http"

	"github.com/voiceid-api/internal/application/challenge"
)

// MaintenanceHandler exposes admin cleanup of stale challenge records.
type MaintenanceHandler struct {
	ledger challenge.Service
}

func NewMaintenanceHandler(ledger challenge.Service) *MaintenanceHandler {
	return &MaintenanceHandler{ledger: ledger}
}

type cleanupResponse struct {
	ExpiredRemoved int `json:"expired_removed"`
	UsedRemoved    int `json:"used_removed"`
}

func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	expired, err := h.ledger.CleanupExpired(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	used, err := h.ledger.CleanupUsed(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{ExpiredRemoved: expired, UsedRemoved: used})
}
