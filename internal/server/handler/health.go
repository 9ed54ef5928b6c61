package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// ChainStatus reports whether one configured chain can serve on-chain reads.
// A chain without an RPC endpoint stays listed so operators see the gap.
type ChainStatus struct {
	ChainID int64  `json:"chainId"`
	Label   string `json:"label"`
	Ready   bool   `json:"ready"`
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	chains []ChainStatus
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting the given chain set.
func NewHealthHandler(chains []ChainStatus, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{chains: chains, logger: logger}
}

// HealthCheck reports liveness plus per-chain reader readiness.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ready := 0
	for _, c := range h.chains {
		if c.Ready {
			ready++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"chainsReady": ready,
		"chains":      h.chains,
	})
}
