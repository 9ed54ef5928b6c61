package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// Aggregator defines what the vault handlers require from the aggregation
// layer. It is declared locally so the handler package does not depend on
// the concrete implementation.
type Aggregator interface {
	Aggregate(ctx context.Context, chainID int64, address string) (*domain.VaultView, error)
	AggregateAll(ctx context.Context, chainID int64) ([]domain.VaultSnapshot, error)
}

// VaultHandler serves the vault listing and detail endpoints.
type VaultHandler struct {
	agg    Aggregator
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler with the given aggregator and logger.
func NewVaultHandler(agg Aggregator, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		agg:    agg,
		logger: logHandler(logger, "vault"),
	}
}

// listVaultsResponse wraps the listing output with its chain context.
type listVaultsResponse struct {
	ChainID int64         `json:"chainId"`
	Vaults  []snapshotDTO `json:"vaults"`
	Total   int           `json:"total"`
}

// ListVaults returns the combined vault listing for one chain.
// GET /api/vaults/{chainId}
func (h *VaultHandler) ListVaults(w http.ResponseWriter, r *http.Request) {
	chainID, ok := h.chainID(w, r)
	if !ok {
		return
	}

	snapshots, err := h.agg.AggregateAll(r.Context(), chainID)
	if err != nil {
		h.respondError(w, r, err, "list vaults failed")
		return
	}

	vaults := make([]snapshotDTO, 0, len(snapshots))
	for _, s := range snapshots {
		vaults = append(vaults, newSnapshotDTO(s))
	}
	writeJSON(w, http.StatusOK, listVaultsResponse{
		ChainID: chainID,
		Vaults:  vaults,
		Total:   len(vaults),
	})
}

// GetVault returns the full detail view of one vault.
// GET /api/vaults/{chainId}/{address}
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	chainID, ok := h.chainID(w, r)
	if !ok {
		return
	}
	address := pathParam(r, "address")

	view, err := h.agg.Aggregate(r.Context(), chainID, address)
	if err != nil {
		h.respondError(w, r, err, "get vault failed")
		return
	}

	writeJSON(w, http.StatusOK, ViewPayload(view))
}

func (h *VaultHandler) chainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := pathParam(r, "chainId")
	chainID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chain id must be an integer, got "+strconv.Quote(raw))
		return 0, false
	}
	return chainID, true
}

func (h *VaultHandler) respondError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var f *domain.Failure
	if errors.As(err, &f) {
		writeFailure(w, f)
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+msg,
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg)
}
