package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

type fakeAggregator struct {
	view    *domain.VaultView
	viewErr error

	snapshots []domain.VaultSnapshot
	listErr   error
}

func (f *fakeAggregator) Aggregate(context.Context, int64, string) (*domain.VaultView, error) {
	return f.view, f.viewErr
}

func (f *fakeAggregator) AggregateAll(context.Context, int64) ([]domain.VaultSnapshot, error) {
	return f.snapshots, f.listErr
}

func newMux(agg Aggregator) *http.ServeMux {
	h := NewVaultHandler(agg, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vaults/{chainId}", h.ListVaults)
	mux.HandleFunc("GET /api/vaults/{chainId}/{address}", h.GetVault)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetVaultFailureStatusMapping(t *testing.T) {
	tests := []struct {
		kind       domain.FailureKind
		wantStatus int
	}{
		{domain.FailureInvalidInput, http.StatusBadRequest},
		{domain.FailureVaultNotFound, http.StatusNotFound},
		{domain.FailureConfigurationMissing, http.StatusInternalServerError},
		{domain.FailureOnchainUnavailable, http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			agg := &fakeAggregator{viewErr: domain.NewFailure(tc.kind, "boom")}
			rec := do(t, newMux(agg), "/api/vaults/1/0xabc")
			assert.Equal(t, tc.wantStatus, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "boom", body["error"])
			assert.Equal(t, string(tc.kind), body["kind"])
		})
	}
}

func TestGetVaultRateLimitedAnnotation(t *testing.T) {
	f := domain.NewFailure(domain.FailureOnchainUnavailable, "throttled")
	f.RateLimited = true
	rec := do(t, newMux(&fakeAggregator{viewErr: f}), "/api/vaults/1/0xabc")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["rateLimited"])
}

func TestGetVaultNonIntegerChain(t *testing.T) {
	rec := do(t, newMux(&fakeAggregator{}), "/api/vaults/mainnet/0xabc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetVaultBody(t *testing.T) {
	apy := 0.031
	usd := new(big.Int).Mul(big.NewInt(2500), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	usd.Add(usd, big.NewInt(5e17)) // 2500.5 USD
	agg := &fakeAggregator{
		view: &domain.VaultView{
			VaultSnapshot: domain.VaultSnapshot{
				Address:        "0xvault",
				ChainID:        1,
				Version:        domain.SchemaV1,
				Name:           "Legacy USDC",
				TotalAssets:    big.NewInt(1_000000),
				TotalAssetsUsd: usd,
				TotalSupply:    new(big.Int),
				NetAPY:         &apy,
			},
			ChainLabel: "Ethereum",
			Allocations: []domain.Allocation{
				{Label: "Idle / USDC", SupplyAssets: big.NewInt(1_000000)},
			},
		},
	}
	rec := do(t, newMux(agg), "/api/vaults/1/0xvault")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Version        string   `json:"version"`
		ChainLabel     string   `json:"chainLabel"`
		TotalAssets    string   `json:"totalAssets"`
		TotalAssetsUsd *string  `json:"totalAssetsUsd"`
		Liquidity      *string  `json:"liquidity"`
		NetAPY         *float64 `json:"netApy"`
		Allocations    []struct {
			Label        string `json:"label"`
			SupplyAssets string `json:"supplyAssets"`
		} `json:"allocations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "V1", body.Version)
	assert.Equal(t, "Ethereum", body.ChainLabel)
	assert.Equal(t, "1000000", body.TotalAssets)
	require.NotNil(t, body.TotalAssetsUsd)
	assert.Equal(t, "2500.5", *body.TotalAssetsUsd)
	assert.Nil(t, body.Liquidity, "degraded figures render as null, not zero")
	require.NotNil(t, body.NetAPY)
	assert.InDelta(t, 0.031, *body.NetAPY, 1e-12)
	require.Len(t, body.Allocations, 1)
	assert.Equal(t, "Idle / USDC", body.Allocations[0].Label)
}

func TestListVaults(t *testing.T) {
	agg := &fakeAggregator{
		snapshots: []domain.VaultSnapshot{
			{Address: "0xa", Version: domain.SchemaV2, TotalAssets: new(big.Int), TotalSupply: new(big.Int)},
			{Address: "0xb", Version: domain.SchemaV1, TotalAssets: new(big.Int), TotalSupply: new(big.Int)},
		},
	}
	rec := do(t, newMux(agg), "/api/vaults/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ChainID int64 `json:"chainId"`
		Total   int   `json:"total"`
		Vaults  []struct {
			Address string `json:"address"`
			Version string `json:"version"`
		} `json:"vaults"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.ChainID)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Vaults, 2)
	assert.Equal(t, "V2", body.Vaults[0].Version)
}

func TestListVaultsPlainErrorIs500(t *testing.T) {
	agg := &fakeAggregator{listErr: errors.New("boom")}
	rec := do(t, newMux(agg), "/api/vaults/1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
