package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckReportsChainReadiness(t *testing.T) {
	h := NewHealthHandler([]ChainStatus{
		{ChainID: 1, Label: "Ethereum", Ready: true},
		{ChainID: 137, Label: "Polygon", Ready: false},
	}, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string `json:"status"`
		ChainsReady int    `json:"chainsReady"`
		Chains      []struct {
			ChainID int64  `json:"chainId"`
			Label   string `json:"label"`
			Ready   bool   `json:"ready"`
		} `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.ChainsReady)
	require.Len(t, body.Chains, 2)
	assert.Equal(t, "Polygon", body.Chains[1].Label)
	assert.False(t, body.Chains[1].Ready, "an endpoint-less chain stays visible, not hidden")
}
