package morpho

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// newTestServer returns a client pointed at a stub GraphQL endpoint that
// routes responses by operation name.
func newTestServer(t *testing.T, responses map[string]string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for op, body := range responses {
			if containsOp(req.Query, op) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(body))
				return
			}
		}
		http.Error(w, `{"errors":[{"message":"unknown operation"}]}`, http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, ""), srv
}

func containsOp(query, op string) bool {
	return strings.Contains(query, "query "+op)
}

func TestVaultV2ByAddress(t *testing.T) {
	client, _ := newTestServer(t, map[string]string{
		"VaultV2": `{"data":{"vaultV2ByAddress":{
			"address":"0xAb","name":"Core USDC","symbol":"cUSDC","whitelisted":true,
			"totalAssets":"1000000","totalAssetsUsd":2500.5,"totalSupply":"900000",
			"liquidityUsd":"100","avgNetApy":"0.05",
			"asset":{"address":"0xUSDC","symbol":"USDC","decimals":6},
			"adapters":{"items":[{"address":"0xa1","assets":"1","assetsUsd":"1","type":"MarketV1"}]}
		}}}`,
	})

	raw, err := client.VaultV2ByAddress(context.Background(), 1, "0xab")
	require.NoError(t, err)
	require.NotNil(t, raw)

	assert.Equal(t, "Core USDC", raw.Name)
	assert.Equal(t, "2500.5", raw.TotalAssetsUsd, "numeric JSON keeps exact text")
	assert.Equal(t, "900000", raw.TotalSupply)
	require.NotNil(t, raw.AvgNetApy)
	assert.InDelta(t, 0.05, *raw.AvgNetApy, 1e-12)
	require.NotNil(t, raw.Asset)
	assert.Equal(t, uint8(6), raw.Asset.Decimals)
	require.Len(t, raw.Adapters, 1)
	assert.Equal(t, "MarketV1", raw.Adapters[0].Type)
}

func TestVaultV2ByAddressNotFound(t *testing.T) {
	client, _ := newTestServer(t, map[string]string{
		"VaultV2": `{"data":{"vaultV2ByAddress":null}}`,
	})

	raw, err := client.VaultV2ByAddress(context.Background(), 1, "0xab")
	require.NoError(t, err, "ok-but-empty is not an error")
	assert.Nil(t, raw)
}

func TestVaultUSDProbe(t *testing.T) {
	t.Run("usable", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]string{
			"VaultUsd": `{"data":{"vaultV2ByAddress":{"totalAssetsUsd":"2500","liquidityUsd":"2000"}}}`,
		})
		usd, err := client.VaultUSD(context.Background(), 1, "0xab")
		require.NoError(t, err)
		require.NotNil(t, usd)
		assert.Equal(t, "2500", usd.TotalAssetsUsd)
	})

	t.Run("partial probe counts as empty", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]string{
			"VaultUsd": `{"data":{"vaultV2ByAddress":{"totalAssetsUsd":"2500","liquidityUsd":null}}}`,
		})
		usd, err := client.VaultUSD(context.Background(), 1, "0xab")
		require.NoError(t, err)
		assert.Nil(t, usd)
	})
}

func TestVaultV1ListStateTakesFirstItem(t *testing.T) {
	client, _ := newTestServer(t, map[string]string{
		"VaultV1ListState": `{"data":{"vaults":{"items":[
			{"state":{"totalAssets":"1000000","totalAssetsUsd":"2500","netApy":0.04}}
		]}}}`,
	})

	st, err := client.VaultV1ListState(context.Background(), 1, "0xab")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "2500", st.TotalAssetsUsd)
	require.NotNil(t, st.NetApy)
	assert.InDelta(t, 0.04, *st.NetApy, 1e-12)
}

func TestListV1Vaults(t *testing.T) {
	client, _ := newTestServer(t, map[string]string{
		"VaultsV1": `{"data":{"vaults":{"items":[
			{"address":"0x01","name":"A","symbol":"a","whitelisted":true,
			 "asset":{"address":"0xUSDC","symbol":"USDC","decimals":6},
			 "state":{"totalAssets":"1","totalAssetsUsd":"2","netApy":null}},
			{"address":"0x02","name":"B","symbol":"b","whitelisted":false,
			 "asset":null,"state":null}
		]}}}`,
	})

	items, err := client.ListV1Vaults(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "0x01", items[0].Address)
	require.NotNil(t, items[0].State)
	assert.Nil(t, items[0].State.NetApy)

	assert.Nil(t, items[1].Asset, "absent asset stays absent")
	assert.Nil(t, items[1].State)
}

func TestTokenPriceUSD(t *testing.T) {
	t.Run("priced", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]string{
			"TokenPrice": `{"data":{"assets":{"items":[{"priceUsd":1.0001}]}}}`,
		})
		price, err := client.TokenPriceUSD(context.Background(), 1, "0xusdc")
		require.NoError(t, err)
		require.NotNil(t, price)
		assert.Equal(t, "1000100000000000000", price.String())
	})

	t.Run("unpriced", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]string{
			"TokenPrice": `{"data":{"assets":{"items":[]}}}`,
		})
		price, err := client.TokenPriceUSD(context.Background(), 1, "0xobscure")
		require.NoError(t, err)
		assert.Nil(t, price)
	})
}

func TestRateLimitSurfacesAsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "")
	_, err := client.ListV2Vaults(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGraphQLErrorPropagates(t *testing.T) {
	client, _ := newTestServer(t, map[string]string{
		"VaultsV2": `{"errors":[{"message":"internal error"}]}`,
	})
	_, err := client.ListV2Vaults(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal error")
}
