// Package morpho is the GraphQL client for the off-chain vault valuation
// API. It serves both incompatible schemas: the V2 listing/detail queries and
// the V1 state queries, plus per-token USD prices.
package morpho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/fixedpoint"
)

// DefaultEndpoint is the public valuation API endpoint.
const DefaultEndpoint = "https://api.morpho.org/graphql"

// Client is a GraphQL client for the valuation API.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

var (
	_ domain.Pricer      = (*Client)(nil)
	_ domain.TokenPricer = (*Client)(nil)
)

// NewClient creates a new valuation API client. apiKey may be empty; the
// public endpoint does not require one.
func NewClient(graphqlURL, apiKey string) *Client {
	if graphqlURL == "" {
		graphqlURL = DefaultEndpoint
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// VaultV2ByAddress fetches the full V2 detail record for one vault,
// including its off-chain adapter list. Returns (nil, nil) when the API does
// not know the vault under the V2 schema.
func (c *Client) VaultV2ByAddress(ctx context.Context, chainID int64, address string) (*domain.RawVaultV2, error) {
	query := `
		query VaultV2($address: String!, $chainId: Int!) {
			vaultV2ByAddress(address: $address, chainId: $chainId) {
				address name symbol whitelisted
				totalAssets totalAssetsUsd totalSupply liquidityUsd avgNetApy
				asset { address symbol decimals }
				adapters { items { address assets assetsUsd type } }
			}
		}
	`
	variables := map[string]any{"address": address, "chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: vault v2 by address: %w", err)
	}

	var result struct {
		VaultV2ByAddress *apiVaultV2 `json:"vaultV2ByAddress"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode vault v2: %w", err)
	}
	if result.VaultV2ByAddress == nil {
		return nil, nil
	}
	raw := result.VaultV2ByAddress.toRaw()
	return &raw, nil
}

// VaultUSD is the first V1 pricing tier: a slim probe for USD totals only.
// Returns (nil, nil) when the probe finds nothing usable.
func (c *Client) VaultUSD(ctx context.Context, chainID int64, address string) (*domain.RawVaultUSD, error) {
	query := `
		query VaultUsd($address: String!, $chainId: Int!) {
			vaultV2ByAddress(address: $address, chainId: $chainId) {
				totalAssetsUsd liquidityUsd
			}
		}
	`
	variables := map[string]any{"address": address, "chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: vault usd probe: %w", err)
	}

	var result struct {
		VaultV2ByAddress *struct {
			TotalAssetsUsd apiMoney `json:"totalAssetsUsd"`
			LiquidityUsd   apiMoney `json:"liquidityUsd"`
		} `json:"vaultV2ByAddress"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode vault usd probe: %w", err)
	}
	v := result.VaultV2ByAddress
	if v == nil || v.TotalAssetsUsd == "" || v.LiquidityUsd == "" {
		return nil, nil
	}
	return &domain.RawVaultUSD{
		TotalAssetsUsd: string(v.TotalAssetsUsd),
		LiquidityUsd:   string(v.LiquidityUsd),
	}, nil
}

// VaultV1State is the second V1 pricing tier: the general vault-by-address
// state endpoint.
func (c *Client) VaultV1State(ctx context.Context, chainID int64, address string) (*domain.RawVaultV1State, error) {
	query := `
		query VaultV1State($address: String!, $chainId: Int!) {
			vaultByAddress(address: $address, chainId: $chainId) {
				state { totalAssets totalAssetsUsd netApy }
			}
		}
	`
	variables := map[string]any{"address": address, "chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: vault v1 state: %w", err)
	}

	var result struct {
		VaultByAddress *struct {
			State *apiVaultV1State `json:"state"`
		} `json:"vaultByAddress"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode vault v1 state: %w", err)
	}
	if result.VaultByAddress == nil || result.VaultByAddress.State == nil {
		return nil, nil
	}
	st := result.VaultByAddress.State.toRaw()
	return &st, nil
}

// VaultV1ListState is the third V1 pricing tier: the list endpoint filtered
// down to the single address.
func (c *Client) VaultV1ListState(ctx context.Context, chainID int64, address string) (*domain.RawVaultV1State, error) {
	query := `
		query VaultV1ListState($address: String!, $chainId: Int!) {
			vaults(where: { address_in: [$address], chainId_in: [$chainId] }) {
				items { state { totalAssets totalAssetsUsd netApy } }
			}
		}
	`
	variables := map[string]any{"address": address, "chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: vault v1 list state: %w", err)
	}

	var result struct {
		Vaults *struct {
			Items []struct {
				State *apiVaultV1State `json:"state"`
			} `json:"items"`
		} `json:"vaults"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode vault v1 list state: %w", err)
	}
	if result.Vaults == nil || len(result.Vaults.Items) == 0 || result.Vaults.Items[0].State == nil {
		return nil, nil
	}
	st := result.Vaults.Items[0].State.toRaw()
	return &st, nil
}

// ListV2Vaults fetches the V2 listing for a chain.
func (c *Client) ListV2Vaults(ctx context.Context, chainID int64) ([]domain.RawVaultV2, error) {
	query := `
		query VaultsV2($chainId: Int!) {
			vaultV2s(first: 200, where: { chainId_in: [$chainId] }) {
				items {
					address name symbol whitelisted
					totalAssets totalAssetsUsd totalSupply liquidityUsd avgNetApy
					asset { address symbol decimals }
				}
			}
		}
	`
	variables := map[string]any{"chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: list v2 vaults: %w", err)
	}

	var result struct {
		VaultV2s struct {
			Items []apiVaultV2 `json:"items"`
		} `json:"vaultV2s"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode v2 vault list: %w", err)
	}

	out := make([]domain.RawVaultV2, 0, len(result.VaultV2s.Items))
	for i := range result.VaultV2s.Items {
		out = append(out, result.VaultV2s.Items[i].toRaw())
	}
	return out, nil
}

// ListV1Vaults fetches the V1 listing for a chain.
func (c *Client) ListV1Vaults(ctx context.Context, chainID int64) ([]domain.RawVaultV1, error) {
	query := `
		query VaultsV1($chainId: Int!) {
			vaults(first: 200, where: { chainId_in: [$chainId] }) {
				items {
					address name symbol whitelisted
					asset { address symbol decimals }
					state { totalAssets totalAssetsUsd netApy }
				}
			}
		}
	`
	variables := map[string]any{"chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: list v1 vaults: %w", err)
	}

	var result struct {
		Vaults struct {
			Items []apiVaultV1 `json:"items"`
		} `json:"vaults"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode v1 vault list: %w", err)
	}

	out := make([]domain.RawVaultV1, 0, len(result.Vaults.Items))
	for i := range result.Vaults.Items {
		out = append(out, result.Vaults.Items[i].toRaw())
	}
	return out, nil
}

// TokenPriceUSD returns the wad price of one whole token, or nil when the
// API has no price for it.
func (c *Client) TokenPriceUSD(ctx context.Context, chainID int64, address string) (*big.Int, error) {
	query := `
		query TokenPrice($address: String!, $chainId: Int!) {
			assets(where: { address_in: [$address], chainId_in: [$chainId] }) {
				items { priceUsd }
			}
		}
	`
	variables := map[string]any{"address": address, "chainId": chainID}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("morpho: token price: %w", err)
	}

	var result struct {
		Assets struct {
			Items []struct {
				PriceUsd apiMoney `json:"priceUsd"`
			} `json:"items"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("morpho: decode token price: %w", err)
	}
	if len(result.Assets.Items) == 0 || result.Assets.Items[0].PriceUsd == "" {
		return nil, nil
	}
	price := fixedpoint.ParseDecimalToWad(string(result.Assets.Items[0].PriceUsd))
	if price.Sign() == 0 {
		return nil, nil
	}
	return price, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query against the endpoint and returns the raw
// "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("HTTP 429: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
