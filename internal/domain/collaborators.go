package domain

import (
	"context"
	"math/big"
)

// ChainReader is the typed on-chain read surface for one chain. Transport
// concerns (request batching, bounded retry with backoff) live behind this
// interface; the aggregation layer never retries on its own.
//
// Implementations report a rate-limit condition by wrapping ErrRateLimited
// and a "this address is not a vault" condition by wrapping ErrNotFound.
type ChainReader interface {
	// TokenMetadata returns symbol and decimals for an ERC-20 token.
	TokenMetadata(ctx context.Context, address string) (Token, error)

	// VaultAccounting reads a V1 vault's full accounting record, including
	// its position list in enumeration order.
	VaultAccounting(ctx context.Context, address string) (*VaultAccounting, error)

	// VaultV2Adapters enumerates a V2 vault's adapters in on-chain order,
	// classifying each into one of the closed adapter kinds.
	VaultV2Adapters(ctx context.Context, address string) ([]Adapter, error)

	// MarketSupplyAssets converts supply shares of a lending market into
	// asset units using the market's live exchange index, never a cached one.
	MarketSupplyAssets(ctx context.Context, marketID string, shares *big.Int) (*big.Int, error)

	// NestedVaultAssets converts nested-vault shares into the nested vault's
	// asset units at the accrued exchange rate, so pending interest is never
	// understated.
	NestedVaultAssets(ctx context.Context, vault string, shares *big.Int) (*big.Int, error)
}

// Pricer is the off-chain USD-valuation query service. Every method
// distinguishes "the query failed" (non-nil error) from "the query succeeded
// but found nothing" (nil result, nil error).
type Pricer interface {
	// VaultV2ByAddress fetches the V2 detail record for one vault.
	VaultV2ByAddress(ctx context.Context, chainID int64, address string) (*RawVaultV2, error)

	// VaultUSD is the first V1 pricing tier: a slim USD-only probe by
	// address.
	VaultUSD(ctx context.Context, chainID int64, address string) (*RawVaultUSD, error)

	// VaultV1State is the second V1 pricing tier: the general
	// vault-by-address state endpoint.
	VaultV1State(ctx context.Context, chainID int64, address string) (*RawVaultV1State, error)

	// VaultV1ListState is the third V1 pricing tier: a list query filtered
	// down to the single address.
	VaultV1ListState(ctx context.Context, chainID int64, address string) (*RawVaultV1State, error)

	// ListV2Vaults and ListV1Vaults fetch the per-chain vault listings.
	ListV2Vaults(ctx context.Context, chainID int64) ([]RawVaultV2, error)
	ListV1Vaults(ctx context.Context, chainID int64) ([]RawVaultV1, error)
}

// TokenPricer supplies best-effort per-token USD prices for allocation
// valuation. A nil price with nil error means the token is unpriced.
type TokenPricer interface {
	// TokenPriceUSD returns the wad-scaled USD price of one whole token.
	TokenPriceUSD(ctx context.Context, chainID int64, address string) (*big.Int, error)
}
