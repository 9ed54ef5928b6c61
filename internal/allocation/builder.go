// Package allocation turns on-chain adapter and position enumerations into
// the ordered canonical allocation list of a vault.
package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/fixedpoint"
)

// idleLabel stands in for the collateral side of a market with no
// collateral token configured.
const idleLabel = "Idle"

// Builder produces Allocations for one aggregation request. It memoizes
// token metadata and token prices per request keyed by token address, so
// positions sharing a loan or collateral token cost one lookup each. A
// Builder is used by a single goroutine and discarded with the request.
type Builder struct {
	chain       domain.ChainReader
	tokenPricer domain.TokenPricer
	chainID     int64
	assetSymbol string // fallback for unnamed loan tokens
	logger      *slog.Logger

	tokens map[string]domain.Token
	prices map[string]*big.Int
}

// NewBuilder creates a request-scoped Builder. assetSymbol is the parent
// vault's asset symbol, used as the loan-side label fallback.
func NewBuilder(chain domain.ChainReader, tokenPricer domain.TokenPricer, chainID int64, assetSymbol string, logger *slog.Logger) *Builder {
	return &Builder{
		chain:       chain,
		tokenPricer: tokenPricer,
		chainID:     chainID,
		assetSymbol: assetSymbol,
		logger:      logger.With(slog.String("component", "allocation")),
		tokens:      make(map[string]domain.Token),
		prices:      make(map[string]*big.Int),
	}
}

// BuildV1 produces allocations for a V1 vault's position list, in the same
// order the chain enumerated the positions. V1 positions store assets
// directly and expose a per-market supply cap from vault configuration.
func (b *Builder) BuildV1(ctx context.Context, positions []domain.MarketPosition) ([]domain.Allocation, error) {
	out := make([]domain.Allocation, 0, len(positions))
	for _, pos := range positions {
		alloc, err := b.marketAllocation(ctx, pos, true)
		if err != nil {
			return nil, fmt.Errorf("allocation: position %s: %w", pos.MarketID, err)
		}
		out = append(out, alloc)
	}
	return out, nil
}

// BuildV2 produces allocations for a V2 vault's adapter list. Order mirrors
// the on-chain adapter enumeration; within an adapter, its own position
// order. Every adapter yields at least one entry: unrecognized kinds emit a
// placeholder rather than disappearing, so the adapter count stays auditable.
func (b *Builder) BuildV2(ctx context.Context, adapters []domain.Adapter) ([]domain.Allocation, error) {
	var out []domain.Allocation
	for _, adapter := range adapters {
		switch adapter.Kind {
		case domain.AdapterMarketPosition:
			for _, pos := range adapter.Positions {
				alloc, err := b.marketAllocation(ctx, pos, false)
				if err != nil {
					return nil, fmt.Errorf("allocation: adapter %s market %s: %w", adapter.Address, pos.MarketID, err)
				}
				out = append(out, alloc)
			}

		case domain.AdapterMarketIndex:
			for _, pos := range adapter.Positions {
				resolved, err := b.resolveShares(ctx, pos)
				if err != nil {
					return nil, fmt.Errorf("allocation: adapter %s market %s: %w", adapter.Address, pos.MarketID, err)
				}
				alloc, err := b.marketAllocation(ctx, resolved, false)
				if err != nil {
					return nil, fmt.Errorf("allocation: adapter %s market %s: %w", adapter.Address, pos.MarketID, err)
				}
				out = append(out, alloc)
			}

		case domain.AdapterNestedVault:
			alloc, err := b.nestedAllocation(ctx, adapter.Nested)
			if err != nil {
				return nil, fmt.Errorf("allocation: adapter %s nested vault: %w", adapter.Address, err)
			}
			out = append(out, alloc)

		default:
			b.logger.Warn("unrecognized adapter kind, emitting placeholder",
				slog.String("adapter", adapter.Address),
				slog.String("kind", string(adapter.Kind)),
			)
			out = append(out, domain.Allocation{
				Label:        "Adapter",
				SupplyAssets: new(big.Int),
			})
		}
	}
	if out == nil {
		out = []domain.Allocation{}
	}
	return out, nil
}

// marketAllocation builds one lending-market allocation. withCap selects the
// V1 behavior: only V1 positions expose a supply cap; V2 adapters report nil,
// never zero.
func (b *Builder) marketAllocation(ctx context.Context, pos domain.MarketPosition, withCap bool) (domain.Allocation, error) {
	loan, err := b.token(ctx, pos.LoanToken)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("loan token %s: %w", pos.LoanToken, err)
	}

	collateralSymbol := idleLabel
	if pos.CollateralToken != "" {
		collateral, err := b.token(ctx, pos.CollateralToken)
		if err != nil {
			return domain.Allocation{}, fmt.Errorf("collateral token %s: %w", pos.CollateralToken, err)
		}
		collateralSymbol = collateral.Symbol
	}

	loanSymbol := loan.Symbol
	if loanSymbol == "" {
		loanSymbol = b.assetSymbol
	}

	supply := pos.SupplyAssets
	if supply == nil {
		supply = new(big.Int)
	}

	alloc := domain.Allocation{
		Label:        fmt.Sprintf("%s / %s", collateralSymbol, loanSymbol),
		MarketID:     pos.MarketID,
		SupplyAssets: supply,
		APY:          pos.SupplyAPY,
		Utilization:  fixedpoint.WadToPercent(pos.Utilization),
	}
	if withCap {
		alloc.Cap = pos.Cap
	}

	// Best-effort USD valuation through the loan token's own price;
	// unpriced tokens degrade to nil instead of failing the build.
	if price := b.tokenPrice(ctx, pos.LoanToken); price != nil {
		alloc.AllocationUsd = fixedpoint.MulPrice(supply, price, loan.Decimals)
	}

	return alloc, nil
}

// resolveShares converts a shares-denominated position to assets through the
// market's live exchange index. A stale index would mis-state exposure, so
// the conversion is an on-chain call, not arithmetic on cached totals.
func (b *Builder) resolveShares(ctx context.Context, pos domain.MarketPosition) (domain.MarketPosition, error) {
	if pos.SupplyShares == nil {
		pos.SupplyAssets = new(big.Int)
		return pos, nil
	}
	assets, err := b.chain.MarketSupplyAssets(ctx, pos.MarketID, pos.SupplyShares)
	if err != nil {
		return pos, fmt.Errorf("shares to assets: %w", err)
	}
	pos.SupplyAssets = assets
	return pos, nil
}

// nestedAllocation builds the allocation for a vault-in-vault position. The
// nested vault's exchange rate is taken after interest accrual; converting at
// the stored rate would understate the parent's exposure.
func (b *Builder) nestedAllocation(ctx context.Context, nested *domain.NestedVaultPosition) (domain.Allocation, error) {
	if nested == nil {
		return domain.Allocation{}, fmt.Errorf("nested-vault adapter with no position payload")
	}

	assets, err := b.chain.NestedVaultAssets(ctx, nested.Address, nested.Shares)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("nested vault %s: %w", nested.Address, err)
	}
	if assets == nil {
		assets = new(big.Int)
	}

	display := nested.Name
	if display == "" {
		display = nested.Address
	}

	// Cross-vault USD and utilization are not defined at this layer.
	return domain.Allocation{
		Label:        fmt.Sprintf("Vault V1: %s", display),
		VaultAddress: nested.Address,
		SupplyAssets: assets,
		APY:          nested.NetAPY,
	}, nil
}

// token returns memoized token metadata, fetching on first use.
func (b *Builder) token(ctx context.Context, address string) (domain.Token, error) {
	if tok, ok := b.tokens[address]; ok {
		return tok, nil
	}
	tok, err := b.chain.TokenMetadata(ctx, address)
	if err != nil {
		return domain.Token{}, err
	}
	b.tokens[address] = tok
	return tok, nil
}

// tokenPrice returns the memoized wad USD price for a token, or nil when the
// pricer has none. Pricer errors are demoted to "unpriced": allocation USD is
// enrichment, not part of the primary lookup path.
func (b *Builder) tokenPrice(ctx context.Context, address string) *big.Int {
	if b.tokenPricer == nil {
		return nil
	}
	if price, ok := b.prices[address]; ok {
		return price
	}
	price, err := b.tokenPricer.TokenPriceUSD(ctx, b.chainID, address)
	if err != nil {
		b.logger.Debug("token price lookup failed",
			slog.String("token", address),
			slog.String("error", err.Error()),
		)
		price = nil
	}
	b.prices[address] = price
	return price
}
