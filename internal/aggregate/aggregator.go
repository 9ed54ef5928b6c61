// Package aggregate composes the on-chain reader and the off-chain pricer
// into canonical vault views. It owns version resolution (V2 detail first,
// V1 otherwise), the three-tier V1 USD fallback, and the failure taxonomy;
// it never retries and never caches across requests.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/haldenlabs/vaultscope/internal/allocation"
	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/fixedpoint"
	"github.com/haldenlabs/vaultscope/internal/normalize"
)

// Chain binds one supported chain to its label and on-chain reader. A nil
// Reader marks a chain that is known but has no RPC endpoint configured;
// requests for it fail fast with ConfigurationMissing instead of timing out.
type Chain struct {
	ID     int64
	Label  string
	Reader domain.ChainReader
}

// Aggregator resolves single-vault detail views.
type Aggregator struct {
	chains      map[int64]Chain
	pricer      domain.Pricer
	tokenPricer domain.TokenPricer
	logger      *slog.Logger
}

// New creates an Aggregator over the given chains.
func New(chains []Chain, pricer domain.Pricer, tokenPricer domain.TokenPricer, logger *slog.Logger) *Aggregator {
	byID := make(map[int64]Chain, len(chains))
	for _, c := range chains {
		byID[c.ID] = c
	}
	return &Aggregator{
		chains:      byID,
		pricer:      pricer,
		tokenPricer: tokenPricer,
		logger:      logger.With(slog.String("component", "aggregate")),
	}
}

// Aggregate builds the full detail view for one vault. Failures come back as
// *domain.Failure so callers can map them onto their own surface; degraded
// upstream data comes back as nil fields inside a successful view.
func (a *Aggregator) Aggregate(ctx context.Context, chainID int64, address string) (*domain.VaultView, error) {
	chain, ok := a.chains[chainID]
	if !ok {
		return nil, domain.NewFailure(domain.FailureInvalidInput, "unsupported chain id %d", chainID)
	}
	if !common.IsHexAddress(address) {
		return nil, domain.NewFailure(domain.FailureInvalidInput, "malformed vault address %q", address)
	}
	addr := strings.ToLower(common.HexToAddress(address).Hex())

	if chain.Reader == nil {
		return nil, domain.NewFailure(domain.FailureConfigurationMissing,
			"no RPC endpoint configured for chain %d (%s)", chainID, chain.Label)
	}

	// Version resolution: a usable V2 detail record decides the path. A
	// pricer error here is a miss, not a verdict; the V1 path still gets
	// its chance.
	rawV2, err := a.pricer.VaultV2ByAddress(ctx, chainID, addr)
	if err != nil {
		a.logger.Warn("v2 detail lookup failed, falling through",
			slog.Int64("chain", chainID),
			slog.String("vault", addr),
			slog.String("error", err.Error()),
		)
		rawV2 = nil
	}
	if rawV2 != nil {
		return a.aggregateV2(ctx, chain, addr, *rawV2)
	}
	return a.aggregateV1(ctx, chain, addr)
}

func (a *Aggregator) aggregateV2(ctx context.Context, chain Chain, addr string, raw domain.RawVaultV2) (*domain.VaultView, error) {
	snap := normalize.FromV2(chain.ID, raw)

	var (
		share    domain.Token
		adapters []domain.Adapter
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tok, err := chain.Reader.TokenMetadata(gctx, addr)
		if err != nil {
			// Share-token metadata only refines display decimals.
			a.logger.Warn("share token metadata unavailable",
				slog.String("vault", addr), slog.String("error", err.Error()))
			tok = domain.Token{Decimals: snap.Asset.Decimals}
		}
		share = tok
		return nil
	})
	g.Go(func() error {
		list, err := chain.Reader.VaultV2Adapters(gctx, addr)
		if err != nil {
			return err
		}
		adapters = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, a.onchainFailure(addr, err)
	}
	snap.VaultDecimals = share.Decimals

	// V2 reports liquidity only in USD; derive the token figure through
	// the vault's average asset price.
	price := fixedpoint.DerivePrice(snap.TotalAssetsUsd, snap.TotalAssets, snap.Asset.Decimals)
	snap.Liquidity = fixedpoint.TokenFromUsd(snap.LiquidityUsd, price, snap.Asset.Decimals)

	builder := allocation.NewBuilder(chain.Reader, a.tokenPricer, chain.ID, snap.Asset.Symbol, a.logger)
	allocations, err := builder.BuildV2(ctx, adapters)
	if err != nil {
		return nil, a.onchainFailure(addr, err)
	}

	return &domain.VaultView{
		VaultSnapshot: snap,
		ChainLabel:    chain.Label,
		Allocations:   allocations,
	}, nil
}

func (a *Aggregator) aggregateV1(ctx context.Context, chain Chain, addr string) (*domain.VaultView, error) {
	var (
		acct *domain.VaultAccounting
		usd  usdFigures
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record, err := chain.Reader.VaultAccounting(gctx, addr)
		if err != nil {
			return err
		}
		acct = record
		return nil
	})
	g.Go(func() error {
		usd = a.v1USD(gctx, chain.ID, addr)
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewFailure(domain.FailureVaultNotFound,
				"no vault found at %s on chain %d", addr, chain.ID)
		}
		return nil, a.onchainFailure(addr, err)
	}

	snap := domain.VaultSnapshot{
		Address:        addr,
		ChainID:        chain.ID,
		Version:        domain.SchemaV1,
		Name:           acct.Name,
		Symbol:         acct.Symbol,
		VaultDecimals:  acct.Decimals,
		TotalAssets:    acct.TotalAssets,
		TotalSupply:    new(big.Int),
		Liquidity:      acct.Liquidity,
		TotalAssetsUsd: usd.totalAssetsUsd,
		LiquidityUsd:   usd.liquidityUsd,
		NetAPY:         acct.NetAPY,
	}
	// The off-chain net APY already folds in rewards; prefer it when
	// present.
	if usd.netApy != nil {
		snap.NetAPY = usd.netApy
	}

	asset, err := chain.Reader.TokenMetadata(ctx, acct.Asset)
	if err != nil {
		return nil, a.onchainFailure(addr, err)
	}
	snap.Asset = asset

	builder := allocation.NewBuilder(chain.Reader, a.tokenPricer, chain.ID, asset.Symbol, a.logger)
	allocations, err := builder.BuildV1(ctx, acct.Positions)
	if err != nil {
		return nil, a.onchainFailure(addr, err)
	}

	return &domain.VaultView{
		VaultSnapshot: snap,
		ChainLabel:    chain.Label,
		Allocations:   allocations,
	}, nil
}

// usdFigures is the outcome of the V1 USD fallback chain. All fields nil
// means every tier missed; the snapshot then carries nil USD fields.
type usdFigures struct {
	totalAssetsUsd *big.Int
	liquidityUsd   *big.Int
	netApy         *float64
}

// v1USD walks the three pricing tiers in order, moving on only when the
// previous tier yielded nothing usable. Tier errors are logged misses; a
// degraded pricer must never fail a vault whose on-chain read succeeded.
func (a *Aggregator) v1USD(ctx context.Context, chainID int64, addr string) usdFigures {
	if probe, err := a.pricer.VaultUSD(ctx, chainID, addr); err != nil {
		a.logUSDMiss(chainID, addr, "usd probe", err)
	} else if probe != nil && usable(probe.TotalAssetsUsd) {
		figures := usdFigures{totalAssetsUsd: fixedpoint.ParseDecimalToWad(probe.TotalAssetsUsd)}
		if usable(probe.LiquidityUsd) {
			figures.liquidityUsd = fixedpoint.ParseDecimalToWad(probe.LiquidityUsd)
		} else {
			figures.liquidityUsd = figures.totalAssetsUsd
		}
		return figures
	}

	if state, err := a.pricer.VaultV1State(ctx, chainID, addr); err != nil {
		a.logUSDMiss(chainID, addr, "state endpoint", err)
	} else if f, ok := stateFigures(state); ok {
		return f
	}

	if state, err := a.pricer.VaultV1ListState(ctx, chainID, addr); err != nil {
		a.logUSDMiss(chainID, addr, "filtered list", err)
	} else if f, ok := stateFigures(state); ok {
		return f
	}

	return usdFigures{}
}

// stateFigures extracts the USD figures of a state-shaped tier. A V1 state
// has no dedicated liquidity figure, so totalAssetsUsd stands in.
func stateFigures(state *domain.RawVaultV1State) (usdFigures, bool) {
	if state == nil || !usable(state.TotalAssetsUsd) {
		return usdFigures{}, false
	}
	total := fixedpoint.ParseDecimalToWad(state.TotalAssetsUsd)
	return usdFigures{
		totalAssetsUsd: total,
		liquidityUsd:   total,
		netApy:         state.NetApy,
	}, true
}

func usable(s string) bool {
	return strings.TrimSpace(s) != ""
}

func (a *Aggregator) logUSDMiss(chainID int64, addr, tier string, err error) {
	a.logger.Warn("usd pricing tier failed",
		slog.Int64("chain", chainID),
		slog.String("vault", addr),
		slog.String("tier", tier),
		slog.String("error", err.Error()),
	)
}

// onchainFailure wraps an on-chain read error in the taxonomy, preserving
// the transport message and annotating the rate-limit condition.
func (a *Aggregator) onchainFailure(addr string, err error) *domain.Failure {
	f := domain.NewFailure(domain.FailureOnchainUnavailable,
		"on-chain read failed for %s: %v", addr, err)
	f.RateLimited = errors.Is(err, domain.ErrRateLimited)
	return f
}
