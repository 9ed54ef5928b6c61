package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haldenlabs/vaultscope/internal/aggregate"
	"github.com/haldenlabs/vaultscope/internal/config"
	"github.com/haldenlabs/vaultscope/internal/platform/evm"
	"github.com/haldenlabs/vaultscope/internal/platform/morpho"
)

// Dependencies bundles the domain-level dependencies the application needs
// to serve requests. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Pricer     *morpho.Client
	Aggregator *aggregate.Aggregator
}

// Wire constructs all concrete dependency implementations from the given
// configuration: the off-chain pricing client and one on-chain reader per
// chain that has an RPC endpoint configured. Chains without an endpoint are
// registered without a reader so requests for them fail fast with a
// configuration error instead of a timeout.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pricer := morpho.NewClient(cfg.Morpho.GraphQLURL, cfg.Morpho.APIKey)

	chains := make([]aggregate.Chain, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		chain := aggregate.Chain{ID: cc.ID, Label: cc.Label}
		if cc.RPCURL != "" {
			reader, err := evm.Dial(ctx, cc.RPCURL, cc.MorphoAddress, evm.Transport{
				BatchSize:  cc.BatchSize,
				RetryCount: cc.RetryCount,
				RetryDelay: cc.RetryDelay.Duration,
			}, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: chain %s: %w", cc.Name, err)
			}
			closers = append(closers, reader.Close)
			chain.Reader = reader
		} else {
			logger.Warn("chain has no RPC endpoint configured",
				slog.String("chain", cc.Name),
				slog.Int64("chain_id", cc.ID),
			)
		}
		chains = append(chains, chain)
	}

	deps := &Dependencies{
		Pricer:     pricer,
		Aggregator: aggregate.New(chains, pricer, pricer, logger),
	}
	return deps, cleanup, nil
}
