package aggregate

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/normalize"
)

// AggregateAll builds the listing snapshots for one chain. The two schema
// listings are fetched concurrently; a failed source contributes zero rows
// while the other still serves. The result is V2 entries first, then V1, each
// in source order, and a vault mid-migration may legitimately appear once per
// schema. Both sources down yields an empty list, not an error.
func (a *Aggregator) AggregateAll(ctx context.Context, chainID int64) ([]domain.VaultSnapshot, error) {
	chain, ok := a.chains[chainID]
	if !ok {
		return nil, domain.NewFailure(domain.FailureInvalidInput, "unsupported chain id %d", chainID)
	}

	var (
		v2List []domain.RawVaultV2
		v1List []domain.RawVaultV1
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := a.pricer.ListV2Vaults(gctx, chainID)
		if err != nil {
			a.logListMiss(chainID, domain.SchemaV2, err)
			return nil
		}
		v2List = list
		return nil
	})
	g.Go(func() error {
		list, err := a.pricer.ListV1Vaults(gctx, chainID)
		if err != nil {
			a.logListMiss(chainID, domain.SchemaV1, err)
			return nil
		}
		v1List = list
		return nil
	})
	_ = g.Wait() // both closures always return nil

	snapshots := make([]domain.VaultSnapshot, 0, len(v2List)+len(v1List))
	for _, raw := range v2List {
		snapshots = append(snapshots, normalize.FromV2(chain.ID, raw))
	}
	for _, raw := range v1List {
		snapshots = append(snapshots, normalize.FromV1(chain.ID, raw))
	}
	return snapshots, nil
}

func (a *Aggregator) logListMiss(chainID int64, version domain.SchemaVersion, err error) {
	a.logger.Warn("vault listing source failed",
		slog.Int64("chain", chainID),
		slog.String("schema", string(version)),
		slog.String("error", err.Error()),
	)
}
