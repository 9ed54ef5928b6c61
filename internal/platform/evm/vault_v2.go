package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// VaultV2Adapters enumerates a V2 vault's adapters in on-chain order and
// classifies each one by probing the view functions unique to its kind. A
// contract answering none of the probes is kept as an unknown adapter so the
// allocation list still has one entry per slot.
func (r *Reader) VaultV2Adapters(ctx context.Context, address string) ([]domain.Adapter, error) {
	vault := common.HexToAddress(address)

	output, err := r.call(ctx, vault, pack(vaultV2ABI, "adaptersLength"))
	if err != nil {
		if reverted(err) {
			return nil, fmt.Errorf("%w: %s does not expose an adapter list", domain.ErrNotFound, lowerHex(vault))
		}
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	lenVals, err := unpack(vaultV2ABI, "adaptersLength", output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s does not expose an adapter list", domain.ErrNotFound, lowerHex(vault))
	}
	count := int(lenVals[0].(*big.Int).Int64())

	addrCalls := make([]*ethCall, count)
	for i := range addrCalls {
		addrCalls[i] = &ethCall{To: vault, Data: pack(vaultV2ABI, "adapters", big.NewInt(int64(i)))}
	}
	if err := r.callBatch(ctx, addrCalls); err != nil {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	addrs := make([]common.Address, count)
	for i, c := range addrCalls {
		if c.Err != nil {
			return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), c.Err)
		}
		vals, err := unpack(vaultV2ABI, "adapters", c.Output)
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
		}
		addrs[i] = vals[0].(common.Address)
	}

	// One probe batch for the whole adapter list, three calls per adapter.
	probes := make([]*ethCall, 0, 3*count)
	for _, a := range addrs {
		probes = append(probes,
			&ethCall{To: a, Data: pack(adapterABI, "morphoVaultV1")},
			&ethCall{To: a, Data: pack(adapterABI, "positionsLength")},
			&ethCall{To: a, Data: pack(adapterABI, "marketIdsLength")},
		)
	}
	if err := r.callBatch(ctx, probes); err != nil {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}

	adapters := make([]domain.Adapter, 0, count)
	for i, a := range addrs {
		nested, posLen, idxLen := probes[3*i], probes[3*i+1], probes[3*i+2]

		adapter, err := r.classifyAdapter(ctx, a, nested, posLen, idxLen)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", lowerHex(a), err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func (r *Reader) classifyAdapter(ctx context.Context, addr common.Address, nested, posLen, idxLen *ethCall) (domain.Adapter, error) {
	if nested.Err == nil {
		if vals, err := unpack(adapterABI, "morphoVaultV1", nested.Output); err == nil {
			target := vals[0].(common.Address)
			if target != (common.Address{}) {
				pos, err := r.nestedPosition(ctx, addr, target)
				if err != nil {
					return domain.Adapter{}, err
				}
				return domain.Adapter{Kind: domain.AdapterNestedVault, Address: lowerHex(addr), Nested: pos}, nil
			}
		}
	}

	if posLen.Err == nil {
		if vals, err := unpack(adapterABI, "positionsLength", posLen.Output); err == nil {
			positions, err := r.storedPositions(ctx, addr, int(vals[0].(*big.Int).Int64()))
			if err != nil {
				return domain.Adapter{}, err
			}
			return domain.Adapter{Kind: domain.AdapterMarketPosition, Address: lowerHex(addr), Positions: positions}, nil
		}
	}

	if idxLen.Err == nil {
		if vals, err := unpack(adapterABI, "marketIdsLength", idxLen.Output); err == nil {
			positions, err := r.sharePositions(ctx, addr, int(vals[0].(*big.Int).Int64()))
			if err != nil {
				return domain.Adapter{}, err
			}
			return domain.Adapter{Kind: domain.AdapterMarketIndex, Address: lowerHex(addr), Positions: positions}, nil
		}
	}

	r.logger.Warn("unrecognized adapter", "adapter", lowerHex(addr))
	return domain.Adapter{Kind: domain.AdapterUnknown, Address: lowerHex(addr)}, nil
}

// nestedPosition reads a nested V1 vault's identity and the adapter's share
// balance in it.
func (r *Reader) nestedPosition(ctx context.Context, adapter, vault common.Address) (*domain.NestedVaultPosition, error) {
	calls := []*ethCall{
		{To: vault, Data: pack(erc20ABI, "name")},
		{To: vault, Data: pack(erc20ABI, "balanceOf", adapter)},
	}
	if err := r.callBatch(ctx, calls); err != nil {
		return nil, err
	}

	pos := &domain.NestedVaultPosition{Address: lowerHex(vault), Shares: new(big.Int)}
	if calls[0].Err == nil {
		if vals, err := unpack(erc20ABI, "name", calls[0].Output); err == nil {
			pos.Name = vals[0].(string)
		}
	}
	if calls[1].Err != nil {
		return nil, calls[1].Err
	}
	vals, err := unpack(erc20ABI, "balanceOf", calls[1].Output)
	if err != nil {
		return nil, err
	}
	pos.Shares = vals[0].(*big.Int)
	return pos, nil
}

// storedPositions enumerates an adapter that records supply directly in
// asset units alongside each market id.
func (r *Reader) storedPositions(ctx context.Context, adapter common.Address, n int) ([]domain.MarketPosition, error) {
	calls := make([]*ethCall, n)
	for i := range calls {
		calls[i] = &ethCall{To: adapter, Data: pack(adapterABI, "positions", big.NewInt(int64(i)))}
	}
	if err := r.callBatch(ctx, calls); err != nil {
		return nil, err
	}

	ids := make([]common.Hash, n)
	assets := make([]*big.Int, n)
	for i, c := range calls {
		if c.Err != nil {
			return nil, c.Err
		}
		vals, err := unpack(adapterABI, "positions", c.Output)
		if err != nil {
			return nil, err
		}
		ids[i] = common.Hash(vals[0].([32]byte))
		assets[i] = vals[1].(*big.Int)
	}

	positions, markets, err := r.marketPositions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		positions[i].SupplyAssets = assets[i]
	}
	if err := r.attachMarketAPYs(ctx, positions, markets); err != nil {
		return nil, err
	}
	return positions, nil
}

// sharePositions enumerates an adapter that records supply as market shares;
// the caller converts them through the live index.
func (r *Reader) sharePositions(ctx context.Context, adapter common.Address, n int) ([]domain.MarketPosition, error) {
	idCalls := make([]*ethCall, n)
	for i := range idCalls {
		idCalls[i] = &ethCall{To: adapter, Data: pack(adapterABI, "marketIds", big.NewInt(int64(i)))}
	}
	if err := r.callBatch(ctx, idCalls); err != nil {
		return nil, err
	}
	ids := make([]common.Hash, n)
	for i, c := range idCalls {
		if c.Err != nil {
			return nil, c.Err
		}
		vals, err := unpack(adapterABI, "marketIds", c.Output)
		if err != nil {
			return nil, err
		}
		ids[i] = common.Hash(vals[0].([32]byte))
	}

	shareCalls := make([]*ethCall, n)
	for i, id := range ids {
		shareCalls[i] = &ethCall{To: adapter, Data: pack(adapterABI, "supplyShares", [32]byte(id))}
	}
	if err := r.callBatch(ctx, shareCalls); err != nil {
		return nil, err
	}

	positions, markets, err := r.marketPositions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, c := range shareCalls {
		if c.Err != nil {
			return nil, c.Err
		}
		vals, err := unpack(adapterABI, "supplyShares", c.Output)
		if err != nil {
			return nil, err
		}
		positions[i].SupplyShares = vals[0].(*big.Int)
	}
	if err := r.attachMarketAPYs(ctx, positions, markets); err != nil {
		return nil, err
	}
	return positions, nil
}

// marketPositions resolves params and state for a list of market ids into
// position skeletons with identity and utilization filled in.
func (r *Reader) marketPositions(ctx context.Context, ids []common.Hash) ([]domain.MarketPosition, []marketInfo, error) {
	calls := make([]*ethCall, 0, 2*len(ids))
	for _, id := range ids {
		raw := [32]byte(id)
		calls = append(calls,
			&ethCall{To: r.morpho, Data: pack(morphoABI, "idToMarketParams", raw)},
			&ethCall{To: r.morpho, Data: pack(morphoABI, "market", raw)},
		)
	}
	if err := r.callBatch(ctx, calls); err != nil {
		return nil, nil, err
	}

	positions := make([]domain.MarketPosition, len(ids))
	markets := make([]marketInfo, len(ids))
	for i, id := range ids {
		paramsCall, mktCall := calls[2*i], calls[2*i+1]
		for _, c := range []*ethCall{paramsCall, mktCall} {
			if c.Err != nil {
				return nil, nil, c.Err
			}
		}
		p, err := decodeMarketParams(paramsCall.Output)
		if err != nil {
			return nil, nil, err
		}
		state, err := decodeMarketState(mktCall.Output)
		if err != nil {
			return nil, nil, err
		}

		positions[i] = domain.MarketPosition{
			MarketID:    id.Hex(),
			LoanToken:   lowerHex(p.LoanToken),
			Utilization: utilizationWad(state),
		}
		if p.CollateralToken != (common.Address{}) {
			positions[i].CollateralToken = lowerHex(p.CollateralToken)
		}
		markets[i] = marketInfo{params: p, state: state}
	}
	return positions, markets, nil
}

// NestedVaultAssets converts nested-vault shares to asset units through the
// vault's own conversion, which accounts for interest accrued since the last
// on-chain interaction.
func (r *Reader) NestedVaultAssets(ctx context.Context, vault string, shares *big.Int) (*big.Int, error) {
	addr := common.HexToAddress(vault)
	output, err := r.call(ctx, addr, pack(vaultV1ABI, "convertToAssets", shares))
	if err != nil {
		return nil, fmt.Errorf("nested vault %s: %w", lowerHex(addr), err)
	}
	vals, err := unpack(vaultV1ABI, "convertToAssets", output)
	if err != nil {
		return nil, fmt.Errorf("nested vault %s: %w", lowerHex(addr), err)
	}
	return vals[0].(*big.Int), nil
}
