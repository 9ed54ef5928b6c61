package evm

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

const secondsPerYear = 31_536_000

// Share accounting of the lending protocol uses virtual liquidity so empty
// markets still have a defined exchange rate.
var (
	virtualShares = big.NewInt(1_000_000)
	virtualAssets = big.NewInt(1)
	wad           = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// toAssetsDown converts market supply shares to assets, rounding down, using
// the protocol's virtual-liquidity convention.
func toAssetsDown(shares, totalAssets, totalShares *big.Int) *big.Int {
	num := new(big.Int).Add(totalAssets, virtualAssets)
	num.Mul(shares, num)
	den := new(big.Int).Add(totalShares, virtualShares)
	return num.Div(num, den)
}

// marketParamsArg mirrors the MarketParams tuple for ABI packing.
type marketParamsArg struct {
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	Irm             common.Address
	Lltv            *big.Int
}

// marketStateArg mirrors the Market storage tuple for ABI packing.
type marketStateArg struct {
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	LastUpdate        *big.Int
	Fee               *big.Int
}

// marketInfo is the decoded on-chain record of one lending market.
type marketInfo struct {
	params marketParamsArg
	state  marketStateArg
}

func decodeMarketParams(output []byte) (marketParamsArg, error) {
	vals, err := unpack(morphoABI, "idToMarketParams", output)
	if err != nil {
		return marketParamsArg{}, err
	}
	return marketParamsArg{
		LoanToken:       vals[0].(common.Address),
		CollateralToken: vals[1].(common.Address),
		Oracle:          vals[2].(common.Address),
		Irm:             vals[3].(common.Address),
		Lltv:            vals[4].(*big.Int),
	}, nil
}

func decodeMarketState(output []byte) (marketStateArg, error) {
	vals, err := unpack(morphoABI, "market", output)
	if err != nil {
		return marketStateArg{}, err
	}
	return marketStateArg{
		TotalSupplyAssets: vals[0].(*big.Int),
		TotalSupplyShares: vals[1].(*big.Int),
		TotalBorrowAssets: vals[2].(*big.Int),
		TotalBorrowShares: vals[3].(*big.Int),
		LastUpdate:        vals[4].(*big.Int),
		Fee:               vals[5].(*big.Int),
	}, nil
}

// utilizationWad returns borrow/supply scaled to wad, zero for an empty
// market.
func utilizationWad(state marketStateArg) *big.Int {
	if state.TotalSupplyAssets.Sign() == 0 {
		return new(big.Int)
	}
	u := new(big.Int).Mul(state.TotalBorrowAssets, wad)
	return u.Div(u, state.TotalSupplyAssets)
}

// supplyAPY derives the supplier rate from a per-second wad borrow rate,
// compounding continuously and netting out the market fee. An idle market
// (no rate source) earns zero.
func supplyAPY(borrowRatePerSecond *big.Int, state marketStateArg) float64 {
	if borrowRatePerSecond == nil || borrowRatePerSecond.Sign() == 0 {
		return 0
	}
	rate, _ := new(big.Float).SetInt(borrowRatePerSecond).Float64()
	borrowAPY := math.Expm1(rate / 1e18 * secondsPerYear)

	util, _ := new(big.Float).SetInt(utilizationWad(state)).Float64()
	fee, _ := new(big.Float).SetInt(state.Fee).Float64()
	return borrowAPY * (util / 1e18) * (1 - fee/1e18)
}

// VaultAccounting reads a V1 vault's full accounting record: identity,
// totals, and the per-market position list in withdraw-queue order.
func (r *Reader) VaultAccounting(ctx context.Context, address string) (*domain.VaultAccounting, error) {
	vault := common.HexToAddress(address)

	head := []*ethCall{
		{To: vault, Data: pack(vaultV1ABI, "asset")},
		{To: vault, Data: pack(erc20ABI, "name")},
		{To: vault, Data: pack(erc20ABI, "symbol")},
		{To: vault, Data: pack(erc20ABI, "decimals")},
		{To: vault, Data: pack(vaultV1ABI, "totalAssets")},
		{To: vault, Data: pack(vaultV1ABI, "fee")},
		{To: vault, Data: pack(vaultV1ABI, "withdrawQueueLength")},
	}
	if err := r.callBatch(ctx, head); err != nil {
		return nil, err
	}
	// A transport-level element error (rate limit, endpoint outage) is an
	// outage, not a verdict on the address; only a revert or an empty
	// return says "not a vault".
	if err := head[0].Err; err != nil && !reverted(err) {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	if reverted(head[0].Err) || len(head[0].Output) == 0 {
		return nil, fmt.Errorf("%w: %s does not expose vault accounting", domain.ErrNotFound, lowerHex(vault))
	}
	for _, c := range head {
		if c.Err != nil {
			return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), c.Err)
		}
	}

	acct := &domain.VaultAccounting{}
	if vals, err := unpack(vaultV1ABI, "asset", head[0].Output); err == nil {
		acct.Asset = lowerHex(vals[0].(common.Address))
	} else {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	if vals, err := unpack(erc20ABI, "name", head[1].Output); err == nil {
		acct.Name = vals[0].(string)
	}
	if vals, err := unpack(erc20ABI, "symbol", head[2].Output); err == nil {
		acct.Symbol = vals[0].(string)
	}
	if vals, err := unpack(erc20ABI, "decimals", head[3].Output); err == nil {
		acct.Decimals = vals[0].(uint8)
	}
	totalsVals, err := unpack(vaultV1ABI, "totalAssets", head[4].Output)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	acct.TotalAssets = totalsVals[0].(*big.Int)

	feeWad := new(big.Int)
	if vals, err := unpack(vaultV1ABI, "fee", head[5].Output); err == nil {
		feeWad = vals[0].(*big.Int)
	}
	queueVals, err := unpack(vaultV1ABI, "withdrawQueueLength", head[6].Output)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	queueLen := int(queueVals[0].(*big.Int).Int64())

	ids, err := r.withdrawQueue(ctx, vault, queueLen)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}

	positions, liquidity, netAPY, err := r.readPositions(ctx, vault, ids, feeWad)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", lowerHex(vault), err)
	}
	acct.Positions = positions
	acct.Liquidity = liquidity
	acct.NetAPY = netAPY
	return acct, nil
}

func (r *Reader) withdrawQueue(ctx context.Context, vault common.Address, queueLen int) ([]common.Hash, error) {
	calls := make([]*ethCall, queueLen)
	for i := range calls {
		calls[i] = &ethCall{To: vault, Data: pack(vaultV1ABI, "withdrawQueue", big.NewInt(int64(i)))}
	}
	if err := r.callBatch(ctx, calls); err != nil {
		return nil, err
	}
	ids := make([]common.Hash, queueLen)
	for i, c := range calls {
		if c.Err != nil {
			return nil, c.Err
		}
		vals, err := unpack(vaultV1ABI, "withdrawQueue", c.Output)
		if err != nil {
			return nil, err
		}
		ids[i] = common.Hash(vals[0].([32]byte))
	}
	return ids, nil
}

// readPositions resolves each queued market into a position, and folds the
// vault-level liquidity and net APY along the way. Liquidity is the sum over
// markets of the smaller of the vault's supply and the market's free
// liquidity. The net APY is the supply-weighted market APY net of the vault
// performance fee; it is nil when no rate could be read at all.
func (r *Reader) readPositions(ctx context.Context, vault common.Address, ids []common.Hash, vaultFeeWad *big.Int) ([]domain.MarketPosition, *big.Int, *float64, error) {
	n := len(ids)
	calls := make([]*ethCall, 0, 4*n)
	for _, id := range ids {
		raw := [32]byte(id)
		calls = append(calls,
			&ethCall{To: vault, Data: pack(vaultV1ABI, "config", raw)},
			&ethCall{To: r.morpho, Data: pack(morphoABI, "idToMarketParams", raw)},
			&ethCall{To: r.morpho, Data: pack(morphoABI, "market", raw)},
			&ethCall{To: r.morpho, Data: pack(morphoABI, "position", raw, vault)},
		)
	}
	if err := r.callBatch(ctx, calls); err != nil {
		return nil, nil, nil, err
	}

	positions := make([]domain.MarketPosition, 0, n)
	markets := make([]marketInfo, 0, n)
	liquidity := new(big.Int)
	for i, id := range ids {
		cfg, params, mkt, pos := calls[4*i], calls[4*i+1], calls[4*i+2], calls[4*i+3]
		for _, c := range []*ethCall{params, mkt, pos} {
			if c.Err != nil {
				return nil, nil, nil, c.Err
			}
		}

		p, err := decodeMarketParams(params.Output)
		if err != nil {
			return nil, nil, nil, err
		}
		state, err := decodeMarketState(mkt.Output)
		if err != nil {
			return nil, nil, nil, err
		}
		posVals, err := unpack(morphoABI, "position", pos.Output)
		if err != nil {
			return nil, nil, nil, err
		}
		supplyShares := posVals[0].(*big.Int)
		supplyAssets := toAssetsDown(supplyShares, state.TotalSupplyAssets, state.TotalSupplyShares)

		position := domain.MarketPosition{
			MarketID:     id.Hex(),
			LoanToken:    lowerHex(p.LoanToken),
			SupplyAssets: supplyAssets,
			Utilization:  utilizationWad(state),
		}
		if p.CollateralToken != (common.Address{}) {
			position.CollateralToken = lowerHex(p.CollateralToken)
		}
		if cfg.Err == nil {
			if vals, err := unpack(vaultV1ABI, "config", cfg.Output); err == nil {
				position.Cap = vals[0].(*big.Int)
			}
		}

		free := new(big.Int).Sub(state.TotalSupplyAssets, state.TotalBorrowAssets)
		if free.Cmp(supplyAssets) > 0 {
			free.Set(supplyAssets)
		}
		if free.Sign() > 0 {
			liquidity.Add(liquidity, free)
		}

		positions = append(positions, position)
		markets = append(markets, marketInfo{params: p, state: state})
	}

	if err := r.attachMarketAPYs(ctx, positions, markets); err != nil {
		return nil, nil, nil, err
	}

	netAPY := weightedNetAPY(positions, vaultFeeWad)
	return positions, liquidity, netAPY, nil
}

// attachMarketAPYs queries each market's rate model and writes the supplier
// APY onto the matching position. A reverting or absent rate model degrades
// that position's APY to nil rather than failing the read.
func (r *Reader) attachMarketAPYs(ctx context.Context, positions []domain.MarketPosition, markets []marketInfo) error {
	calls := make([]*ethCall, len(markets))
	for i, m := range markets {
		if m.params.Irm == (common.Address{}) {
			continue
		}
		calls[i] = &ethCall{To: m.params.Irm, Data: pack(irmABI, "borrowRateView", m.params, m.state)}
	}
	live := make([]*ethCall, 0, len(calls))
	for _, c := range calls {
		if c != nil {
			live = append(live, c)
		}
	}
	if err := r.callBatch(ctx, live); err != nil {
		return err
	}

	for i := range positions {
		m := markets[i]
		if m.params.Irm == (common.Address{}) {
			// No rate model means no interest accrues; the position
			// earns exactly zero.
			apy := 0.0
			positions[i].SupplyAPY = &apy
			continue
		}
		c := calls[i]
		if c.Err != nil {
			r.logger.Warn("borrow rate unavailable",
				"market", positions[i].MarketID,
				"error", c.Err,
			)
			continue
		}
		vals, err := unpack(irmABI, "borrowRateView", c.Output)
		if err != nil {
			r.logger.Warn("borrow rate undecodable", "market", positions[i].MarketID, "error", err)
			continue
		}
		apy := supplyAPY(vals[0].(*big.Int), m.state)
		positions[i].SupplyAPY = &apy
	}
	return nil
}

// weightedNetAPY folds per-position APYs into the vault-level figure,
// weighting by supplied assets and netting out the vault performance fee.
func weightedNetAPY(positions []domain.MarketPosition, vaultFeeWad *big.Int) *float64 {
	total := new(big.Int)
	weighted := 0.0
	sawRate := false
	for _, p := range positions {
		if p.SupplyAssets == nil {
			continue
		}
		total.Add(total, p.SupplyAssets)
		if p.SupplyAPY != nil {
			sawRate = true
			w, _ := new(big.Float).SetInt(p.SupplyAssets).Float64()
			weighted += *p.SupplyAPY * w
		}
	}
	if !sawRate || total.Sign() == 0 {
		return nil
	}
	tot, _ := new(big.Float).SetInt(total).Float64()
	fee, _ := new(big.Float).SetInt(vaultFeeWad).Float64()
	net := weighted / tot * (1 - fee/1e18)
	return &net
}

// MarketSupplyAssets converts supply shares of one market into asset units
// at the market's live exchange index.
func (r *Reader) MarketSupplyAssets(ctx context.Context, marketID string, shares *big.Int) (*big.Int, error) {
	id := [32]byte(common.HexToHash(marketID))
	output, err := r.call(ctx, r.morpho, pack(morphoABI, "market", id))
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", marketID, err)
	}
	state, err := decodeMarketState(output)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", marketID, err)
	}
	return toAssetsDown(shares, state.TotalSupplyAssets, state.TotalSupplyShares), nil
}
