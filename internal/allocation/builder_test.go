package allocation

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// fakeChain is a scripted ChainReader for builder tests.
type fakeChain struct {
	tokens        map[string]domain.Token
	tokenCalls    map[string]int
	shareIndex    map[string]*big.Int // marketID -> assets per share, wad
	nestedAssets  map[string]*big.Int
	nestedErr     error
	tokenMetaErr  error
	marketConvErr error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		tokens:       map[string]domain.Token{},
		tokenCalls:   map[string]int{},
		shareIndex:   map[string]*big.Int{},
		nestedAssets: map[string]*big.Int{},
	}
}

func (f *fakeChain) TokenMetadata(_ context.Context, address string) (domain.Token, error) {
	f.tokenCalls[address]++
	if f.tokenMetaErr != nil {
		return domain.Token{}, f.tokenMetaErr
	}
	tok, ok := f.tokens[address]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return tok, nil
}

func (f *fakeChain) VaultAccounting(context.Context, string) (*domain.VaultAccounting, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeChain) VaultV2Adapters(context.Context, string) ([]domain.Adapter, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeChain) MarketSupplyAssets(_ context.Context, marketID string, shares *big.Int) (*big.Int, error) {
	if f.marketConvErr != nil {
		return nil, f.marketConvErr
	}
	index, ok := f.shareIndex[marketID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := new(big.Int).Mul(shares, index)
	return out.Quo(out, big.NewInt(1e18)), nil
}

func (f *fakeChain) NestedVaultAssets(_ context.Context, vault string, _ *big.Int) (*big.Int, error) {
	if f.nestedErr != nil {
		return nil, f.nestedErr
	}
	return f.nestedAssets[vault], nil
}

// fakeTokenPricer prices tokens from a static table.
type fakeTokenPricer struct {
	prices map[string]*big.Int
	err    error
}

func (f *fakeTokenPricer) TokenPriceUSD(_ context.Context, _ int64, address string) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prices[address], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

const (
	usdcAddr = "0xusdc"
	wethAddr = "0xweth"
)

func oneUsdWad() *big.Int {
	v, _ := new(big.Int).SetString("1000000000000000000", 10)
	return v
}

func TestBuildV2MarketPosition(t *testing.T) {
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}

	util, _ := new(big.Int).SetString("915000000000000000", 10) // 0.915
	apy := 0.052

	adapters := []domain.Adapter{{
		Kind:    domain.AdapterMarketPosition,
		Address: "0xadapter1",
		Positions: []domain.MarketPosition{{
			MarketID:     "0xmarket1",
			LoanToken:    usdcAddr,
			SupplyAssets: big.NewInt(500_000000),
			SupplyAPY:    &apy,
			Utilization:  util,
		}},
	}}

	pricer := &fakeTokenPricer{prices: map[string]*big.Int{usdcAddr: oneUsdWad()}}
	b := NewBuilder(chain, pricer, 1, "USDC", testLogger())

	allocs, err := b.BuildV2(context.Background(), adapters)
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	a := allocs[0]
	assert.Equal(t, "Idle / USDC", a.Label)
	assert.Equal(t, "0xmarket1", a.MarketID)
	assert.Empty(t, a.VaultAddress)
	assert.Equal(t, int64(500_000000), a.SupplyAssets.Int64())
	assert.Nil(t, a.Cap, "V2 adapters expose no cap")
	require.NotNil(t, a.Utilization)
	assert.InDelta(t, 91.5, *a.Utilization, 1e-9)
	require.NotNil(t, a.AllocationUsd)
	want, _ := new(big.Int).SetString("500000000000000000000", 10) // 500 USD wad
	assert.Equal(t, 0, want.Cmp(a.AllocationUsd))
}

func TestBuildV2CollateralPairLabel(t *testing.T) {
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}
	chain.tokens[wethAddr] = domain.Token{Address: wethAddr, Symbol: "WETH", Decimals: 18}

	adapters := []domain.Adapter{{
		Kind: domain.AdapterMarketPosition,
		Positions: []domain.MarketPosition{{
			MarketID:        "0xm",
			LoanToken:       usdcAddr,
			CollateralToken: wethAddr,
			SupplyAssets:    big.NewInt(1),
		}},
	}}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV2(context.Background(), adapters)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "WETH / USDC", allocs[0].Label)
	assert.Nil(t, allocs[0].AllocationUsd, "no pricer wired, USD degrades to nil")
}

func TestBuildV2MarketIndexConvertsAtLiveIndex(t *testing.T) {
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}
	// 1.05 assets per share.
	index, _ := new(big.Int).SetString("1050000000000000000", 10)
	chain.shareIndex["0xm"] = index

	adapters := []domain.Adapter{{
		Kind: domain.AdapterMarketIndex,
		Positions: []domain.MarketPosition{{
			MarketID:     "0xm",
			LoanToken:    usdcAddr,
			SupplyShares: big.NewInt(1000_000000),
		}},
	}}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV2(context.Background(), adapters)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, int64(1050_000000), allocs[0].SupplyAssets.Int64())
}

func TestBuildV2NestedVault(t *testing.T) {
	chain := newFakeChain()
	chain.nestedAssets["0xnested"] = big.NewInt(7_500000)
	apy := 0.031

	adapters := []domain.Adapter{{
		Kind: domain.AdapterNestedVault,
		Nested: &domain.NestedVaultPosition{
			Address: "0xnested",
			Name:    "Prime USDC",
			Shares:  big.NewInt(7_000000),
			NetAPY:  &apy,
		},
	}}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV2(context.Background(), adapters)
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	a := allocs[0]
	assert.Equal(t, "Vault V1: Prime USDC", a.Label)
	assert.Equal(t, "0xnested", a.VaultAddress)
	assert.Empty(t, a.MarketID)
	assert.Equal(t, int64(7_500000), a.SupplyAssets.Int64(), "accrued rate, not stored shares")
	assert.Nil(t, a.AllocationUsd)
	assert.Nil(t, a.Utilization)
	require.NotNil(t, a.APY)
	assert.InDelta(t, 0.031, *a.APY, 1e-12)
}

func TestBuildV2NestedVaultFallsBackToAddressLabel(t *testing.T) {
	chain := newFakeChain()
	adapters := []domain.Adapter{{
		Kind:   domain.AdapterNestedVault,
		Nested: &domain.NestedVaultPosition{Address: "0xnested", Shares: big.NewInt(1)},
	}}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV2(context.Background(), adapters)
	require.NoError(t, err)
	assert.Equal(t, "Vault V1: 0xnested", allocs[0].Label)
}

func TestBuildV2UnknownAdapterKeepsCount(t *testing.T) {
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}
	chain.nestedAssets["0xnested"] = big.NewInt(1)

	adapters := []domain.Adapter{
		{
			Kind: domain.AdapterMarketPosition,
			Positions: []domain.MarketPosition{
				{MarketID: "0xm1", LoanToken: usdcAddr, SupplyAssets: big.NewInt(10)},
			},
		},
		{Kind: domain.AdapterKind("exotic"), Address: "0xmystery"},
		{Kind: domain.AdapterNestedVault, Nested: &domain.NestedVaultPosition{Address: "0xnested", Shares: big.NewInt(1)}},
	}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV2(context.Background(), adapters)
	require.NoError(t, err)
	require.Len(t, allocs, 3, "unknown adapter must not be dropped")

	placeholder := allocs[1]
	assert.Equal(t, "Adapter", placeholder.Label)
	assert.Empty(t, placeholder.MarketID)
	assert.Empty(t, placeholder.VaultAddress)
	assert.Equal(t, int64(0), placeholder.SupplyAssets.Int64())
	assert.Nil(t, placeholder.AllocationUsd)
	assert.Nil(t, placeholder.Cap)
	assert.Nil(t, placeholder.APY)
	assert.Nil(t, placeholder.Utilization)
}

func TestBuildV1CapAndOrder(t *testing.T) {
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}
	chain.tokens[wethAddr] = domain.Token{Address: wethAddr, Symbol: "WETH", Decimals: 18}

	positions := []domain.MarketPosition{
		{MarketID: "0xm1", LoanToken: usdcAddr, CollateralToken: wethAddr, SupplyAssets: big.NewInt(100), Cap: big.NewInt(1000)},
		{MarketID: "0xm2", LoanToken: usdcAddr, SupplyAssets: big.NewInt(200), Cap: big.NewInt(2000)},
		{MarketID: "0xm3", LoanToken: usdcAddr, SupplyAssets: big.NewInt(300)},
	}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV1(context.Background(), positions)
	require.NoError(t, err)
	require.Len(t, allocs, 3)

	// Enumeration order is preserved, no re-sorting.
	assert.Equal(t, "0xm1", allocs[0].MarketID)
	assert.Equal(t, "0xm2", allocs[1].MarketID)
	assert.Equal(t, "0xm3", allocs[2].MarketID)

	require.NotNil(t, allocs[0].Cap)
	assert.Equal(t, int64(1000), allocs[0].Cap.Int64())
	assert.Nil(t, allocs[2].Cap, "unconfigured cap stays nil, not zero")
}

func TestTokenMetadataMemoized(t *testing.T) {
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}

	positions := []domain.MarketPosition{
		{MarketID: "0xm1", LoanToken: usdcAddr, SupplyAssets: big.NewInt(1)},
		{MarketID: "0xm2", LoanToken: usdcAddr, SupplyAssets: big.NewInt(2)},
		{MarketID: "0xm3", LoanToken: usdcAddr, SupplyAssets: big.NewInt(3)},
	}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	_, err := b.BuildV1(context.Background(), positions)
	require.NoError(t, err)

	assert.Equal(t, 1, chain.tokenCalls[usdcAddr], "shared loan token fetched once")
}

func TestBuildV1TokenMetadataFailureIsTerminal(t *testing.T) {
	chain := newFakeChain()
	chain.tokenMetaErr = errors.New("rpc timeout")

	positions := []domain.MarketPosition{
		{MarketID: "0xm1", LoanToken: usdcAddr, SupplyAssets: big.NewInt(1)},
	}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	_, err := b.BuildV1(context.Background(), positions)
	assert.Error(t, err)
}

func TestAllocationDriftStaysBounded(t *testing.T) {
	// sum(supplyAssets) is allowed to drift from totalAssets (idle capital,
	// rounding), but on a realistic fixture the drift should stay small.
	chain := newFakeChain()
	chain.tokens[usdcAddr] = domain.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}

	totalAssets := big.NewInt(1_000_000_000000) // 1M USDC
	positions := []domain.MarketPosition{
		{MarketID: "0xm1", LoanToken: usdcAddr, SupplyAssets: big.NewInt(400_000_000000)},
		{MarketID: "0xm2", LoanToken: usdcAddr, SupplyAssets: big.NewInt(350_000_000000)},
		{MarketID: "0xm3", LoanToken: usdcAddr, SupplyAssets: big.NewInt(249_999_997000)},
	}

	b := NewBuilder(chain, nil, 1, "USDC", testLogger())
	allocs, err := b.BuildV1(context.Background(), positions)
	require.NoError(t, err)

	sum := new(big.Int)
	for _, a := range allocs {
		sum.Add(sum, a.SupplyAssets)
	}

	drift := new(big.Int).Sub(totalAssets, sum)
	drift.Abs(drift)

	// Bound: one part in 10^5 of total assets.
	bound := new(big.Int).Quo(totalAssets, big.NewInt(100000))
	assert.True(t, drift.Cmp(bound) <= 0, "drift %s exceeds bound %s", drift, bound)
}
