package domain

import "math/big"

// AdapterKind enumerates the closed set of allocation-target kinds a vault
// can hold. Adding a new kind is a new constant and a new arm in the
// allocation builder, not a scattered conditional.
type AdapterKind string

const (
	// AdapterMarketPosition allocates to lending markets and stores the
	// current supply directly in asset units (V1 positions and the first
	// generation of V2 market adapters).
	AdapterMarketPosition AdapterKind = "market-position"

	// AdapterMarketIndex allocates to lending markets but stores supply
	// shares; assets must be derived through the market's live exchange
	// index at read time.
	AdapterMarketIndex AdapterKind = "market-index"

	// AdapterNestedVault holds shares of a whole V1 vault inside a V2 vault.
	AdapterNestedVault AdapterKind = "nested-vault"

	// AdapterUnknown marks an adapter contract the reader could not
	// classify. It still occupies one slot in the allocation list.
	AdapterUnknown AdapterKind = "unknown"
)

// MarketPosition is one lending-market position as enumerated on chain.
// Either SupplyAssets or SupplyShares is populated depending on what the
// adapter stores; the builder converts shares through the live index.
type MarketPosition struct {
	MarketID        string // bytes32 market id, lower-cased hex
	LoanToken       string // lower-cased hex
	CollateralToken string // empty when the market has no collateral side

	SupplyAssets *big.Int // asset base units, nil when the adapter stores shares
	SupplyShares *big.Int // share units, nil when the adapter stores assets

	Cap *big.Int // per-market supply cap from vault config, nil when absent

	SupplyAPY   *float64 // fraction, nil when the rate source is unavailable
	Utilization *big.Int // wad-scaled ratio in [0, 1e18], nil when unknown
}

// NestedVaultPosition is a V2 vault's stake in a V1 vault, expressed as
// shares of the nested vault.
type NestedVaultPosition struct {
	Address string // nested vault address, lower-cased hex
	Name    string
	Shares  *big.Int // nested vault share units held by the parent
	NetAPY  *float64
}

// Adapter is one allocation target of a V2 vault, tagged with its kind.
// Exactly one payload field matches the kind; for AdapterUnknown all payload
// fields are empty.
type Adapter struct {
	Kind    AdapterKind
	Address string

	Positions []MarketPosition     // market-position and market-index kinds
	Nested    *NestedVaultPosition // nested-vault kind
}

// VaultAccounting is the full on-chain accounting record of a V1 vault.
// Liquidity is exposed natively by the V1 schema; V2 vaults have no on-chain
// equivalent and derive it from USD figures instead.
type VaultAccounting struct {
	Name     string
	Symbol   string
	Decimals uint8
	Asset    string // asset token address, lower-cased hex

	TotalAssets *big.Int // asset base units
	Liquidity   *big.Int // asset base units
	NetAPY      *float64

	Positions []MarketPosition // in on-chain enumeration order
}
