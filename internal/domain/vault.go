// Package domain defines the canonical vault model shared by every layer of
// vaultscope: the version-erased VaultSnapshot, per-position Allocations, the
// on-chain adapter variants, the failure taxonomy, and the interfaces of the
// two external collaborators (on-chain reader, off-chain pricer).
package domain

import "math/big"

// SchemaVersion identifies which of the two incompatible vault schemas a
// record came from. It is resolved once per request, from the source endpoint
// that produced the record, never by sniffing field shapes.
type SchemaVersion string

const (
	SchemaV1 SchemaVersion = "V1"
	SchemaV2 SchemaVersion = "V2"
)

// Token is on-chain token metadata. Decimals is fetched authoritatively and
// is load-bearing for every downstream scaling step.
type Token struct {
	Address  string // lower-cased hex
	Symbol   string
	Decimals uint8
}

// VaultSnapshot is the canonical, version-erased view of a single vault.
// Money-like fields are integers: token amounts in the asset's base units,
// USD values at 18-decimal wad scale. A nil USD field means every pricing
// source failed; it is a degraded-data marker, not an error.
//
// A snapshot is built fresh per request and immutable after construction.
type VaultSnapshot struct {
	Address     string // lower-cased hex
	ChainID     int64
	Version     SchemaVersion
	Name        string
	Symbol      string
	Whitelisted bool

	Asset         Token
	VaultDecimals uint8

	TotalAssets    *big.Int // asset base units, never nil in a usable snapshot
	TotalAssetsUsd *big.Int // wad, nil when unpriced
	TotalSupply    *big.Int // share base units, zero when the source omits it
	Liquidity      *big.Int // asset base units, nil when not derivable
	LiquidityUsd   *big.Int // wad, nil when unpriced

	NetAPY *float64 // signed fraction (0.034 = 3.4%), nil when unknown
}

// VaultView is the full detail view consumed by the rendering layer: the
// canonical snapshot plus its ordered allocation list.
type VaultView struct {
	VaultSnapshot
	ChainLabel  string
	Allocations []Allocation
}
