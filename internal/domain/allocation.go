package domain

import "math/big"

// Allocation is one vault's exposure to a single lending market or nested
// vault. Exactly one of MarketID and VaultAddress is set, except for the
// synthetic placeholder emitted for an unrecognized adapter, which has both
// empty and zero exposure.
//
// SupplyAssets is always denominated in the parent vault's asset decimals,
// even when the position is a nested vault with different decimals; the
// conversion happens in the allocation builder, never in callers.
type Allocation struct {
	Label        string
	MarketID     string
	VaultAddress string

	SupplyAssets  *big.Int // asset base units
	AllocationUsd *big.Int // wad, nil when the per-token price is unavailable
	Cap           *big.Int // asset base units, nil when the schema exposes no cap

	APY         *float64 // fraction, nil when unknown
	Utilization *float64 // 0-100 scale, nil when not defined for this kind
}
