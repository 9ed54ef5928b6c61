// Package normalize is the single translation point between the two raw
// off-chain vault schemas and the canonical VaultSnapshot. Everything
// downstream of this package operates only on the canonical shape.
package normalize

import (
	"math/big"
	"strings"

	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/fixedpoint"
)

// fallbackAssetDecimals is assumed when a V1 record carries no embedded
// asset object. The V1 listing endpoint omits the asset for some vaults.
const fallbackAssetDecimals = 18

// FromV2 maps a raw V2 record into a canonical snapshot. V2 records already
// carry their accounting at top level, so this is near-identity plus the
// decimal-string-to-wad conversion of the USD fields.
//
// The record is tagged V2 because it came from the V2 source, never because
// of its shape.
func FromV2(chainID int64, raw domain.RawVaultV2) domain.VaultSnapshot {
	snap := domain.VaultSnapshot{
		Address:     strings.ToLower(raw.Address),
		ChainID:     chainID,
		Version:     domain.SchemaV2,
		Name:        raw.Name,
		Symbol:      raw.Symbol,
		Whitelisted: raw.Whitelisted,
		TotalAssets: baseUnitsOrZero(raw.TotalAssets),
		TotalSupply: baseUnitsOrZero(raw.TotalSupply),
		NetAPY:      raw.AvgNetApy,
	}

	snap.TotalAssetsUsd = usdOrNil(raw.TotalAssetsUsd)
	snap.LiquidityUsd = usdOrNil(raw.LiquidityUsd)
	snap.Asset = assetOrFallback(raw.Asset, raw.Symbol)

	return snap
}

// FromV1 maps a raw V1 record into a canonical snapshot. V1 accounting lives
// in the nested state object and has no first-class totalSupply or dedicated
// liquidity figure from the listing endpoint, so liquidityUsd is substituted
// with totalAssetsUsd, totalSupply defaults to zero, and a fallback asset is
// synthesized when none is embedded.
func FromV1(chainID int64, raw domain.RawVaultV1) domain.VaultSnapshot {
	snap := domain.VaultSnapshot{
		Address:     strings.ToLower(raw.Address),
		ChainID:     chainID,
		Version:     domain.SchemaV1,
		Name:        raw.Name,
		Symbol:      raw.Symbol,
		Whitelisted: raw.Whitelisted,
		TotalAssets: new(big.Int),
		TotalSupply: new(big.Int),
	}

	if raw.State != nil {
		snap.TotalAssets = baseUnitsOrZero(raw.State.TotalAssets)
		snap.TotalAssetsUsd = usdOrNil(raw.State.TotalAssetsUsd)
		// V1 has no separate liquidity signal off-chain.
		snap.LiquidityUsd = snap.TotalAssetsUsd
		snap.NetAPY = raw.State.NetApy
	}

	snap.Asset = assetOrFallback(raw.Asset, raw.Symbol)

	return snap
}

func assetOrFallback(raw *domain.RawAsset, vaultSymbol string) domain.Token {
	if raw == nil {
		return domain.Token{
			Symbol:   vaultSymbol,
			Decimals: fallbackAssetDecimals,
		}
	}
	return domain.Token{
		Address:  strings.ToLower(raw.Address),
		Symbol:   raw.Symbol,
		Decimals: raw.Decimals,
	}
}

func baseUnitsOrZero(s string) *big.Int {
	if v := fixedpoint.ParseBaseUnits(s); v != nil {
		return v
	}
	return new(big.Int)
}

// usdOrNil converts a USD decimal string to wad, keeping absence explicit:
// an empty string stays nil instead of becoming a plausible-looking zero.
func usdOrNil(s string) *big.Int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return fixedpoint.ParseDecimalToWad(s)
}
