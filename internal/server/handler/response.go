package handler

import (
	"math/big"

	"github.com/haldenlabs/vaultscope/internal/domain"
	"github.com/haldenlabs/vaultscope/internal/fixedpoint"
)

// Wire DTOs. Token amounts travel as base-unit integer strings; USD values
// as formatted decimal strings. Nil pointers mean the figure was degraded
// upstream and render as JSON null so consumers can tell "zero" from
// "unknown".

type tokenDTO struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type snapshotDTO struct {
	Address       string   `json:"address"`
	ChainID       int64    `json:"chainId"`
	Version       string   `json:"version"`
	Name          string   `json:"name"`
	Symbol        string   `json:"symbol"`
	Whitelisted   bool     `json:"whitelisted"`
	Asset         tokenDTO `json:"asset"`
	VaultDecimals uint8    `json:"vaultDecimals"`

	TotalAssets    string   `json:"totalAssets"`
	TotalAssetsUsd *string  `json:"totalAssetsUsd"`
	TotalSupply    string   `json:"totalSupply"`
	Liquidity      *string  `json:"liquidity"`
	LiquidityUsd   *string  `json:"liquidityUsd"`
	NetAPY         *float64 `json:"netApy"`
}

type allocationDTO struct {
	Label         string   `json:"label"`
	MarketID      string   `json:"marketId,omitempty"`
	VaultAddress  string   `json:"vaultAddress,omitempty"`
	SupplyAssets  string   `json:"supplyAssets"`
	AllocationUsd *string  `json:"allocationUsd"`
	Cap           *string  `json:"cap"`
	APY           *float64 `json:"apy"`
	Utilization   *float64 `json:"utilization"`
}

type vaultViewDTO struct {
	snapshotDTO
	ChainLabel  string          `json:"chainLabel"`
	Allocations []allocationDTO `json:"allocations"`
}

func newSnapshotDTO(s domain.VaultSnapshot) snapshotDTO {
	return snapshotDTO{
		Address:     s.Address,
		ChainID:     s.ChainID,
		Version:     string(s.Version),
		Name:        s.Name,
		Symbol:      s.Symbol,
		Whitelisted: s.Whitelisted,
		Asset: tokenDTO{
			Address:  s.Asset.Address,
			Symbol:   s.Asset.Symbol,
			Decimals: s.Asset.Decimals,
		},
		VaultDecimals:  s.VaultDecimals,
		TotalAssets:    baseUnits(s.TotalAssets),
		TotalAssetsUsd: usdString(s.TotalAssetsUsd),
		TotalSupply:    baseUnits(s.TotalSupply),
		Liquidity:      baseUnitsOrNull(s.Liquidity),
		LiquidityUsd:   usdString(s.LiquidityUsd),
		NetAPY:         s.NetAPY,
	}
}

func newAllocationDTO(a domain.Allocation) allocationDTO {
	return allocationDTO{
		Label:         a.Label,
		MarketID:      a.MarketID,
		VaultAddress:  a.VaultAddress,
		SupplyAssets:  baseUnits(a.SupplyAssets),
		AllocationUsd: usdString(a.AllocationUsd),
		Cap:           baseUnitsOrNull(a.Cap),
		APY:           a.APY,
		Utilization:   a.Utilization,
	}
}

// ViewPayload renders a vault view into its wire shape. Shared with the
// websocket watch frames so both surfaces speak the same schema.
func ViewPayload(view *domain.VaultView) any {
	allocations := make([]allocationDTO, 0, len(view.Allocations))
	for _, a := range view.Allocations {
		allocations = append(allocations, newAllocationDTO(a))
	}
	return vaultViewDTO{
		snapshotDTO: newSnapshotDTO(view.VaultSnapshot),
		ChainLabel:  view.ChainLabel,
		Allocations: allocations,
	}
}

func baseUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func baseUnitsOrNull(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func usdString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := fixedpoint.FormatUnits(v, fixedpoint.WadDecimals)
	return &s
}
