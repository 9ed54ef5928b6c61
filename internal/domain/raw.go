package domain

// Raw records are the off-chain pricer's vault shapes exactly as the two
// listing/detail endpoints return them, before normalization. Money fields
// stay as strings here; the normalizer owns every string-to-integer
// conversion so precision is lost in exactly zero places.

// RawAsset is the embedded asset object of an off-chain vault record.
type RawAsset struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// RawVaultV2 is a vault record from the V2 listing/detail endpoint.
// TotalAssets and TotalSupply are base-unit integer strings; the USD fields
// are decimal strings (occasionally in scientific notation).
type RawVaultV2 struct {
	Address     string
	Name        string
	Symbol      string
	Whitelisted bool

	TotalAssets    string
	TotalAssetsUsd string
	TotalSupply    string
	LiquidityUsd   string
	AvgNetApy      *float64

	Asset *RawAsset

	Adapters []RawV2Adapter
}

// RawV2Adapter is one entry of a V2 record's adapter list as reported
// off-chain. It carries only the pricer's view; the authoritative position
// breakdown always comes from the on-chain reader.
type RawV2Adapter struct {
	Address   string
	Assets    string
	AssetsUsd string
	Type      string
}

// RawVaultV1 is a vault record from the V1 listing endpoint. Accounting
// lives in the nested State; Asset may be absent entirely.
type RawVaultV1 struct {
	Address     string
	Name        string
	Symbol      string
	Whitelisted bool

	Asset *RawAsset
	State *RawVaultV1State
}

// RawVaultV1State is the nested accounting object of a V1 record.
// Empty strings mean the field was absent upstream.
type RawVaultV1State struct {
	TotalAssets    string
	TotalAssetsUsd string
	NetApy         *float64
}

// RawVaultUSD is the slim USD-only probe used as the first fallback tier
// when pricing a V1 vault.
type RawVaultUSD struct {
	TotalAssetsUsd string
	LiquidityUsd   string
}
