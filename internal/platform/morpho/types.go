package morpho

import (
	"encoding/json"
	"strconv"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// apiMoney tolerates the API's habit of returning money fields as either a
// JSON string or a JSON number. The exact textual form is preserved so no
// precision is lost before the wad conversion downstream.
type apiMoney string

func (m *apiMoney) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = apiMoney(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = apiMoney(n.String())
	return nil
}

// apiFloat tolerates number-or-string rate fields (avgNetApy, netApy).
type apiFloat struct {
	value *float64
}

func (f *apiFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		f.value = nil
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	f.value = &v
	return nil
}

type apiAsset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func (a *apiAsset) toRaw() *domain.RawAsset {
	if a == nil {
		return nil
	}
	return &domain.RawAsset{
		Address:  a.Address,
		Symbol:   a.Symbol,
		Decimals: a.Decimals,
	}
}

type apiVaultV2 struct {
	Address        string    `json:"address"`
	Name           string    `json:"name"`
	Symbol         string    `json:"symbol"`
	Whitelisted    bool      `json:"whitelisted"`
	TotalAssets    apiMoney  `json:"totalAssets"`
	TotalAssetsUsd apiMoney  `json:"totalAssetsUsd"`
	TotalSupply    apiMoney  `json:"totalSupply"`
	LiquidityUsd   apiMoney  `json:"liquidityUsd"`
	AvgNetApy      apiFloat  `json:"avgNetApy"`
	Asset          *apiAsset `json:"asset"`
	Adapters       *struct {
		Items []apiV2Adapter `json:"items"`
	} `json:"adapters"`
}

type apiV2Adapter struct {
	Address   string   `json:"address"`
	Assets    apiMoney `json:"assets"`
	AssetsUsd apiMoney `json:"assetsUsd"`
	Type      string   `json:"type"`
}

func (v *apiVaultV2) toRaw() domain.RawVaultV2 {
	raw := domain.RawVaultV2{
		Address:        v.Address,
		Name:           v.Name,
		Symbol:         v.Symbol,
		Whitelisted:    v.Whitelisted,
		TotalAssets:    string(v.TotalAssets),
		TotalAssetsUsd: string(v.TotalAssetsUsd),
		TotalSupply:    string(v.TotalSupply),
		LiquidityUsd:   string(v.LiquidityUsd),
		AvgNetApy:      v.AvgNetApy.value,
		Asset:          v.Asset.toRaw(),
	}
	if v.Adapters != nil {
		raw.Adapters = make([]domain.RawV2Adapter, 0, len(v.Adapters.Items))
		for _, a := range v.Adapters.Items {
			raw.Adapters = append(raw.Adapters, domain.RawV2Adapter{
				Address:   a.Address,
				Assets:    string(a.Assets),
				AssetsUsd: string(a.AssetsUsd),
				Type:      a.Type,
			})
		}
	}
	return raw
}

type apiVaultV1 struct {
	Address     string           `json:"address"`
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	Whitelisted bool             `json:"whitelisted"`
	Asset       *apiAsset        `json:"asset"`
	State       *apiVaultV1State `json:"state"`
}

type apiVaultV1State struct {
	TotalAssets    apiMoney `json:"totalAssets"`
	TotalAssetsUsd apiMoney `json:"totalAssetsUsd"`
	NetApy         apiFloat `json:"netApy"`
}

func (s *apiVaultV1State) toRaw() domain.RawVaultV1State {
	return domain.RawVaultV1State{
		TotalAssets:    string(s.TotalAssets),
		TotalAssetsUsd: string(s.TotalAssetsUsd),
		NetApy:         s.NetApy.value,
	}
}

func (v *apiVaultV1) toRaw() domain.RawVaultV1 {
	raw := domain.RawVaultV1{
		Address:     v.Address,
		Name:        v.Name,
		Symbol:      v.Symbol,
		Whitelisted: v.Whitelisted,
		Asset:       v.Asset.toRaw(),
	}
	if v.State != nil {
		st := v.State.toRaw()
		raw.State = &st
	}
	return raw
}
