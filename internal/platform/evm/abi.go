package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// Hand-maintained ABI fragments for the contract surfaces the reader needs.
// Only view functions appear here; vaultscope never writes state.

const erc20ABIJSON = `[
	{"type":"function","stateMutability":"view","name":"name","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","stateMutability":"view","name":"symbol","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","stateMutability":"view","name":"decimals","inputs":[],"outputs":[{"type":"uint8"}]},
	{"type":"function","stateMutability":"view","name":"balanceOf","inputs":[{"type":"address"}],"outputs":[{"type":"uint256"}]}
]`

// V1 vault (ERC-4626 with a withdraw queue and per-market caps).
const vaultV1ABIJSON = `[
	{"type":"function","stateMutability":"view","name":"asset","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","stateMutability":"view","name":"totalAssets","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"totalSupply","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"convertToAssets","inputs":[{"type":"uint256"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"fee","inputs":[],"outputs":[{"type":"uint96"}]},
	{"type":"function","stateMutability":"view","name":"withdrawQueueLength","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"withdrawQueue","inputs":[{"type":"uint256"}],"outputs":[{"type":"bytes32"}]},
	{"type":"function","stateMutability":"view","name":"config","inputs":[{"type":"bytes32"}],"outputs":[{"type":"uint184"},{"type":"bool"},{"type":"uint64"}]}
]`

// Lending-protocol singleton that V1 vault positions settle against.
const morphoABIJSON = `[
	{"type":"function","stateMutability":"view","name":"market","inputs":[{"type":"bytes32"}],"outputs":[
		{"name":"totalSupplyAssets","type":"uint128"},
		{"name":"totalSupplyShares","type":"uint128"},
		{"name":"totalBorrowAssets","type":"uint128"},
		{"name":"totalBorrowShares","type":"uint128"},
		{"name":"lastUpdate","type":"uint128"},
		{"name":"fee","type":"uint128"}
	]},
	{"type":"function","stateMutability":"view","name":"idToMarketParams","inputs":[{"type":"bytes32"}],"outputs":[
		{"name":"loanToken","type":"address"},
		{"name":"collateralToken","type":"address"},
		{"name":"oracle","type":"address"},
		{"name":"irm","type":"address"},
		{"name":"lltv","type":"uint256"}
	]},
	{"type":"function","stateMutability":"view","name":"position","inputs":[{"type":"bytes32"},{"type":"address"}],"outputs":[
		{"name":"supplyShares","type":"uint256"},
		{"name":"borrowShares","type":"uint128"},
		{"name":"collateral","type":"uint128"}
	]}
]`

// Interest-rate model view used to derive market APYs.
const irmABIJSON = `[
	{"type":"function","stateMutability":"view","name":"borrowRateView","inputs":[
		{"name":"marketParams","type":"tuple","components":[
			{"name":"loanToken","type":"address"},
			{"name":"collateralToken","type":"address"},
			{"name":"oracle","type":"address"},
			{"name":"irm","type":"address"},
			{"name":"lltv","type":"uint256"}
		]},
		{"name":"market","type":"tuple","components":[
			{"name":"totalSupplyAssets","type":"uint128"},
			{"name":"totalSupplyShares","type":"uint128"},
			{"name":"totalBorrowAssets","type":"uint128"},
			{"name":"totalBorrowShares","type":"uint128"},
			{"name":"lastUpdate","type":"uint128"},
			{"name":"fee","type":"uint128"}
		]}
	],"outputs":[{"type":"uint256"}]}
]`

// V2 vault and its adapter contracts. Each adapter kind is detected by
// probing the view functions unique to it.
const vaultV2ABIJSON = `[
	{"type":"function","stateMutability":"view","name":"asset","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","stateMutability":"view","name":"adaptersLength","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"adapters","inputs":[{"type":"uint256"}],"outputs":[{"type":"address"}]}
]`

const adapterABIJSON = `[
	{"type":"function","stateMutability":"view","name":"morphoVaultV1","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","stateMutability":"view","name":"positionsLength","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"positions","inputs":[{"type":"uint256"}],"outputs":[
		{"name":"marketId","type":"bytes32"},
		{"name":"supplyAssets","type":"uint256"}
	]},
	{"type":"function","stateMutability":"view","name":"marketIdsLength","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"marketIds","inputs":[{"type":"uint256"}],"outputs":[{"type":"bytes32"}]},
	{"type":"function","stateMutability":"view","name":"supplyShares","inputs":[{"type":"bytes32"}],"outputs":[{"type":"uint256"}]}
]`

var (
	erc20ABI   = mustABI(erc20ABIJSON)
	vaultV1ABI = mustABI(vaultV1ABIJSON)
	morphoABI  = mustABI(morphoABIJSON)
	irmABI     = mustABI(irmABIJSON)
	vaultV2ABI = mustABI(vaultV2ABIJSON)
	adapterABI = mustABI(adapterABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: bad abi definition: %v", err))
	}
	return parsed
}

// unpack decodes a call output, treating an empty return as "the target does
// not implement this function", which eth_call reports as success for plain
// accounts.
func unpack(parsed abi.ABI, method string, output []byte) ([]any, error) {
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: empty return from %s", domain.ErrNotFound, method)
	}
	values, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func pack(parsed abi.ABI, method string, args ...any) []byte {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		// Packing only fails on programmer error (wrong arg types).
		panic(fmt.Sprintf("evm: pack %s: %v", method, err))
	}
	return data
}
