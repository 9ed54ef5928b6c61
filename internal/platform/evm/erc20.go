package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// TokenMetadata reads symbol and decimals for an ERC-20 token in one batch.
func (r *Reader) TokenMetadata(ctx context.Context, address string) (domain.Token, error) {
	token := common.HexToAddress(address)
	calls := []*ethCall{
		{To: token, Data: pack(erc20ABI, "symbol")},
		{To: token, Data: pack(erc20ABI, "decimals")},
	}
	if err := r.callBatch(ctx, calls); err != nil {
		return domain.Token{}, err
	}
	for _, c := range calls {
		if c.Err != nil {
			return domain.Token{}, fmt.Errorf("token %s: %w", lowerHex(token), c.Err)
		}
	}

	symVals, err := unpack(erc20ABI, "symbol", calls[0].Output)
	if err != nil {
		return domain.Token{}, fmt.Errorf("token %s: %w", lowerHex(token), err)
	}
	decVals, err := unpack(erc20ABI, "decimals", calls[1].Output)
	if err != nil {
		return domain.Token{}, fmt.Errorf("token %s: %w", lowerHex(token), err)
	}

	return domain.Token{
		Address:  lowerHex(token),
		Symbol:   symVals[0].(string),
		Decimals: decVals[0].(uint8),
	}, nil
}
