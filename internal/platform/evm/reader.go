// Package evm implements the on-chain reader over a JSON-RPC endpoint using
// go-ethereum. It owns every transport concern the aggregation layer must
// stay free of: request batching, bounded retry with backoff, and
// classification of rate-limit and not-a-contract conditions.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

// Transport tunes the RPC batching and retry behavior for one chain.
type Transport struct {
	BatchSize  int           // max eth_call requests per JSON-RPC batch
	RetryCount int           // additional attempts after the first
	RetryDelay time.Duration // flat delay between attempts
}

// DefaultTransport matches the standard per-chain profile.
func DefaultTransport() Transport {
	return Transport{BatchSize: 20, RetryCount: 3, RetryDelay: 250 * time.Millisecond}
}

// Reader is a ChainReader backed by one JSON-RPC endpoint.
type Reader struct {
	rpc       *rpc.Client
	morpho    common.Address // lending-protocol singleton used by V1 vaults
	transport Transport
	logger    *slog.Logger
}

var _ domain.ChainReader = (*Reader)(nil)

// Dial connects to the RPC endpoint and returns a Reader. morphoAddress is
// the lending-protocol singleton contract that V1 vault positions settle
// against.
func Dial(ctx context.Context, rpcURL, morphoAddress string, transport Transport, logger *slog.Logger) (*Reader, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	if transport.BatchSize <= 0 {
		transport.BatchSize = DefaultTransport().BatchSize
	}
	return &Reader{
		rpc:       client,
		morpho:    common.HexToAddress(morphoAddress),
		transport: transport,
		logger:    logger.With(slog.String("component", "evm")),
	}, nil
}

// Close releases the underlying RPC connection.
func (r *Reader) Close() {
	r.rpc.Close()
}

// ethCall describes one eth_call in a batch. Output and Err are populated by
// callBatch; a per-call revert sets Err without failing the batch.
type ethCall struct {
	To     common.Address
	Data   []byte
	Output []byte
	Err    error
}

// callBatch executes the calls in JSON-RPC batches of at most BatchSize,
// retrying transport-level failures up to RetryCount times. Per-call reverts
// are not retried: a revert is an answer, not an outage.
func (r *Reader) callBatch(ctx context.Context, calls []*ethCall) error {
	for start := 0; start < len(calls); start += r.transport.BatchSize {
		end := min(start+r.transport.BatchSize, len(calls))
		if err := r.sendChunk(ctx, calls[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) sendChunk(ctx context.Context, calls []*ethCall) error {
	batch := make([]rpc.BatchElem, len(calls))
	results := make([]hexutil.Bytes, len(calls))
	for i, c := range calls {
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]any{
					"to":   c.To,
					"data": hexutil.Bytes(c.Data),
				},
				"latest",
			},
			Result: &results[i],
		}
	}

	var err error
	for attempt := 0; attempt <= r.transport.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("evm: %w: %w", domain.ErrContextDone, ctx.Err())
			case <-time.After(r.transport.RetryDelay):
			}
			r.logger.Debug("retrying rpc batch",
				slog.Int("attempt", attempt),
				slog.Int("calls", len(calls)),
			)
		}
		err = r.rpc.BatchCallContext(ctx, batch)
		if err == nil {
			break
		}
		if !retryable(err) {
			break
		}
	}
	if err != nil {
		return classify(err)
	}

	for i, elem := range batch {
		if elem.Error != nil {
			calls[i].Err = classify(elem.Error)
			continue
		}
		calls[i].Output = results[i]
	}
	return nil
}

// call executes a single eth_call through the same batch path.
func (r *Reader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	c := &ethCall{To: to, Data: data}
	if err := r.callBatch(ctx, []*ethCall{c}); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Output, nil
}

// retryable reports whether an error is a transient transport condition
// worth another attempt. Rate limits are retried within the bounded budget;
// context expiry never is.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// classify maps raw transport errors onto the domain sentinels so callers
// can distinguish a rate-limited endpoint and a reverting contract from a
// generic outage. The original message is preserved for surfacing.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, err.Error())
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "out of gas"),
		strings.Contains(msg, "invalid opcode"):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, err.Error())
	default:
		return err
	}
}

// reverted reports whether a call failed because the contract does not
// implement the probed function (or is not a contract at all), as opposed to
// the transport failing.
func reverted(err error) bool {
	return err != nil && errors.Is(err, domain.ErrNotFound)
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
