package domain

import "fmt"

// FailureKind classifies terminal aggregation failures. Degraded data (absent
// price, absent cap, absent utilization) is never a Failure; it surfaces as
// nil fields in an otherwise successful result.
type FailureKind string

const (
	// FailureInvalidInput: unsupported chain or malformed address. Not
	// retryable; the caller must correct the request.
	FailureInvalidInput FailureKind = "invalid_input"

	// FailureConfigurationMissing: the chain is known but has no configured
	// transport. A deployment defect, surfaced verbatim.
	FailureConfigurationMissing FailureKind = "configuration_missing"

	// FailureOnchainUnavailable: the RPC transport failed during the primary
	// lookup path. RateLimited is set when the failure looks like a
	// rate-limit condition so the caller can message it distinctly.
	FailureOnchainUnavailable FailureKind = "onchain_unavailable"

	// FailureVaultNotFound: neither schema source has the vault.
	FailureVaultNotFound FailureKind = "vault_not_found"
)

// Failure is a terminal aggregation failure with a single human-readable
// line, suitable for the dedicated failure view.
type Failure struct {
	Kind        FailureKind
	Message     string
	RateLimited bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure builds a Failure from a kind and a format string.
func NewFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
