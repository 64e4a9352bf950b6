package ton

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSecret means a seed phrase does not have the expected word count
	// or contains words outside the wordlist.
	ErrInvalidSecret = errors.New("invalid secret phrase")

	// ErrTokenAccountNotFound means the owner has no deployed token sub-wallet
	// yet. Distinct from a zero balance on an existing one.
	ErrTokenAccountNotFound = errors.New("token account not found")
)

// TransferReason classifies why a transfer submission failed.
type TransferReason string

const (
	ReasonInsufficientGas TransferReason = "insufficient_gas"
	ReasonRejected        TransferReason = "rejected"
	ReasonTimeout         TransferReason = "timeout"
	ReasonUnknown         TransferReason = "unknown"
)

// TransferError is returned by the transfer executor. The executor never
// retries; callers decide based on Reason.
type TransferError struct {
	Reason TransferReason
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transfer failed: %s", e.Reason)
	}
	return fmt.Sprintf("transfer failed (%s): %v", e.Reason, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, or ReasonUnknown.
func ReasonOf(err error) TransferReason {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonUnknown
}
