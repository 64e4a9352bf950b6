package services

import "errors"

// Expected business outcomes of a release attempt. These are returned, never
// panicked: the order stays eligible for a manual retry after every one of
// them except ErrEmptyBalance, which usually just means "already released".
var (
	ErrEmptyBalance        = errors.New("escrow balance is empty")
	ErrWalletNotFound      = errors.New("escrow wallet not found")
	ErrSellerWalletMissing = errors.New("seller has no payout wallet")
	ErrTransferFailed      = errors.New("transfer failed")
)

// outcomeOf maps a release error to a metrics/event label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "released"
	case errors.Is(err, ErrEmptyBalance):
		return "empty_balance"
	case errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrSellerWalletMissing):
		return "seller_wallet_missing"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}

// terminal reports whether a release error is a final verdict for this
// attempt, as opposed to a transient condition worth another timer tick.
func terminal(err error) bool {
	return errors.Is(err, ErrEmptyBalance) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSellerWalletMissing) ||
		errors.Is(err, ErrTransferFailed)
}
