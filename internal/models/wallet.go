package models

import (
	"time"

	"github.com/google/uuid"
)

// WalletKind is the custodial wallet contract flavour. Only one kind is in
// use; the closed enum keeps the persisted tag from drifting into free text.
type WalletKind string

const (
	WalletKindFeePayable WalletKind = "fee_payable"
)

func (k WalletKind) Valid() bool {
	return k == WalletKindFeePayable
}

const (
	ReleaseStatusPending   = "pending"
	ReleaseStatusDeposited = "deposited"
	ReleaseStatusReleased  = "released"
	ReleaseStatusFailed    = "failed"
)

// EscrowWallet is the single-use custodial wallet bound to an order. Created
// exactly once at checkout; only release_status changes afterwards. The row
// must never be deleted while the status is pending or deposited.
type EscrowWallet struct {
	OrderID       uuid.UUID  `json:"order_id"`
	SecretPhrase  string     `json:"-"` // 24-word seed, never logged or serialized
	WalletAddress string     `json:"wallet_address"`
	WalletKind    WalletKind `json:"wallet_kind"`
	OwnerUserID   *uuid.UUID `json:"owner_user_id,omitempty"`
	ListingID     *uuid.UUID `json:"listing_id,omitempty"`
	ReleaseStatus string     `json:"release_status"`
	CreatedAt     time.Time  `json:"created_at"`
}
