package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TxTypeBuyerToCustody  = "buyer_to_custody"
	TxTypeCustodyToSeller = "custody_to_seller"
	TxTypeCustodyToFee    = "custody_to_fee"
)

// TransactionRecord is an append-only audit row for one on-chain transfer.
// TxHash is the primary key, so recording the same underlying transfer twice
// is a no-op. Amount is in smallest token units.
type TransactionRecord struct {
	TxHash      string    `json:"tx_hash"`
	TxType      string    `json:"tx_type"`
	OrderID     uuid.UUID `json:"order_id"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      string    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}
