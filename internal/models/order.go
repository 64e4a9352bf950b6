package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is owned by the storefront subsystem; the settlement core only reads
// the bindings it needs to resolve wallets and destinations.
type Order struct {
	ID           uuid.UUID `json:"id"`
	ListingID    uuid.UUID `json:"listing_id"`
	BuyerUserID  uuid.UUID `json:"buyer_user_id"`
	SellerUserID uuid.UUID `json:"seller_user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type User struct {
	ID            uuid.UUID `json:"id"`
	DisplayName   string    `json:"display_name"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Listing struct {
	ID                  uuid.UUID `json:"id"`
	SellerUserID        uuid.UUID `json:"seller_user_id"`
	Title               string    `json:"title"`
	PriceTokens         string    `json:"price_tokens"`
	PayoutWalletAddress *string   `json:"payout_wallet_address,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
