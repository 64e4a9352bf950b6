package services

import (
	"context"
	"math/big"

	"github.com/google/uuid"
	"github.com/tonmarket/settlement/internal/models"
	"github.com/tonmarket/settlement/internal/ton"
)

// Ledger store boundaries, declared on the consumer side so settlement logic
// can be exercised against in-memory fakes.

type WalletStore interface {
	Create(ctx context.Context, w *models.EscrowWallet) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowWallet, error)
	UpdateReleaseStatus(ctx context.Context, orderID uuid.UUID, status string) error
	TransitionReleaseStatus(ctx context.Context, orderID uuid.UUID, from, to string) (bool, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.EscrowWallet, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type SellerStore interface {
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type TxStore interface {
	Record(ctx context.Context, t *models.TransactionRecord) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.TransactionRecord, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// Chain is the opaque ledger capability the settlement core calls through.
// Implemented by *ton.Client.
type Chain interface {
	CreateWallet() (phrase string, addr string, err error)
	RestoreWallet(phrase string) (ton.Signer, error)
	NativeBalance(ctx context.Context, addr string) (*big.Int, error)
	TokenBalance(ctx context.Context, addr string) (*big.Int, error)
	SendToken(ctx context.Context, from ton.Signer, dest string, amount *big.Int, memo string) error
	SendNative(ctx context.Context, from ton.Signer, dest string, amount *big.Int, memo string) error
	LastTransaction(ctx context.Context, addr string) (hash string, lt uint64, err error)
}
