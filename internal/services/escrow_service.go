package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tonmarket/settlement/internal/events"
	"github.com/tonmarket/settlement/internal/models"
	"go.uber.org/zap"
)

// EscrowService provisions custodial wallets for orders and reports their
// settlement state.
type EscrowService struct {
	chain     Chain
	wallets   WalletStore
	orders    OrderStore
	txs       TxStore
	audit     AuditStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewEscrowService(chain Chain, wallets WalletStore, orders OrderStore, txs TxStore, audit AuditStore, publisher events.Publisher, log *zap.Logger) *EscrowService {
	return &EscrowService{chain: chain, wallets: wallets, orders: orders, txs: txs, audit: audit, publisher: publisher, log: log}
}

// EscrowStatus is the operator view of one order's settlement.
type EscrowStatus struct {
	OrderID       uuid.UUID                  `json:"order_id"`
	WalletAddress string                     `json:"wallet_address"`
	WalletKind    models.WalletKind          `json:"wallet_kind"`
	ReleaseStatus string                     `json:"release_status"`
	Transactions  []models.TransactionRecord `json:"transactions"`
}

// CreateEscrow provisions the custodial deposit wallet for an order. Calling
// it twice for the same order returns the wallet created first: the database
// keys wallets by order, and an insert race falls back to a read.
func (s *EscrowService) CreateEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowWallet, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	if existing, err := s.wallets.GetByOrderID(ctx, orderID); err == nil {
		return existing, nil
	}

	phrase, addr, err := s.chain.CreateWallet()
	if err != nil {
		return nil, fmt.Errorf("generate escrow wallet: %w", err)
	}

	w := &models.EscrowWallet{
		OrderID:       orderID,
		SecretPhrase:  phrase,
		WalletAddress: addr,
		WalletKind:    models.WalletKindFeePayable,
		OwnerUserID:   &order.BuyerUserID,
		ListingID:     &order.ListingID,
		ReleaseStatus: models.ReleaseStatusPending,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the insert race; the winner's wallet is the one to use.
			return s.wallets.GetByOrderID(ctx, orderID)
		}
		return nil, fmt.Errorf("persist escrow wallet: %w", err)
	}

	s.log.Info("escrow wallet created",
		zap.String("order_id", orderID.String()),
		zap.String("wallet_address", addr))

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_created",
		EntityType: "order",
		EntityID:   &orderID,
		Meta:       map[string]string{"wallet_address": addr},
	})
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, events.StreamSettlement, events.Event{
			Type: events.EventEscrowCreated,
			Payload: map[string]any{
				"order_id":       orderID.String(),
				"wallet_address": addr,
			},
		})
	}

	return w, nil
}

// GetAuditTrail returns the audit entries recorded against an order, newest
// first.
func (s *EscrowService) GetAuditTrail(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	return s.audit.GetByEntity(ctx, "order", orderID, limit, offset)
}

// GetStatus returns the wallet state and every recorded transfer for an order.
func (s *EscrowService) GetStatus(ctx context.Context, orderID uuid.UUID) (*EscrowStatus, error) {
	w, err := s.wallets.GetByOrderID(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}

	txs, err := s.txs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &EscrowStatus{
		OrderID:       w.OrderID,
		WalletAddress: w.WalletAddress,
		WalletKind:    w.WalletKind,
		ReleaseStatus: w.ReleaseStatus,
		Transactions:  txs,
	}, nil
}
