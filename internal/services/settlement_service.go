package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tonmarket/settlement/internal/config"
	"github.com/tonmarket/settlement/internal/events"
	"github.com/tonmarket/settlement/internal/models"
	"github.com/tonmarket/settlement/internal/observability"
	"github.com/tonmarket/settlement/internal/retry"
	"github.com/tonmarket/settlement/internal/syncutil"
	"github.com/tonmarket/settlement/internal/ton"
	"go.uber.org/zap"
)

// ReleaseResult reports what one successful release moved and where.
type ReleaseResult struct {
	OrderID       uuid.UUID `json:"order_id"`
	Total         *big.Int  `json:"-"`
	Fee           *big.Int  `json:"-"`
	Seller        *big.Int  `json:"-"`
	SellerAddress string    `json:"seller_address"`
}

// SettlementService releases escrowed funds: it splits the custody balance
// into the platform fee and the seller payout and submits both transfers.
// The on-chain balance is the only source of truth for what is still owed,
// which is what makes a second release attempt on the same order a no-op.
type SettlementService struct {
	chain     Chain
	wallets   WalletStore
	orders    OrderStore
	sellers   SellerStore
	audit     AuditStore
	recorder  *TransactionRecorder
	publisher events.Publisher
	locks     *syncutil.KeyMutex
	log       *zap.Logger

	serviceWallet ton.Signer
	feeWallet     string
	feePercent    int
	topUp         *big.Int
	minAcceptance *big.Int
	readAttempts  int
	readDelay     time.Duration
}

func NewSettlementService(
	cfg *config.Config,
	chain Chain,
	wallets WalletStore,
	orders OrderStore,
	sellers SellerStore,
	audit AuditStore,
	recorder *TransactionRecorder,
	publisher events.Publisher,
	log *zap.Logger,
) (*SettlementService, error) {
	topUp, err := ton.ParseNative(cfg.EscrowTopUpTON)
	if err != nil {
		return nil, fmt.Errorf("parse ESCROW_TOPUP_TON: %w", err)
	}
	minAcceptance, err := ton.ParseNative(cfg.MinAcceptanceTON)
	if err != nil {
		return nil, fmt.Errorf("parse MIN_ACCEPTANCE_TON: %w", err)
	}

	serviceWallet, err := chain.RestoreWallet(cfg.ServiceWalletSeed)
	if err != nil {
		return nil, fmt.Errorf("restore service wallet: %w", err)
	}
	if cfg.ServiceWalletAddress != "" && serviceWallet.Address() != cfg.ServiceWalletAddress {
		log.Warn("service wallet address mismatch, using derived address",
			zap.String("configured", cfg.ServiceWalletAddress),
			zap.String("derived", serviceWallet.Address()))
	}

	return &SettlementService{
		chain:         chain,
		wallets:       wallets,
		orders:        orders,
		sellers:       sellers,
		audit:         audit,
		recorder:      recorder,
		publisher:     publisher,
		locks:         syncutil.NewKeyMutex(),
		log:           log,
		serviceWallet: serviceWallet,
		feeWallet:     cfg.FeeWalletAddress,
		feePercent:    cfg.PlatformFeePercent,
		topUp:         topUp,
		minAcceptance: minAcceptance,
		readAttempts:  cfg.LedgerReadAttempts,
		readDelay:     cfg.LedgerReadDelay,
	}, nil
}

// Release settles one order. It is safe to call from the timer and from the
// manual trigger at the same time: a per-order lock serializes attempts, and
// whichever attempt runs second finds an empty custody balance.
func (s *SettlementService) Release(ctx context.Context, orderID uuid.UUID) (*ReleaseResult, error) {
	unlock, err := s.locks.Lock(ctx, orderID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	res, err := s.release(ctx, orderID)
	observability.ObserveRelease(outcomeOf(err), time.Since(start))
	return res, err
}

func (s *SettlementService) release(ctx context.Context, orderID uuid.UUID) (*ReleaseResult, error) {
	w, err := s.loadWallet(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Resolve the payout destination before touching the chain, so a seller
	// without a wallet costs nothing and leaves the escrow untouched.
	sellerAddr, err := s.resolveSellerWallet(ctx, w)
	if err != nil {
		return nil, err
	}

	escrow, err := s.chain.RestoreWallet(w.SecretPhrase)
	if err != nil {
		return nil, fmt.Errorf("restore escrow wallet for order %s: %w", orderID, err)
	}

	if err := s.ensureGas(ctx, orderID, escrow.Address()); err != nil {
		return nil, err
	}

	balance, err := s.chain.TokenBalance(ctx, escrow.Address())
	if errors.Is(err, ton.ErrTokenAccountNotFound) {
		return nil, ErrEmptyBalance
	}
	if err != nil {
		return nil, fmt.Errorf("read escrow balance: %w", err)
	}

	split, err := Split(balance, s.feePercent)
	if err != nil {
		return nil, err
	}

	s.log.Info("releasing settlement",
		zap.String("order_id", orderID.String()),
		zap.String("total", split.Total.String()),
		zap.String("fee", split.Fee.String()),
		zap.String("seller", split.Seller.String()),
		zap.String("seller_address", sellerAddr))

	memo := "order:" + orderID.String()

	// Fee first. If the platform cut cannot be collected the payout does not
	// go out either.
	if split.Fee.Sign() > 0 {
		if err := s.sendWithRefund(ctx, orderID, escrow, s.feeWallet, split.Fee, memo); err != nil {
			return nil, s.markFailed(ctx, w, models.TxTypeCustodyToFee, err)
		}
		s.recorder.Record(ctx, models.TxTypeCustodyToFee, orderID, escrow.Address(), s.feeWallet, split.Fee)
	}

	if err := s.sendWithRefund(ctx, orderID, escrow, sellerAddr, split.Seller, memo); err != nil {
		return nil, s.markFailed(ctx, w, models.TxTypeCustodyToSeller, err)
	}
	s.recorder.Record(ctx, models.TxTypeCustodyToSeller, orderID, escrow.Address(), sellerAddr, split.Seller)

	if err := s.wallets.UpdateReleaseStatus(ctx, orderID, models.ReleaseStatusReleased); err != nil {
		s.log.Error("release succeeded but status update failed",
			zap.String("order_id", orderID.String()), zap.Error(err))
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "settlement_released",
		EntityType: "order",
		EntityID:   &orderID,
		Meta: map[string]string{
			"total":          split.Total.String(),
			"fee":            split.Fee.String(),
			"seller":         split.Seller.String(),
			"seller_address": sellerAddr,
		},
	})
	s.publish(ctx, events.EventSettlementReleased, map[string]any{
		"order_id":       orderID.String(),
		"total":          split.Total.String(),
		"fee":            split.Fee.String(),
		"seller":         split.Seller.String(),
		"seller_address": sellerAddr,
	})

	return &ReleaseResult{
		OrderID:       orderID,
		Total:         split.Total,
		Fee:           split.Fee,
		Seller:        split.Seller,
		SellerAddress: sellerAddr,
	}, nil
}

func (s *SettlementService) loadWallet(ctx context.Context, orderID uuid.UUID) (*models.EscrowWallet, error) {
	var w *models.EscrowWallet
	err := retry.Do(ctx, s.readAttempts, s.readDelay, func(err error) bool {
		return !errors.Is(err, pgx.ErrNoRows)
	}, func() error {
		var err error
		w, err = s.wallets.GetByOrderID(ctx, orderID)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load escrow wallet: %w", err)
	}
	return w, nil
}

// resolveSellerWallet prefers the payout address pinned on the listing and
// falls back to the seller's profile wallet.
func (s *SettlementService) resolveSellerWallet(ctx context.Context, w *models.EscrowWallet) (string, error) {
	order, err := s.loadOrder(ctx, w.OrderID)
	if err != nil {
		return "", err
	}

	if listing, err := s.sellers.GetListing(ctx, order.ListingID); err == nil {
		if listing.PayoutWalletAddress != nil && *listing.PayoutWalletAddress != "" {
			return *listing.PayoutWalletAddress, nil
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		s.log.Warn("listing lookup failed, falling back to seller profile",
			zap.String("order_id", w.OrderID.String()), zap.Error(err))
	}

	var user *models.User
	err = retry.Do(ctx, s.readAttempts, s.readDelay, func(err error) bool {
		return !errors.Is(err, pgx.ErrNoRows)
	}, func() error {
		var err error
		user, err = s.sellers.GetUser(ctx, order.SellerUserID)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSellerWalletMissing
		}
		return "", fmt.Errorf("load seller: %w", err)
	}
	if user.WalletAddress == nil || *user.WalletAddress == "" {
		return "", ErrSellerWalletMissing
	}
	return *user.WalletAddress, nil
}

func (s *SettlementService) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := retry.Do(ctx, s.readAttempts, s.readDelay, func(err error) bool {
		return !errors.Is(err, pgx.ErrNoRows)
	}, func() error {
		var err error
		order, err = s.orders.GetByID(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return order, nil
}

// ensureGas tops up the escrow wallet's native balance from the service
// wallet when it is too low for the network to accept a message. The top-up
// is idempotent: an already funded wallet is left alone.
func (s *SettlementService) ensureGas(ctx context.Context, orderID uuid.UUID, escrowAddr string) error {
	native, err := s.chain.NativeBalance(ctx, escrowAddr)
	if err != nil {
		return fmt.Errorf("read escrow gas balance: %w", err)
	}
	if native.Cmp(s.minAcceptance) >= 0 {
		return nil
	}
	return s.fundEscrow(ctx, orderID, escrowAddr)
}

func (s *SettlementService) fundEscrow(ctx context.Context, orderID uuid.UUID, escrowAddr string) error {
	s.log.Info("funding escrow wallet",
		zap.String("order_id", orderID.String()),
		zap.String("escrow_address", escrowAddr),
		zap.String("topup_nano", s.topUp.String()))
	if err := s.chain.SendNative(ctx, s.serviceWallet, escrowAddr, s.topUp, "gas:"+orderID.String()); err != nil {
		return fmt.Errorf("fund escrow wallet: %w", err)
	}
	return nil
}

// sendWithRefund submits one token transfer and, when the network rejects it
// or the wallet ran out of gas mid-flight, tops the wallet up and retries
// exactly once.
func (s *SettlementService) sendWithRefund(ctx context.Context, orderID uuid.UUID, from ton.Signer, dest string, amount *big.Int, memo string) error {
	err := s.chain.SendToken(ctx, from, dest, amount, memo)
	if err == nil {
		return nil
	}

	reason := ton.ReasonOf(err)
	observability.IncrementTransferFailure(string(reason))

	if reason != ton.ReasonRejected && reason != ton.ReasonInsufficientGas {
		return err
	}

	s.log.Warn("transfer bounced, refunding gas and retrying",
		zap.String("order_id", orderID.String()),
		zap.String("dest", dest),
		zap.String("reason", string(reason)),
		zap.Error(err))

	if fundErr := s.fundEscrow(ctx, orderID, from.Address()); fundErr != nil {
		return fundErr
	}

	if err := s.chain.SendToken(ctx, from, dest, amount, memo); err != nil {
		observability.IncrementTransferFailure(string(ton.ReasonOf(err)))
		return err
	}
	return nil
}

func (s *SettlementService) markFailed(ctx context.Context, w *models.EscrowWallet, txType string, cause error) error {
	s.log.Error("settlement transfer failed",
		zap.String("order_id", w.OrderID.String()),
		zap.String("tx_type", txType),
		zap.Error(cause))

	if err := s.wallets.UpdateReleaseStatus(ctx, w.OrderID, models.ReleaseStatusFailed); err != nil {
		s.log.Error("failed status update failed",
			zap.String("order_id", w.OrderID.String()), zap.Error(err))
	}
	orderID := w.OrderID
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "settlement_failed",
		EntityType: "order",
		EntityID:   &orderID,
		Meta:       map[string]string{"tx_type": txType, "error": cause.Error()},
	})
	s.publish(ctx, events.EventSettlementFailed, map[string]any{
		"order_id": w.OrderID.String(),
		"tx_type":  txType,
		"reason":   string(ton.ReasonOf(cause)),
	})

	return fmt.Errorf("%w: %s: %v", ErrTransferFailed, txType, cause)
}

func (s *SettlementService) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.StreamSettlement, events.Event{Type: eventType, Payload: payload}); err != nil {
		s.log.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}
