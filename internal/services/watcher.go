package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tonmarket/settlement/internal/events"
	"github.com/tonmarket/settlement/internal/models"
	"github.com/tonmarket/settlement/internal/observability"
	"github.com/tonmarket/settlement/internal/ton"
	"go.uber.org/zap"
)

// ReleaseArmer schedules a future release. Implemented by ReleaseScheduler.
type ReleaseArmer interface {
	Arm(ctx context.Context, orderID uuid.UUID, delay time.Duration) error
}

// DepositWatcher polls pending escrow wallets for an incoming token balance.
// On first sight of funds it marks the order deposited, records the deposit,
// and arms the release timer.
type DepositWatcher struct {
	chain     Chain
	wallets   WalletStore
	recorder  *TransactionRecorder
	scheduler ReleaseArmer
	publisher events.Publisher
	delay     time.Duration
	interval  time.Duration
	log       *zap.Logger
}

func NewDepositWatcher(
	chain Chain,
	wallets WalletStore,
	recorder *TransactionRecorder,
	scheduler ReleaseArmer,
	publisher events.Publisher,
	releaseDelay time.Duration,
	pollInterval time.Duration,
	log *zap.Logger,
) *DepositWatcher {
	return &DepositWatcher{
		chain:     chain,
		wallets:   wallets,
		recorder:  recorder,
		scheduler: scheduler,
		publisher: publisher,
		delay:     releaseDelay,
		interval:  pollInterval,
		log:       log,
	}
}

// Poll scans one batch of pending wallets.
func (w *DepositWatcher) Poll(ctx context.Context) {
	wallets, err := w.wallets.ListByStatus(ctx, models.ReleaseStatusPending, 100)
	if err != nil {
		w.log.Error("pending wallet scan failed", zap.Error(err))
		return
	}

	for i := range wallets {
		w.check(ctx, &wallets[i])
	}
}

func (w *DepositWatcher) check(ctx context.Context, ew *models.EscrowWallet) {
	balance, err := w.chain.TokenBalance(ctx, ew.WalletAddress)
	if errors.Is(err, ton.ErrTokenAccountNotFound) {
		return // nothing received yet
	}
	if err != nil {
		w.log.Warn("deposit probe failed",
			zap.String("order_id", ew.OrderID.String()), zap.Error(err))
		return
	}
	if balance.Sign() == 0 {
		return
	}

	// The guarded transition makes the rest of this function run once per
	// order even with overlapping polls.
	moved, err := w.wallets.TransitionReleaseStatus(ctx, ew.OrderID,
		models.ReleaseStatusPending, models.ReleaseStatusDeposited)
	if err != nil {
		w.log.Error("deposit status transition failed",
			zap.String("order_id", ew.OrderID.String()), zap.Error(err))
		return
	}
	if !moved {
		return
	}

	w.log.Info("deposit detected",
		zap.String("order_id", ew.OrderID.String()),
		zap.String("escrow_address", ew.WalletAddress),
		zap.String("amount", balance.String()))
	observability.IncrementDepositDetected()

	w.recorder.Record(ctx, models.TxTypeBuyerToCustody, ew.OrderID, "", ew.WalletAddress, balance)

	if err := w.scheduler.Arm(ctx, ew.OrderID, w.delay); err != nil {
		w.log.Error("arming release timer failed",
			zap.String("order_id", ew.OrderID.String()), zap.Error(err))
	}

	if w.publisher != nil {
		_ = w.publisher.Publish(ctx, events.StreamSettlement, events.Event{
			Type: events.EventDepositDetected,
			Payload: map[string]any{
				"order_id": ew.OrderID.String(),
				"amount":   balance.String(),
			},
		})
	}
}

// Run drives Poll on a ticker until ctx is cancelled.
func (w *DepositWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("deposit watcher started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("deposit watcher stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}
