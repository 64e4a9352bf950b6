package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tonmarket/settlement/internal/models"
	"github.com/tonmarket/settlement/internal/observability"
	"go.uber.org/zap"
)

// TransactionRecorder persists audit rows for transfers after they have had
// time to land on chain. Recording is fire-and-forget: failures are logged,
// never propagated to the settlement path.
type TransactionRecorder struct {
	chain Chain
	txs   TxStore
	delay time.Duration
	log   *zap.Logger
	wg    sync.WaitGroup
}

func NewTransactionRecorder(chain Chain, txs TxStore, delay time.Duration, log *zap.Logger) *TransactionRecorder {
	return &TransactionRecorder{chain: chain, txs: txs, delay: delay, log: log}
}

// Record schedules an audit row for a transfer between from and to. The
// transaction hash is probed on the custody side of the transfer once the
// delay has passed; if the probe fails the row is written with a composite
// address:lt identifier instead.
func (r *TransactionRecorder) Record(ctx context.Context, txType string, orderID uuid.UUID, from, to string, amount *big.Int) {
	amt := amount.String()
	// Outlive the caller: a release triggered over HTTP finishes long before
	// the propagation delay elapses.
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		time.Sleep(r.delay)

		custodyAddr := from
		if txType == models.TxTypeBuyerToCustody {
			custodyAddr = to
		}

		hash, lt, err := r.chain.LastTransaction(ctx, custodyAddr)
		if err != nil || hash == "" {
			observability.IncrementRecorderFallback()
			if lt == 0 {
				r.log.Warn("transaction probe failed, skipping record",
					zap.String("order_id", orderID.String()),
					zap.String("tx_type", txType),
					zap.Error(err))
				return
			}
			hash = fmt.Sprintf("%s:%d", custodyAddr, lt)
		}

		rec := &models.TransactionRecord{
			TxHash:      hash,
			TxType:      txType,
			OrderID:     orderID,
			FromAddress: from,
			ToAddress:   to,
			Amount:      amt,
		}
		if err := r.txs.Record(ctx, rec); err != nil {
			r.log.Warn("transaction record write failed",
				zap.String("order_id", orderID.String()),
				zap.String("tx_hash", hash),
				zap.Error(err))
			return
		}
		r.log.Info("transaction recorded",
			zap.String("order_id", orderID.String()),
			zap.String("tx_type", txType),
			zap.String("tx_hash", hash))
	}()
}

// Wait blocks until all scheduled recordings have finished. Used on shutdown.
func (r *TransactionRecorder) Wait() {
	r.wg.Wait()
}
