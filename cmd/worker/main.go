package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonmarket/settlement/internal/config"
	"github.com/tonmarket/settlement/internal/db"
	"github.com/tonmarket/settlement/internal/events"
	"github.com/tonmarket/settlement/internal/observability"
	"github.com/tonmarket/settlement/internal/repositories"
	"github.com/tonmarket/settlement/internal/services"
	"github.com/tonmarket/settlement/internal/ton"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	chain, err := ton.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}

	// Repos
	walletRepo := repositories.NewEscrowWalletRepo(pool, rdb, cfg.DualWriteTimeout, log)
	txRepo := repositories.NewTransactionRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	sellerRepo := repositories.NewSellerRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Notification feed: every settlement event lands in the worker log for
	// operator follow-up.
	if err := subscriber.Subscribe(ctx, events.StreamSettlement, func(e events.Event) {
		log.Info("settlement event",
			zap.String("type", e.Type),
			zap.Any("payload", e.Payload))
	}); err != nil {
		log.Fatal("failed to subscribe to settlement events", zap.Error(err))
	}

	// Services
	recorder := services.NewTransactionRecorder(chain, txRepo, cfg.RecorderDelay, log)
	settlementService, err := services.NewSettlementService(cfg, chain, walletRepo, orderRepo, sellerRepo, auditRepo, recorder, publisher, log)
	if err != nil {
		log.Fatal("failed to init settlement service", zap.Error(err))
	}
	scheduler := services.NewReleaseScheduler(rdb, settlementService, cfg.DueReleaseInterval, log)
	watcher := services.NewDepositWatcher(chain, walletRepo, recorder, scheduler, publisher, cfg.ReleaseDelay, cfg.DepositPollInterval, log)

	log.Info("worker started")

	go watcher.Run(ctx)
	go scheduler.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down worker")
	case <-ctx.Done():
	}
	cancel()
	recorder.Wait()
}
