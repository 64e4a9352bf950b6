package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/tonmarket/settlement/internal/config"
	"github.com/tonmarket/settlement/internal/db"
	"github.com/tonmarket/settlement/internal/events"
	apphttp "github.com/tonmarket/settlement/internal/http"
	"github.com/tonmarket/settlement/internal/http/handlers"
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

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// TON
	chain, err := ton.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}

	// Repositories
	walletRepo := repositories.NewEscrowWalletRepo(pool, rdb, cfg.DualWriteTimeout, log)
	txRepo := repositories.NewTransactionRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	sellerRepo := repositories.NewSellerRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)

	// Services
	recorder := services.NewTransactionRecorder(chain, txRepo, cfg.RecorderDelay, log)
	settlementService, err := services.NewSettlementService(cfg, chain, walletRepo, orderRepo, sellerRepo, auditRepo, recorder, publisher, log)
	if err != nil {
		log.Fatal("failed to init settlement service", zap.Error(err))
	}
	scheduler := services.NewReleaseScheduler(rdb, settlementService, cfg.DueReleaseInterval, log)
	escrowService := services.NewEscrowService(chain, walletRepo, orderRepo, txRepo, auditRepo, publisher, log)

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(escrowService, scheduler, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, escrowHandler)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
		recorder.Wait()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
