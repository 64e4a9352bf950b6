package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tonmarket/settlement/internal/models"
	"go.uber.org/zap"
)

const (
	walletCachePrefix = "escrow:wallet:"
	walletCacheTTL    = 24 * time.Hour
)

// EscrowWalletRepo persists the order→wallet binding. Writes go to postgres
// and, best-effort within a bounded timeout, to a redis cache; reads fall
// back to the cache when the primary is unavailable or has not seen the row
// yet.
type EscrowWalletRepo struct {
	pool         *pgxpool.Pool
	rdb          *redis.Client
	writeTimeout time.Duration
	log          *zap.Logger
}

func NewEscrowWalletRepo(pool *pgxpool.Pool, rdb *redis.Client, writeTimeout time.Duration, log *zap.Logger) *EscrowWalletRepo {
	return &EscrowWalletRepo{pool: pool, rdb: rdb, writeTimeout: writeTimeout, log: log}
}

// Create inserts the wallet record. The order_id primary key enforces the
// one-wallet-per-order rule. The cache write never fails the call.
func (r *EscrowWalletRepo) Create(ctx context.Context, w *models.EscrowWallet) error {
	if !w.WalletKind.Valid() {
		return fmt.Errorf("unknown wallet kind %q", w.WalletKind)
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escrow_wallets (order_id, secret_phrase, wallet_address, wallet_kind, owner_user_id, listing_id, release_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, w.OrderID, w.SecretPhrase, w.WalletAddress, string(w.WalletKind), w.OwnerUserID, w.ListingID, w.ReleaseStatus).Scan(&w.CreatedAt)
	if err != nil {
		return err
	}

	r.cacheWrite(ctx, w)
	return nil
}

func (r *EscrowWalletRepo) cacheWrite(ctx context.Context, w *models.EscrowWallet) {
	cacheCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	data, err := json.Marshal(cachedWallet{
		OrderID:       w.OrderID,
		SecretPhrase:  w.SecretPhrase,
		WalletAddress: w.WalletAddress,
		WalletKind:    string(w.WalletKind),
		OwnerUserID:   w.OwnerUserID,
		ListingID:     w.ListingID,
		ReleaseStatus: w.ReleaseStatus,
		CreatedAt:     w.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Set(cacheCtx, walletCachePrefix+w.OrderID.String(), data, walletCacheTTL).Err(); err != nil {
		r.log.Warn("wallet cache write failed", zap.String("order_id", w.OrderID.String()), zap.Error(err))
	}
}

// cachedWallet mirrors EscrowWallet without its json:"-" on the secret, so
// the cache copy round-trips. It never leaves the repository.
type cachedWallet struct {
	OrderID       uuid.UUID  `json:"order_id"`
	SecretPhrase  string     `json:"secret_phrase"`
	WalletAddress string     `json:"wallet_address"`
	WalletKind    string     `json:"wallet_kind"`
	OwnerUserID   *uuid.UUID `json:"owner_user_id,omitempty"`
	ListingID     *uuid.UUID `json:"listing_id,omitempty"`
	ReleaseStatus string     `json:"release_status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// GetByOrderID reads the wallet record, falling back to the cache when the
// primary read fails.
func (r *EscrowWalletRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowWallet, error) {
	var w models.EscrowWallet
	var kind string
	err := r.pool.QueryRow(ctx, `
		SELECT order_id, secret_phrase, wallet_address, wallet_kind, owner_user_id, listing_id, release_status, created_at
		FROM escrow_wallets WHERE order_id = $1
	`, orderID).Scan(&w.OrderID, &w.SecretPhrase, &w.WalletAddress, &kind, &w.OwnerUserID, &w.ListingID, &w.ReleaseStatus, &w.CreatedAt)
	if err == nil {
		w.WalletKind = models.WalletKind(kind)
		return &w, nil
	}

	if cached, cacheErr := r.cacheRead(ctx, orderID); cacheErr == nil {
		r.log.Warn("wallet read served from cache", zap.String("order_id", orderID.String()), zap.Error(err))
		return cached, nil
	}
	return nil, err
}

func (r *EscrowWalletRepo) cacheRead(ctx context.Context, orderID uuid.UUID) (*models.EscrowWallet, error) {
	data, err := r.rdb.Get(ctx, walletCachePrefix+orderID.String()).Bytes()
	if err != nil {
		return nil, err
	}
	var c cachedWallet
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &models.EscrowWallet{
		OrderID:       c.OrderID,
		SecretPhrase:  c.SecretPhrase,
		WalletAddress: c.WalletAddress,
		WalletKind:    models.WalletKind(c.WalletKind),
		OwnerUserID:   c.OwnerUserID,
		ListingID:     c.ListingID,
		ReleaseStatus: c.ReleaseStatus,
		CreatedAt:     c.CreatedAt,
	}, nil
}

// UpdateReleaseStatus moves release_status and refreshes the cache copy.
func (r *EscrowWalletRepo) UpdateReleaseStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrow_wallets SET release_status = $1 WHERE order_id = $2
	`, status, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow wallet for order %s not found", orderID)
	}

	if w, err := r.GetByOrderID(ctx, orderID); err == nil {
		r.cacheWrite(ctx, w)
	}
	return nil
}

// TransitionReleaseStatus moves release_status only when the row is still in
// the expected state. Returns false when another worker won the transition.
func (r *EscrowWalletRepo) TransitionReleaseStatus(ctx context.Context, orderID uuid.UUID, from, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrow_wallets SET release_status = $1 WHERE order_id = $2 AND release_status = $3
	`, to, orderID, from)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if w, err := r.GetByOrderID(ctx, orderID); err == nil {
		r.cacheWrite(ctx, w)
	}
	return true, nil
}

// ListByStatus returns wallets in the given release status, oldest first.
// Used by the deposit watcher.
func (r *EscrowWalletRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.EscrowWallet, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, secret_phrase, wallet_address, wallet_kind, owner_user_id, listing_id, release_status, created_at
		FROM escrow_wallets WHERE release_status = $1
		ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []models.EscrowWallet
	for rows.Next() {
		var w models.EscrowWallet
		var kind string
		if err := rows.Scan(&w.OrderID, &w.SecretPhrase, &w.WalletAddress, &kind, &w.OwnerUserID, &w.ListingID, &w.ReleaseStatus, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.WalletKind = models.WalletKind(kind)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
