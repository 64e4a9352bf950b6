package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonmarket/settlement/internal/models"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, listing_id, buyer_user_id, seller_user_id, created_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.ListingID, &o.BuyerUserID, &o.SellerUserID, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SellerRepo reads the records a seller destination can be resolved from:
// the listing (preferred, carries an optional payout override) and the
// seller's profile.
type SellerRepo struct {
	pool *pgxpool.Pool
}

func NewSellerRepo(pool *pgxpool.Pool) *SellerRepo {
	return &SellerRepo{pool: pool}
}

func (r *SellerRepo) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `
		SELECT id, seller_user_id, title, price_tokens::text, payout_wallet_address, created_at
		FROM listings WHERE id = $1
	`, id).Scan(&l.ID, &l.SellerUserID, &l.Title, &l.PriceTokens, &l.PayoutWalletAddress, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *SellerRepo) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, wallet_address, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.WalletAddress, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
