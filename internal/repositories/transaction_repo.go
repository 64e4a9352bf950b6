package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonmarket/settlement/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Record appends a transaction row. Re-recording the same tx hash is a no-op.
func (r *TransactionRepo) Record(ctx context.Context, t *models.TransactionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (tx_hash, tx_type, order_id, from_address, to_address, amount)
		VALUES ($1, $2, $3, $4, $5, $6::numeric)
		ON CONFLICT (tx_hash) DO NOTHING
	`, t.TxHash, t.TxType, t.OrderID, t.FromAddress, t.ToAddress, t.Amount)
	return err
}

func (r *TransactionRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.TransactionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tx_hash, tx_type, order_id, from_address, to_address, amount::text, created_at
		FROM transactions WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var t models.TransactionRecord
		if err := rows.Scan(&t.TxHash, &t.TxType, &t.OrderID, &t.FromAddress, &t.ToAddress, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, rows.Err()
}
