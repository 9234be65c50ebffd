package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/nganmiu/voucherbot/internal/models"
)

// ErrDuplicateTx reports that a transaction id is already in the topup ledger.
var ErrDuplicateTx = errors.New("transaction id already recorded")

const mysqlDuplicateEntry = 1062

type TopupRepository struct {
	db *sql.DB
}

func NewTopupRepository(db *sql.DB) *TopupRepository {
	return &TopupRepository{db: db}
}

// Insert appends a topup record. The UNIQUE key on tx_id makes this an
// insert-if-absent: concurrent deliveries of the same transaction race on
// the index and every loser gets ErrDuplicateTx.
func (r *TopupRepository) Insert(ctx context.Context, record *models.TopupRecord) error {
	const query = `
INSERT INTO topups (tx_id, telegram_id, amount, bonus, source, memo)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, record.TxID, record.TelegramID, record.Amount, record.Bonus, record.Source, record.Memo)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return ErrDuplicateTx
		}
		return fmt.Errorf("insert topup: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("topup last insert id: %w", err)
	}
	record.ID = id
	return nil
}

func (r *TopupRepository) Exists(ctx context.Context, txID string) (bool, error) {
	const query = `SELECT 1 FROM topups WHERE tx_id = ? LIMIT 1`
	var one int
	if err := r.db.QueryRowContext(ctx, query, txID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check topup: %w", err)
	}
	return true, nil
}

// ListByTelegramID returns the most recent topups for one user, newest last.
func (r *TopupRepository) ListByTelegramID(ctx context.Context, telegramID int64, limit int) ([]models.TopupRecord, error) {
	const query = `
SELECT id, tx_id, telegram_id, amount, bonus, source, COALESCE(memo, ''), created_at
FROM (
    SELECT id, tx_id, telegram_id, amount, bonus, source, memo, created_at
    FROM topups WHERE telegram_id = ? ORDER BY id DESC LIMIT ?
) recent ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("list topups: %w", err)
	}
	defer rows.Close()

	var records []models.TopupRecord
	for rows.Next() {
		var t models.TopupRecord
		if err := rows.Scan(&t.ID, &t.TxID, &t.TelegramID, &t.Amount, &t.Bonus, &t.Source, &t.Memo, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan topup: %w", err)
		}
		records = append(records, t)
	}
	return records, rows.Err()
}
