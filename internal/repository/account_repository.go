package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nganmiu/voucherbot/internal/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	const query = `
SELECT id, telegram_id, COALESCE(username, ''), balance, status, COALESCE(note, ''), created_at, updated_at
FROM accounts WHERE telegram_id = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID)
	var a models.Account
	if err := row.Scan(&a.ID, &a.TelegramID, &a.Username, &a.Balance, &a.Status, &a.Note, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	const query = `
INSERT INTO accounts (telegram_id, username, balance, status, note)
VALUES (?, NULLIF(?, ''), ?, ?, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, account.TelegramID, account.Username, account.Balance, account.Status, account.Note)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	account.ID = id
	return account, nil
}

// Ensure returns the existing account or creates one with zero balance and
// pending status. The bool reports whether a row was created.
func (r *AccountRepository) Ensure(ctx context.Context, telegramID int64, username string) (*models.Account, bool, error) {
	account, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		if username != "" && username != account.Username {
			go func() {
				_ = r.updateUsername(context.Background(), telegramID, username)
			}()
		}
		return account, false, nil
	}
	created, err := r.Create(ctx, &models.Account{
		TelegramID: telegramID,
		Username:   username,
		Status:     models.StatusPending,
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *AccountRepository) updateUsername(ctx context.Context, telegramID int64, username string) error {
	const query = `UPDATE accounts SET username = NULLIF(?, ''), updated_at = NOW() WHERE telegram_id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, telegramID); err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	return nil
}

// AdjustBalance applies delta as a single conditional UPDATE so the balance
// can never pass below zero even under concurrent writers. The bool is
// false when the row is missing or the delta would overdraw.
func (r *AccountRepository) AdjustBalance(ctx context.Context, telegramID int64, delta int64) (int64, bool, error) {
	const query = `
UPDATE accounts SET balance = balance + ?, updated_at = NOW()
WHERE telegram_id = ? AND balance + ? >= 0`
	res, err := r.db.ExecContext(ctx, query, delta, telegramID, delta)
	if err != nil {
		return 0, false, fmt.Errorf("adjust balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("adjust rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	const readBack = `SELECT balance FROM accounts WHERE telegram_id = ?`
	var balance int64
	if err := r.db.QueryRowContext(ctx, readBack, telegramID).Scan(&balance); err != nil {
		return 0, false, fmt.Errorf("read balance: %w", err)
	}
	return balance, true, nil
}

func (r *AccountRepository) SetStatus(ctx context.Context, telegramID int64, status models.AccountStatus) error {
	const query = `UPDATE accounts SET status = ?, updated_at = NOW() WHERE telegram_id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, telegramID); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// SetStatusAndNote writes both fields in one statement. Ban application
// relies on this so a banned status is always paired with its annotation.
func (r *AccountRepository) SetStatusAndNote(ctx context.Context, telegramID int64, status models.AccountStatus, note string) error {
	const query = `UPDATE accounts SET status = ?, note = NULLIF(?, ''), updated_at = NOW() WHERE telegram_id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, note, telegramID); err != nil {
		return fmt.Errorf("set status and note: %w", err)
	}
	return nil
}

// Activate credits the trial gift and flips the status to active in one
// statement, the way the activation flow expects.
func (r *AccountRepository) Activate(ctx context.Context, telegramID int64, gift int64) (int64, error) {
	const query = `
UPDATE accounts SET balance = balance + ?, status = ?, updated_at = NOW()
WHERE telegram_id = ?`
	if _, err := r.db.ExecContext(ctx, query, gift, models.StatusActive, telegramID); err != nil {
		return 0, fmt.Errorf("activate account: %w", err)
	}
	const readBack = `SELECT balance FROM accounts WHERE telegram_id = ?`
	var balance int64
	if err := r.db.QueryRowContext(ctx, readBack, telegramID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (r *AccountRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM accounts`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
