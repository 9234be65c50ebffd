package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nganmiu/voucherbot/internal/models"
)

type ActionLogRepository struct {
	db *sql.DB
}

func NewActionLogRepository(db *sql.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

func (r *ActionLogRepository) Append(ctx context.Context, telegramID int64, username, action, value, note string) error {
	const query = `
INSERT INTO action_logs (telegram_id, username, action, value, note)
VALUES (?, NULLIF(?, ''), ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, telegramID, username, action, value, note); err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	return nil
}

// ListByTelegramID returns the user's most recent audit rows, newest last.
func (r *ActionLogRepository) ListByTelegramID(ctx context.Context, telegramID int64, limit int) ([]models.ActionLog, error) {
	const query = `
SELECT id, telegram_id, COALESCE(username, ''), action, COALESCE(value, ''), COALESCE(note, ''), created_at
FROM (
    SELECT id, telegram_id, username, action, value, note, created_at
    FROM action_logs WHERE telegram_id = ? ORDER BY id DESC LIMIT ?
) recent ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	defer rows.Close()

	var entries []models.ActionLog
	for rows.Next() {
		var e models.ActionLog
		if err := rows.Scan(&e.ID, &e.TelegramID, &e.Username, &e.Action, &e.Value, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
