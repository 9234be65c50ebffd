package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nganmiu/voucherbot/internal/models"
)

type VoucherRepository struct {
	db *sql.DB
}

func NewVoucherRepository(db *sql.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

// NormalizeCode folds an offer code to its stored form: lowercase, spaces stripped.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}

const voucherColumns = `id, code, title, price, available, COALESCE(combo_key, ''), promotion_id, voucher_code, signature, created_at`

func scanVoucher(row interface{ Scan(...any) error }) (*models.VoucherOffer, error) {
	var v models.VoucherOffer
	if err := row.Scan(&v.ID, &v.Code, &v.Title, &v.Price, &v.Available, &v.ComboKey, &v.PromotionID, &v.VoucherCode, &v.Signature, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*models.VoucherOffer, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = ?`
	row := r.db.QueryRowContext(ctx, query, NormalizeCode(code))
	v, err := scanVoucher(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan voucher: %w", err)
	}
	return v, nil
}

// ListByCombo returns the currently available offers in a combo, in catalog order.
func (r *VoucherRepository) ListByCombo(ctx context.Context, comboKey string) ([]models.VoucherOffer, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE combo_key = ? AND available = 1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, NormalizeCode(comboKey))
	if err != nil {
		return nil, fmt.Errorf("list combo vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.VoucherOffer
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan combo voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	return vouchers, rows.Err()
}

func (r *VoucherRepository) ListAvailable(ctx context.Context) ([]models.VoucherOffer, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE available = 1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.VoucherOffer
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	return vouchers, rows.Err()
}
