package service

import (
	"context"
	"fmt"

	"github.com/nganmiu/voucherbot/internal/models"
)

// VoucherStore is the read-only catalog surface. Offer availability is
// maintained by an external inventory process.
type VoucherStore interface {
	FindByCode(ctx context.Context, code string) (*models.VoucherOffer, error)
	ListByCombo(ctx context.Context, comboKey string) ([]models.VoucherOffer, error)
	ListAvailable(ctx context.Context) ([]models.VoucherOffer, error)
}

type CatalogService struct {
	vouchers VoucherStore
}

func NewCatalogService(vouchers VoucherStore) *CatalogService {
	return &CatalogService{vouchers: vouchers}
}

// LookupOffer resolves a normalized offer code. An offer that exists but is
// unavailable reports ErrOfferOutOfStock, distinct from ErrOfferNotFound.
func (s *CatalogService) LookupOffer(ctx context.Context, code string) (*models.VoucherOffer, error) {
	offer, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup offer: %w", err)
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	if !offer.Available {
		return nil, ErrOfferOutOfStock
	}
	return offer, nil
}

// LookupCombo returns the currently available offers in a combo.
func (s *CatalogService) LookupCombo(ctx context.Context, comboKey string) ([]models.VoucherOffer, error) {
	offers, err := s.vouchers.ListByCombo(ctx, comboKey)
	if err != nil {
		return nil, fmt.Errorf("lookup combo: %w", err)
	}
	if len(offers) == 0 {
		return nil, ErrComboEmpty
	}
	return offers, nil
}

func (s *CatalogService) ListAvailable(ctx context.Context) ([]models.VoucherOffer, error) {
	offers, err := s.vouchers.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	return offers, nil
}
