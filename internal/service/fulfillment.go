package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nganmiu/voucherbot/internal/metrics"
	"github.com/nganmiu/voucherbot/internal/models"
)

// Redeemer performs the external redemption call. The reason string is the
// vendor failure code when the bool is false.
type Redeemer interface {
	Redeem(ctx context.Context, credential string, offer models.VoucherOffer) (bool, string)
}

// ErrComboFailed reports a combo attempt where no offer was saved. The
// ComboResult alongside it carries the per-offer reasons.
var ErrComboFailed = errors.New("no offers in combo were saved")

// PurchaseResult is the outcome of a single-offer purchase.
type PurchaseResult struct {
	Offer      models.VoucherOffer
	NewBalance int64
}

// ComboOutcome is one offer's fate inside a combo attempt.
type ComboOutcome struct {
	Offer  models.VoucherOffer
	Saved  bool
	Reason string
}

// ComboResult reports a combo purchase. Total is the sum of the succeeded
// offers' prices, which is exactly what was (or would have been) debited.
type ComboResult struct {
	Outcomes   []ComboOutcome
	NSaved     int
	NTotal     int
	Total      int64
	NewBalance int64
}

// FulfillmentService orchestrates catalog lookup, the external redemption
// call and the charge-on-success debit. The debit always comes after the
// vendor reports success, never before.
type FulfillmentService struct {
	log      *slog.Logger
	ledger   *LedgerService
	catalog  *CatalogService
	redeemer Redeemer
	actions  ActionLogger
}

func NewFulfillmentService(log *slog.Logger, ledger *LedgerService, catalog *CatalogService, redeemer Redeemer, actions ActionLogger) *FulfillmentService {
	return &FulfillmentService{
		log:      log,
		ledger:   ledger,
		catalog:  catalog,
		redeemer: redeemer,
		actions:  actions,
	}
}

// BuyOffer purchases a single offer with the supplied credential.
func (s *FulfillmentService) BuyOffer(ctx context.Context, telegramID int64, username, code, credential string) (*PurchaseResult, error) {
	account, err := s.ledger.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.StatusActive {
		return nil, ErrNotActivated
	}

	offer, err := s.catalog.LookupOffer(ctx, code)
	if err != nil {
		return nil, err
	}

	// Do not bother the vendor when the balance cannot cover the price.
	if account.Balance < offer.Price {
		return nil, ErrInsufficientFunds
	}

	saved, reason := s.redeemer.Redeem(ctx, credential, *offer)
	metrics.RedemptionsTotal.WithLabelValues(redeemLabel(saved)).Inc()
	if !saved {
		s.log.Info("redemption rejected", "user", telegramID, "offer", offer.Code, "reason", reason)
		return nil, &RedemptionError{Reason: reason}
	}

	balance, err := s.ledger.Debit(ctx, telegramID, offer.Price)
	if err != nil {
		// The voucher was saved but another writer drained the balance in
		// the meantime. The debit is refused rather than going negative.
		return nil, err
	}

	if s.actions != nil {
		_ = s.actions.Append(ctx, telegramID, username, models.ActionVoucher, fmt.Sprintf("%d", offer.Price), offer.Code)
	}
	return &PurchaseResult{Offer: *offer, NewBalance: balance}, nil
}

// BuyCombo redeems every available offer in the combo independently with
// the same credential. Offers that fail are reported but do not abort the
// rest. Zero successes fail the whole operation with no debit; otherwise
// only the succeeded offers' prices are debited.
func (s *FulfillmentService) BuyCombo(ctx context.Context, telegramID int64, username, comboKey, credential string) (*ComboResult, error) {
	account, err := s.ledger.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.StatusActive {
		return nil, ErrNotActivated
	}

	offers, err := s.catalog.LookupCombo(ctx, comboKey)
	if err != nil {
		return nil, err
	}

	result := &ComboResult{NTotal: len(offers)}
	for _, offer := range offers {
		saved, reason := s.redeemer.Redeem(ctx, credential, offer)
		metrics.RedemptionsTotal.WithLabelValues(redeemLabel(saved)).Inc()
		result.Outcomes = append(result.Outcomes, ComboOutcome{Offer: offer, Saved: saved, Reason: reason})
		if saved {
			result.NSaved++
			result.Total += offer.Price
		}
	}

	if result.NSaved == 0 {
		return result, ErrComboFailed
	}

	balance, err := s.ledger.Debit(ctx, telegramID, result.Total)
	if err != nil {
		return result, err
	}
	result.NewBalance = balance

	if s.actions != nil {
		note := fmt.Sprintf("%d/%d", result.NSaved, result.NTotal)
		_ = s.actions.Append(ctx, telegramID, username, models.ActionCombo, fmt.Sprintf("%d", result.Total), note)
	}
	return result, nil
}

func redeemLabel(saved bool) string {
	if saved {
		return "saved"
	}
	return "failed"
}
