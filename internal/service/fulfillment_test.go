package service

import (
	"context"
	"errors"
	"testing"

	"github.com/nganmiu/voucherbot/internal/models"
)

func fulfillmentFixture(balance int64, redeemer *fakeRedeemer) (*FulfillmentService, *fakeAccountStore, *fakeActionLog) {
	store := newFakeAccountStore()
	store.put(&models.Account{TelegramID: 321, Status: models.StatusActive, Balance: balance})
	log := &fakeActionLog{}
	ledger := NewLedgerService(store, log, 5000)
	catalog := catalogFixture()
	return NewFulfillmentService(discardLogger(), ledger, catalog, redeemer, log), store, log
}

func TestBuyOfferChargesAfterSuccess(t *testing.T) {
	redeemer := &fakeRedeemer{}
	svc, store, log := fulfillmentFixture(10000, redeemer)

	result, err := svc.BuyOffer(context.Background(), 321, "minh", "voucher1", "cookie")
	if err != nil {
		t.Fatalf("buy offer err: %v", err)
	}
	if result.NewBalance != 7000 {
		t.Fatalf("new balance = %d, want 7000", result.NewBalance)
	}

	account, _ := store.FindByTelegramID(context.Background(), 321)
	if account.Balance != 7000 {
		t.Fatalf("stored balance = %d, want 7000", account.Balance)
	}
	if len(log.entries) != 1 || log.entries[0].action != models.ActionVoucher {
		t.Fatalf("action log = %+v, want one voucher entry", log.entries)
	}
}

func TestBuyOfferNoChargeOnRedemptionFailure(t *testing.T) {
	redeemer := &fakeRedeemer{failWith: map[string]string{"voucher1": "VENDOR_5"}}
	svc, store, _ := fulfillmentFixture(10000, redeemer)

	_, err := svc.BuyOffer(context.Background(), 321, "minh", "voucher1", "cookie")
	var redemptionErr *RedemptionError
	if !errors.As(err, &redemptionErr) {
		t.Fatalf("err = %v, want RedemptionError", err)
	}
	if redemptionErr.Reason != "VENDOR_5" {
		t.Fatalf("reason = %q, want VENDOR_5", redemptionErr.Reason)
	}

	account, _ := store.FindByTelegramID(context.Background(), 321)
	if account.Balance != 10000 {
		t.Fatalf("balance after failed save = %d, want untouched 10000", account.Balance)
	}
}

func TestBuyOfferInsufficientFundsSkipsVendor(t *testing.T) {
	redeemer := &fakeRedeemer{}
	svc, _, _ := fulfillmentFixture(2999, redeemer)

	_, err := svc.BuyOffer(context.Background(), 321, "minh", "voucher1", "cookie")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(redeemer.calls) != 0 {
		t.Fatalf("vendor called %d times for an unaffordable offer", len(redeemer.calls))
	}
}

func TestBuyOfferRequiresActiveAccount(t *testing.T) {
	redeemer := &fakeRedeemer{}
	svc, store, _ := fulfillmentFixture(10000, redeemer)
	store.put(&models.Account{TelegramID: 322, Status: models.StatusPending, Balance: 10000})

	if _, err := svc.BuyOffer(context.Background(), 322, "", "voucher1", "cookie"); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("err = %v, want ErrNotActivated", err)
	}
}

func TestBuyComboDebitsOnlySucceeded(t *testing.T) {
	// voucher2 fails; of the two available combo offers only voucher1's
	// price may be charged.
	redeemer := &fakeRedeemer{failWith: map[string]string{"voucher2": "VENDOR_7"}}
	svc, store, _ := fulfillmentFixture(10000, redeemer)

	result, err := svc.BuyCombo(context.Background(), 321, "minh", "combo1", "cookie")
	if err != nil {
		t.Fatalf("buy combo err: %v", err)
	}
	if result.NSaved != 1 || result.NTotal != 2 {
		t.Fatalf("saved = %d/%d, want 1/2", result.NSaved, result.NTotal)
	}
	if result.Total != 3000 {
		t.Fatalf("charged total = %d, want 3000", result.Total)
	}
	if result.NewBalance != 7000 {
		t.Fatalf("new balance = %d, want 7000", result.NewBalance)
	}

	account, _ := store.FindByTelegramID(context.Background(), 321)
	if account.Balance != 7000 {
		t.Fatalf("stored balance = %d, want 7000", account.Balance)
	}

	for _, outcome := range result.Outcomes {
		if outcome.Offer.Code == "voucher2" && (outcome.Saved || outcome.Reason != "VENDOR_7") {
			t.Fatalf("voucher2 outcome = %+v, want failed with VENDOR_7", outcome)
		}
	}
}

func TestBuyComboAllFailedChargesNothing(t *testing.T) {
	redeemer := &fakeRedeemer{failWith: map[string]string{"voucher1": "VENDOR_5", "voucher2": "VENDOR_5"}}
	svc, store, _ := fulfillmentFixture(10000, redeemer)

	result, err := svc.BuyCombo(context.Background(), 321, "minh", "combo1", "cookie")
	if !errors.Is(err, ErrComboFailed) {
		t.Fatalf("err = %v, want ErrComboFailed", err)
	}
	if result == nil || result.NSaved != 0 {
		t.Fatalf("result = %+v, want zero saved", result)
	}

	account, _ := store.FindByTelegramID(context.Background(), 321)
	if account.Balance != 10000 {
		t.Fatalf("balance = %d, want untouched 10000", account.Balance)
	}
}

func TestBuyComboShortfallAfterPartialSuccess(t *testing.T) {
	// voucher2 (5000) fails, voucher1 (3000) saves, but the balance cannot
	// cover even the succeeded part. The debit is refused and the caller
	// still gets the per-offer outcomes to report.
	redeemer := &fakeRedeemer{failWith: map[string]string{"voucher2": "VENDOR_7"}}
	svc, store, _ := fulfillmentFixture(2000, redeemer)

	result, err := svc.BuyCombo(context.Background(), 321, "minh", "combo1", "cookie")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if result == nil || result.NSaved != 1 || result.NTotal != 2 {
		t.Fatalf("result = %+v, want outcomes for 1/2 intact", result)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(result.Outcomes))
	}

	account, _ := store.FindByTelegramID(context.Background(), 321)
	if account.Balance != 2000 {
		t.Fatalf("balance = %d, want untouched 2000", account.Balance)
	}
}

func TestBuyComboEmpty(t *testing.T) {
	svc, _, _ := fulfillmentFixture(10000, &fakeRedeemer{})
	if _, err := svc.BuyCombo(context.Background(), 321, "", "combo9", "cookie"); !errors.Is(err, ErrComboEmpty) {
		t.Fatalf("err = %v, want ErrComboEmpty", err)
	}
}
