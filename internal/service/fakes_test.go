package service

import (
	"context"
	"sync"

	"github.com/nganmiu/voucherbot/internal/models"
	"github.com/nganmiu/voucherbot/internal/repository"
)

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[int64]*models.Account)}
}

func (f *fakeAccountStore) put(account *models.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.TelegramID] = account
}

func (f *fakeAccountStore) FindByTelegramID(_ context.Context, telegramID int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[telegramID]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (f *fakeAccountStore) Ensure(_ context.Context, telegramID int64, username string) (*models.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.accounts[telegramID]; ok {
		copied := *account
		return &copied, false, nil
	}
	account := &models.Account{TelegramID: telegramID, Username: username, Status: models.StatusPending}
	f.accounts[telegramID] = account
	copied := *account
	return &copied, true, nil
}

func (f *fakeAccountStore) AdjustBalance(_ context.Context, telegramID int64, delta int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[telegramID]
	if !ok {
		return 0, false, nil
	}
	if account.Balance+delta < 0 {
		return 0, false, nil
	}
	account.Balance += delta
	return account.Balance, true, nil
}

func (f *fakeAccountStore) SetStatus(_ context.Context, telegramID int64, status models.AccountStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.accounts[telegramID]; ok {
		account.Status = status
	}
	return nil
}

func (f *fakeAccountStore) SetStatusAndNote(_ context.Context, telegramID int64, status models.AccountStatus, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.accounts[telegramID]; ok {
		account.Status = status
		account.Note = note
	}
	return nil
}

func (f *fakeAccountStore) Activate(_ context.Context, telegramID int64, gift int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account := f.accounts[telegramID]
	account.Status = models.StatusActive
	account.Balance += gift
	return account.Balance, nil
}

func (f *fakeAccountStore) ListTelegramIDs(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.accounts))
	for id := range f.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

type loggedAction struct {
	telegramID int64
	action     string
	value      string
	note       string
}

type fakeActionLog struct {
	mu      sync.Mutex
	entries []loggedAction
}

func (f *fakeActionLog) Append(_ context.Context, telegramID int64, _, action, value, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, loggedAction{telegramID: telegramID, action: action, value: value, note: note})
	return nil
}

type fakeVoucherStore struct {
	offers []models.VoucherOffer
}

func (f *fakeVoucherStore) FindByCode(_ context.Context, code string) (*models.VoucherOffer, error) {
	for _, offer := range f.offers {
		if offer.Code == code {
			copied := offer
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeVoucherStore) ListByCombo(_ context.Context, comboKey string) ([]models.VoucherOffer, error) {
	var out []models.VoucherOffer
	for _, offer := range f.offers {
		if offer.ComboKey == comboKey && offer.Available {
			out = append(out, offer)
		}
	}
	return out, nil
}

func (f *fakeVoucherStore) ListAvailable(_ context.Context) ([]models.VoucherOffer, error) {
	var out []models.VoucherOffer
	for _, offer := range f.offers {
		if offer.Available {
			out = append(out, offer)
		}
	}
	return out, nil
}

// fakeRedeemer scripts per-code outcomes; unknown codes succeed.
type fakeRedeemer struct {
	mu       sync.Mutex
	failWith map[string]string
	calls    []string
}

func (f *fakeRedeemer) Redeem(_ context.Context, _ string, offer models.VoucherOffer) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, offer.Code)
	if reason, ok := f.failWith[offer.Code]; ok {
		return false, reason
	}
	return true, "OK"
}

type fakeTopupStore struct {
	mu      sync.Mutex
	records map[string]*models.TopupRecord
	order   []string
}

func newFakeTopupStore() *fakeTopupStore {
	return &fakeTopupStore{records: make(map[string]*models.TopupRecord)}
}

func (f *fakeTopupStore) Insert(_ context.Context, record *models.TopupRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.TxID]; ok {
		return repository.ErrDuplicateTx
	}
	copied := *record
	f.records[record.TxID] = &copied
	f.order = append(f.order, record.TxID)
	return nil
}

func (f *fakeTopupStore) Exists(_ context.Context, txID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[txID]
	return ok, nil
}

func (f *fakeTopupStore) ListByTelegramID(_ context.Context, telegramID int64, limit int) ([]models.TopupRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TopupRecord
	for _, txID := range f.order {
		record := f.records[txID]
		if record.TelegramID == telegramID {
			out = append(out, *record)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type sentMessage struct {
	telegramID int64
	text       string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) Notify(_ context.Context, telegramID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{telegramID: telegramID, text: text})
}
