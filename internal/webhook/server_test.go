package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nganmiu/voucherbot/internal/config"
	"github.com/nganmiu/voucherbot/internal/health"
	"github.com/nganmiu/voucherbot/internal/models"
	"github.com/nganmiu/voucherbot/internal/repository"
	"github.com/nganmiu/voucherbot/internal/service"
)

type memAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
}

func (m *memAccountStore) FindByTelegramID(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (m *memAccountStore) Ensure(_ context.Context, id int64, username string) (*models.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		copied := *a
		return &copied, false, nil
	}
	a := &models.Account{TelegramID: id, Username: username, Status: models.StatusPending}
	m.accounts[id] = a
	copied := *a
	return &copied, true, nil
}

func (m *memAccountStore) AdjustBalance(_ context.Context, id int64, delta int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.Balance+delta < 0 {
		return 0, false, nil
	}
	a.Balance += delta
	return a.Balance, true, nil
}

func (m *memAccountStore) SetStatus(_ context.Context, id int64, status models.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.Status = status
	}
	return nil
}

func (m *memAccountStore) SetStatusAndNote(_ context.Context, id int64, status models.AccountStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.Status = status
		a.Note = note
	}
	return nil
}

func (m *memAccountStore) Activate(_ context.Context, id int64, gift int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.Status = models.StatusActive
	a.Balance += gift
	return a.Balance, nil
}

func (m *memAccountStore) ListTelegramIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

type memTopupStore struct {
	mu      sync.Mutex
	records map[string]models.TopupRecord
}

func (m *memTopupStore) Insert(_ context.Context, record *models.TopupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.TxID]; ok {
		return repository.ErrDuplicateTx
	}
	m.records[record.TxID] = *record
	return nil
}

func (m *memTopupStore) Exists(_ context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[txID]
	return ok, nil
}

func (m *memTopupStore) ListByTelegramID(_ context.Context, id int64, limit int) ([]models.TopupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TopupRecord
	for _, r := range m.records {
		if r.TelegramID == id {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memVoucherStore struct{ offers []models.VoucherOffer }

func (m *memVoucherStore) FindByCode(_ context.Context, code string) (*models.VoucherOffer, error) {
	for _, o := range m.offers {
		if o.Code == code {
			copied := o
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memVoucherStore) ListByCombo(_ context.Context, key string) ([]models.VoucherOffer, error) {
	var out []models.VoucherOffer
	for _, o := range m.offers {
		if o.ComboKey == key && o.Available {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memVoucherStore) ListAvailable(_ context.Context) ([]models.VoucherOffer, error) {
	var out []models.VoucherOffer
	for _, o := range m.offers {
		if o.Available {
			out = append(out, o)
		}
	}
	return out, nil
}

type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, int64, string) {}

type memActionLog struct {
	mu      sync.Mutex
	entries []models.ActionLog
}

func (m *memActionLog) Append(_ context.Context, id int64, username, action, value, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, models.ActionLog{
		ID: int64(len(m.entries) + 1), TelegramID: id, Username: username,
		Action: action, Value: value, Note: note,
	})
	return nil
}

func (m *memActionLog) ListByTelegramID(_ context.Context, id int64, limit int) ([]models.ActionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActionLog
	for _, e := range m.entries {
		if e.TelegramID == id {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *health.State, *memActionLog) {
	t.Helper()
	tiers, err := config.ParseBonusTiers("100000:20,50000:15,20000:10")
	if err != nil {
		t.Fatalf("parse tiers: %v", err)
	}
	cfg := config.Config{
		MemoMarker:      "NAP",
		MemoMinIDDigits: 6,
		MinTopupAmount:  10000,
		BonusTiers:      tiers,
		TopupSource:     "SEPAY",
	}

	logr := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := &memAccountStore{accounts: map[int64]*models.Account{
		123456789: {TelegramID: 123456789, Status: models.StatusActive, Balance: 5000},
	}}
	actions := &memActionLog{}
	ledger := service.NewLedgerService(accounts, actions, 5000)
	catalog := service.NewCatalogService(&memVoucherStore{offers: []models.VoucherOffer{
		{ID: 1, Code: "voucher1", Title: "Freeship 15k", Price: 3000, Available: true},
	}})
	topups := service.NewTopupService(cfg, logr, &memTopupStore{records: make(map[string]models.TopupRecord)}, ledger, actions, silentNotifier{}, nil)

	state := health.New()
	state.SetReady(true)
	return NewServer(":0", "admin", "secret", logr, state, topups, ledger, catalog, actions, silentNotifier{}), state, actions
}

func postWebhook(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/sepay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookCreditsTopup(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := postWebhook(t, srv, `{"id":1001,"transferType":"in","transferAmount":25000,"content":"SEVQR NAP 123456789"}`)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("response = %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestWebhookAcksDuplicate(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body := `{"id":2002,"transferType":"in","transferAmount":15000,"content":"NAP 123456789"}`

	if w := postWebhook(t, srv, body); w.Body.String() != "OK" {
		t.Fatalf("first delivery body = %q, want OK", w.Body.String())
	}
	w := postWebhook(t, srv, body)
	if w.Code != http.StatusOK || w.Body.String() != "DUPLICATE" {
		t.Fatalf("second delivery = %d %q, want 200 DUPLICATE", w.Code, w.Body.String())
	}
}

func TestWebhookAckBodies(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"id":`, "INVALID"},
		{"outgoing transfer", `{"id":1,"transferType":"out","transferAmount":15000,"content":"NAP 123456789"}`, "INVALID"},
		{"zero amount", `{"id":2,"transferType":"in","transferAmount":0,"content":"NAP 123456789"}`, "INVALID"},
		{"no user in memo", `{"id":3,"transferType":"in","transferAmount":15000,"content":"an trua"}`, "NO_USER"},
		{"below minimum", `{"id":4,"transferType":"in","transferAmount":9999,"content":"NAP 123456789"}`, "TOO_SMALL"},
		{"string amount", `{"id":5,"transferType":"in","transferAmount":"15000","content":"NAP 123456789"}`, "OK"},
	}
	for _, tc := range cases {
		w := postWebhook(t, srv, tc.body)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", tc.name, w.Code)
		}
		if w.Body.String() != tc.want {
			t.Errorf("%s: body = %q, want %q", tc.name, w.Body.String(), tc.want)
		}
	}
}

func TestHealthEndpointReflectsDegradedMode(t *testing.T) {
	srv, state, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d, want 200", w.Code)
	}

	state.SetReady(false)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("degraded status = %d, want 500", w.Code)
	}
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/vouchers", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/vouchers", nil)
	req.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "voucher1") {
		t.Fatalf("voucher list body = %q, want voucher1 listed", w.Body.String())
	}
}

func TestAdminListsActions(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// A credited topup leaves an audit row behind.
	w := postWebhook(t, srv, `{"id":7007,"transferType":"in","transferAmount":15000,"content":"NAP 123456789"}`)
	if w.Body.String() != "OK" {
		t.Fatalf("seed topup body = %q, want OK", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/actions?user=123456789", nil)
	req.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), models.ActionTopup) {
		t.Fatalf("actions body = %q, want a %s row", w.Body.String(), models.ActionTopup)
	}
}

func TestAdminTopupsRequiresUserParam(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/topups", nil)
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing user param status = %d, want 400", w.Code)
	}
}
