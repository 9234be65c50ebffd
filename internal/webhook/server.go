package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nganmiu/voucherbot/internal/health"
	"github.com/nganmiu/voucherbot/internal/models"
	"github.com/nganmiu/voucherbot/internal/service"
)

// ActionLogReader lists a user's audit-trail rows for the admin surface.
type ActionLogReader interface {
	ListByTelegramID(ctx context.Context, telegramID int64, limit int) ([]models.ActionLog, error)
}

// Server hosts the payment provider webhook, health and metrics endpoints,
// and a small basic-auth admin surface.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	health   *health.State
	topups   *service.TopupService
	ledger   *service.LedgerService
	catalog  *service.CatalogService
	actions  ActionLogReader
	notifier service.Notifier
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, state *health.State, topups *service.TopupService, ledger *service.LedgerService, catalog *service.CatalogService, actions ActionLogReader, notifier service.Notifier) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		health:   state,
		topups:   topups,
		ledger:   ledger,
		catalog:  catalog,
		actions:  actions,
		notifier: notifier,
		router:   r,
	}
	r.Get("/", s.handleHealth)
	r.Post("/webhook/sepay", s.handlePaymentWebhook)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/vouchers", s.handleListVouchers)
		protected.Get("/topups", s.handleListTopups)
		protected.Get("/actions", s.handleListActions)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("webhook shutdown error", "err", err)
		}
	}()

	s.log.Info("webhook server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook listen: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.health.Ready() {
		http.Error(w, "degraded", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// flexNumber tolerates both bare JSON numbers and quoted numeric strings;
// the provider has shipped both over time.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "null" {
		trimmed = ""
	}
	*f = flexNumber(trimmed)
	return nil
}

func (f flexNumber) Int64() (int64, error) {
	return json.Number(f).Int64()
}

type paymentEvent struct {
	ID             flexNumber `json:"id"`
	TransferType   string     `json:"transferType"`
	TransferAmount flexNumber `json:"transferAmount"`
	Content        string     `json:"content"`
	Description    string     `json:"description"`
	ReferenceCode  string     `json:"referenceCode"`
}

func (e paymentEvent) txID() string {
	if id := strings.TrimSpace(string(e.ID)); id != "" {
		return id
	}
	return strings.TrimSpace(e.ReferenceCode)
}

func (e paymentEvent) memo() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Description
}

// handlePaymentWebhook acknowledges every parseable notification with 200 and
// an outcome body so the provider stops retrying. Only a store failure gets a
// 5xx, which makes the provider redeliver.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.ack(w, service.TopupInvalid)
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Info("webhook rejected", "reason", "malformed json", "err", err)
		s.ack(w, service.TopupInvalid)
		return
	}
	if event.TransferType != "" && !strings.EqualFold(event.TransferType, "in") {
		s.ack(w, service.TopupInvalid)
		return
	}

	amount, err := event.TransferAmount.Int64()
	if err != nil {
		// VND has no fractional units but amounts still arrive as floats
		// sometimes; truncation is safe.
		f, ferr := json.Number(event.TransferAmount).Float64()
		if ferr != nil {
			s.ack(w, service.TopupInvalid)
			return
		}
		amount = int64(f)
	}

	outcome, err := s.topups.Process(r.Context(), service.TopupNotification{
		TxID:   event.txID(),
		Amount: amount,
		Memo:   event.memo(),
		Raw:    body,
	})
	if err != nil {
		s.log.Error("process topup", "tx", event.txID(), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.ack(w, outcome)
}

func (s *Server) ack(w http.ResponseWriter, outcome service.TopupOutcome) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(outcome))
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := s.ledger.ListTelegramIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	for _, id := range ids {
		s.notifier.Notify(ctx, id, req.Message)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"total": len(ids),
	})
}

func (s *Server) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.catalog.ListAvailable(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleListTopups(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("user")), 10, 64)
	if err != nil {
		http.Error(w, "user query parameter required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.topups.History(r.Context(), userID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("user")), 10, 64)
	if err != nil {
		http.Error(w, "user query parameter required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	entries, err := s.actions.ListByTelegramID(r.Context(), userID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="voucherbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("webhook handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
