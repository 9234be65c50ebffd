package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/nganmiu/voucherbot/internal/config"
	"github.com/nganmiu/voucherbot/internal/metrics"
	"github.com/nganmiu/voucherbot/internal/models"
	"github.com/nganmiu/voucherbot/internal/repository"
)

// TopupStore is the append-only topup ledger. Insert must behave as
// insert-if-absent on the transaction id.
type TopupStore interface {
	Insert(ctx context.Context, record *models.TopupRecord) error
	Exists(ctx context.Context, txID string) (bool, error)
	ListByTelegramID(ctx context.Context, telegramID int64, limit int) ([]models.TopupRecord, error)
}

// Notifier pushes a text message to a chat user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, telegramID int64, text string)
}

// PayloadArchiver copies a raw provider payload to long-term storage.
type PayloadArchiver interface {
	Archive(ctx context.Context, txID string, payload []byte) error
}

// TopupNotification is one inbound payment notification as delivered by
// the provider webhook. Raw is the undecoded body, kept for the archive.
type TopupNotification struct {
	TxID   string
	Amount int64
	Memo   string
	Raw    []byte
}

// TopupOutcome is the webhook acknowledgement body. Every outcome is acked
// with HTTP 200 so the provider stops retrying.
type TopupOutcome string

const (
	TopupCredited  TopupOutcome = "OK"
	TopupInvalid   TopupOutcome = "INVALID"
	TopupDuplicate TopupOutcome = "DUPLICATE"
	TopupNoUser    TopupOutcome = "NO_USER"
	TopupTooSmall  TopupOutcome = "TOO_SMALL"
)

// TopupService validates, deduplicates and credits payment notifications.
type TopupService struct {
	log      *slog.Logger
	topups   TopupStore
	ledger   *LedgerService
	actions  ActionLogger
	notifier Notifier
	archiver PayloadArchiver

	memoRe    *regexp.Regexp
	minAmount int64
	tiers     []config.BonusTier
	source    string
}

func NewTopupService(cfg config.Config, log *slog.Logger, topups TopupStore, ledger *LedgerService, actions ActionLogger, notifier Notifier, archiver PayloadArchiver) *TopupService {
	return &TopupService{
		log:       log,
		topups:    topups,
		ledger:    ledger,
		actions:   actions,
		notifier:  notifier,
		archiver:  archiver,
		memoRe:    memoPattern(cfg.MemoMarker, cfg.MemoMinIDDigits),
		minAmount: cfg.MinTopupAmount,
		tiers:     cfg.BonusTiers,
		source:    cfg.TopupSource,
	}
}

func memoPattern(marker string, minDigits int) *regexp.Regexp {
	if minDigits <= 0 {
		minDigits = 6
	}
	return regexp.MustCompile(fmt.Sprintf(`(?i)%s\s*(\d{%d,})`, regexp.QuoteMeta(marker), minDigits))
}

// ParseMemo extracts the target user id from a transfer memo.
func (s *TopupService) ParseMemo(memo string) (int64, bool) {
	m := s.memoRe.FindStringSubmatch(memo)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Bonus returns the percent and bonus amount for a topup. Only the first
// matching tier applies; tiers never stack.
func (s *TopupService) Bonus(amount int64) (int, int64) {
	for _, tier := range s.tiers {
		if amount >= tier.MinAmount {
			return tier.BonusPercent, amount * int64(tier.BonusPercent) / 100
		}
	}
	return 0, 0
}

// Process handles one notification end to end. The returned outcome is the
// acknowledgement body; the error is non-nil only for store failures, which
// the webhook maps to a retryable 5xx.
func (s *TopupService) Process(ctx context.Context, n TopupNotification) (TopupOutcome, error) {
	if n.TxID == "" || n.Amount <= 0 {
		s.log.Info("topup rejected", "reason", "invalid", "tx", n.TxID, "amount", n.Amount)
		return s.done(TopupInvalid), nil
	}

	// Cheap early-out; the Insert below is the authoritative guard.
	exists, err := s.topups.Exists(ctx, n.TxID)
	if err != nil {
		return TopupInvalid, err
	}
	if exists {
		s.log.Info("topup rejected", "reason", "duplicate", "tx", n.TxID)
		return s.done(TopupDuplicate), nil
	}

	telegramID, ok := s.ParseMemo(n.Memo)
	if !ok {
		s.log.Info("topup rejected", "reason", "no user in memo", "tx", n.TxID, "memo", n.Memo)
		return s.done(TopupNoUser), nil
	}

	if n.Amount < s.minAmount {
		s.notifier.Notify(ctx, telegramID, fmt.Sprintf("Minimum topup is %d. Your transfer of %d was not credited.", s.minAmount, n.Amount))
		return s.done(TopupTooSmall), nil
	}

	percent, bonus := s.Bonus(n.Amount)

	// Append the dedup record before crediting: a concurrent duplicate
	// delivery loses the unique-key race and never reaches the credit.
	record := &models.TopupRecord{
		TxID:       n.TxID,
		TelegramID: telegramID,
		Amount:     n.Amount,
		Bonus:      bonus,
		Source:     s.source,
		Memo:       n.Memo,
	}
	if err := s.topups.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateTx) {
			s.log.Info("topup rejected", "reason", "duplicate", "tx", n.TxID)
			return s.done(TopupDuplicate), nil
		}
		return TopupInvalid, err
	}

	if _, _, err := s.ledger.Ensure(ctx, telegramID, ""); err != nil {
		return TopupInvalid, err
	}
	balance, err := s.ledger.Credit(ctx, telegramID, n.Amount+bonus)
	if err != nil {
		return TopupInvalid, err
	}

	if s.actions != nil {
		note := ""
		if bonus > 0 {
			note = fmt.Sprintf("+%d%%=%d", percent, bonus)
		}
		_ = s.actions.Append(ctx, telegramID, "", models.ActionTopup, fmt.Sprintf("%d", n.Amount+bonus), note)
	}

	text := fmt.Sprintf("Topup credited.\nAmount: %d", n.Amount)
	if bonus > 0 {
		text += fmt.Sprintf("\nBonus (+%d%%): %d", percent, bonus)
	}
	text += fmt.Sprintf("\nBalance: %d", balance)
	s.notifier.Notify(ctx, telegramID, text)

	if s.archiver != nil && len(n.Raw) > 0 {
		if err := s.archiver.Archive(ctx, n.TxID, n.Raw); err != nil {
			s.log.Error("archive payment payload", "tx", n.TxID, "err", err)
		}
	}

	s.log.Info("topup credited", "tx", n.TxID, "user", telegramID, "amount", n.Amount, "bonus", bonus)
	return s.done(TopupCredited), nil
}

func (s *TopupService) done(outcome TopupOutcome) TopupOutcome {
	metrics.TopupsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// History returns up to limit of the user's most recent topups.
func (s *TopupService) History(ctx context.Context, telegramID int64, limit int) ([]models.TopupRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	records, err := s.topups.ListByTelegramID(ctx, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("topup history: %w", err)
	}
	return records, nil
}
