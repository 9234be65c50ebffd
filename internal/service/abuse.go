package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nganmiu/voucherbot/internal/metrics"
	"github.com/nganmiu/voucherbot/internal/models"
)

// BanKind is the outcome of a RecordFailure call.
type BanKind int

const (
	BanNone BanKind = iota
	BanTemporary
	BanPermanent
)

// BanStatus is the persisted ban state read back from the account note.
type BanStatus struct {
	Banned    bool
	Permanent bool
	Until     time.Time
}

const (
	notePermanentBan = "BAN PERMANENT: abuse"
	noteTempBan      = "BAN UNTIL: "
	notePrevSep      = ";prev="
)

type abuseEntry struct {
	failures    []time.Time
	escalations int
}

// AbuseTracker counts user-facing failures in a trailing window and drives
// the ban state machine: clear -> temporary -> clear on expiry -> permanent.
// Window state lives in process memory and is lost on restart; the
// persisted note on the account stays authoritative for active bans.
type AbuseTracker struct {
	accounts  AccountStore
	actions   ActionLogger
	log       *slog.Logger
	threshold int
	window    time.Duration
	banFor    time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[int64]*abuseEntry
}

func NewAbuseTracker(accounts AccountStore, actions ActionLogger, log *slog.Logger, threshold int, window, banFor time.Duration) *AbuseTracker {
	return &AbuseTracker{
		accounts:  accounts,
		actions:   actions,
		log:       log,
		threshold: threshold,
		window:    window,
		banFor:    banFor,
		now:       time.Now,
		entries:   make(map[int64]*abuseEntry),
	}
}

// RecordFailure appends one failure to the user's window and applies a ban
// when the threshold is reached: temporary on the first offense, permanent
// on any repeat. The returned kind is BanNone when nothing changed.
func (t *AbuseTracker) RecordFailure(ctx context.Context, telegramID int64) (BanKind, error) {
	t.mu.Lock()
	entry, ok := t.entries[telegramID]
	if !ok {
		entry = &abuseEntry{}
		t.entries[telegramID] = entry
	}

	now := t.now()
	entry.failures = append(entry.failures, now)
	kept := entry.failures[:0]
	for _, ts := range entry.failures {
		if now.Sub(ts) < t.window {
			kept = append(kept, ts)
		}
	}
	entry.failures = kept

	if len(entry.failures) < t.threshold {
		t.mu.Unlock()
		return BanNone, nil
	}

	kind := BanPermanent
	if entry.escalations == 0 {
		kind = BanTemporary
		entry.escalations = 1
	}
	entry.failures = nil
	t.mu.Unlock()

	if err := t.applyBan(ctx, telegramID, kind, now); err != nil {
		return BanNone, err
	}
	return kind, nil
}

func (t *AbuseTracker) applyBan(ctx context.Context, telegramID int64, kind BanKind, now time.Time) error {
	var status models.AccountStatus
	var note string
	if kind == BanPermanent {
		status = models.StatusBannedPermanent
		note = notePermanentBan
	} else {
		// The pre-ban status rides along in the note so expiry can put it
		// back; a pending account must not come out of a ban activated.
		prev := models.StatusPending
		account, err := t.accounts.FindByTelegramID(ctx, telegramID)
		if err != nil {
			return err
		}
		if account != nil {
			prev = account.Status
		}
		status = models.StatusBannedTemporary
		note = noteTempBan + now.Add(t.banFor).Format(time.RFC3339) + notePrevSep + string(prev)
	}

	if err := t.accounts.SetStatusAndNote(ctx, telegramID, status, note); err != nil {
		return err
	}
	if t.actions != nil {
		_ = t.actions.Append(ctx, telegramID, "", models.ActionBan, string(status), note)
	}
	metrics.BansTotal.WithLabelValues(banLabel(kind)).Inc()
	t.log.Warn("ban applied", "user", telegramID, "kind", banLabel(kind))
	return nil
}

// CheckBan reads the persisted annotation. An expired temporary ban is
// cleared here, lazily; there is no background sweep.
func (t *AbuseTracker) CheckBan(ctx context.Context, telegramID int64) (BanStatus, error) {
	account, err := t.accounts.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return BanStatus{}, err
	}
	if account == nil {
		return BanStatus{}, nil
	}

	note := strings.TrimSpace(account.Note)
	if strings.HasPrefix(note, notePermanentBan) {
		return BanStatus{Banned: true, Permanent: true}, nil
	}
	if strings.HasPrefix(note, noteTempBan) {
		rest := strings.TrimPrefix(note, noteTempBan)
		prev := models.StatusActive
		if i := strings.Index(rest, notePrevSep); i >= 0 {
			if s := models.AccountStatus(rest[i+len(notePrevSep):]); s != "" {
				prev = s
			}
			rest = rest[:i]
		}
		until, err := time.Parse(time.RFC3339, strings.TrimSpace(rest))
		if err != nil {
			t.log.Error("unreadable ban note", "user", telegramID, "note", note)
			return BanStatus{}, nil
		}
		if t.now().Before(until) {
			return BanStatus{Banned: true, Until: until}, nil
		}
		if err := t.accounts.SetStatusAndNote(ctx, telegramID, prev, ""); err != nil {
			return BanStatus{}, err
		}
		return BanStatus{}, nil
	}
	return BanStatus{}, nil
}

func banLabel(kind BanKind) string {
	if kind == BanPermanent {
		return "permanent"
	}
	return "temporary"
}
