package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/nganmiu/voucherbot/internal/models"
)

// AccountStore is the persistence surface the ledger needs. The MySQL
// repository satisfies it; tests swap in a map-backed fake.
type AccountStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error)
	Ensure(ctx context.Context, telegramID int64, username string) (*models.Account, bool, error)
	AdjustBalance(ctx context.Context, telegramID int64, delta int64) (int64, bool, error)
	SetStatus(ctx context.Context, telegramID int64, status models.AccountStatus) error
	SetStatusAndNote(ctx context.Context, telegramID int64, status models.AccountStatus, note string) error
	Activate(ctx context.Context, telegramID int64, gift int64) (int64, error)
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

// ActionLogger appends one row to the operator audit trail.
type ActionLogger interface {
	Append(ctx context.Context, telegramID int64, username, action, value, note string) error
}

// LedgerService owns balance and status mutations. Mutations for one user
// are serialized behind a per-user mutex; the conditional UPDATE in the
// store is the backstop that keeps balances non-negative regardless.
type LedgerService struct {
	accounts AccountStore
	actions  ActionLogger
	gift     int64

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewLedgerService(accounts AccountStore, actions ActionLogger, giftAmount int64) *LedgerService {
	return &LedgerService{
		accounts: accounts,
		actions:  actions,
		gift:     giftAmount,
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (s *LedgerService) userLock(telegramID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[telegramID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[telegramID] = lock
	}
	return lock
}

func (s *LedgerService) Ensure(ctx context.Context, telegramID int64, username string) (*models.Account, bool, error) {
	account, created, err := s.accounts.Ensure(ctx, telegramID, username)
	if err != nil {
		return nil, false, fmt.Errorf("ensure account: %w", err)
	}
	return account, created, nil
}

func (s *LedgerService) Get(ctx context.Context, telegramID int64) (*models.Account, error) {
	account, err := s.accounts.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// Credit adds amount to the balance and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return s.adjust(ctx, telegramID, amount)
}

// Debit subtracts amount from the balance, failing with
// ErrInsufficientFunds when the balance would go negative.
func (s *LedgerService) Debit(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return s.adjust(ctx, telegramID, -amount)
}

func (s *LedgerService) adjust(ctx context.Context, telegramID int64, delta int64) (int64, error) {
	lock := s.userLock(telegramID)
	lock.Lock()
	defer lock.Unlock()

	balance, ok, err := s.accounts.AdjustBalance(ctx, telegramID, delta)
	if err != nil {
		return 0, err
	}
	if !ok {
		account, err := s.accounts.FindByTelegramID(ctx, telegramID)
		if err != nil {
			return 0, err
		}
		if account == nil {
			return 0, ErrAccountNotFound
		}
		return account.Balance, ErrInsufficientFunds
	}
	return balance, nil
}

func (s *LedgerService) SetStatus(ctx context.Context, telegramID int64, status models.AccountStatus) error {
	return s.accounts.SetStatus(ctx, telegramID, status)
}

// ActivateWithGift flips a fresh account to active and credits the trial
// gift once. Accounts that already activated (or used the trial) get
// ErrAlreadyActivated. The action names the entry path in the audit
// trail (explicit button vs automatic on first contact).
func (s *LedgerService) ActivateWithGift(ctx context.Context, telegramID int64, username, action string) (int64, error) {
	lock := s.userLock(telegramID)
	lock.Lock()
	defer lock.Unlock()

	account, _, err := s.accounts.Ensure(ctx, telegramID, username)
	if err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}
	if account.Status == models.StatusActive || account.Status == models.StatusTrialUsed {
		return account.Balance, ErrAlreadyActivated
	}

	balance, err := s.accounts.Activate(ctx, telegramID, s.gift)
	if err != nil {
		return 0, err
	}
	if s.actions != nil {
		if action == "" {
			action = models.ActionActivate
		}
		_ = s.actions.Append(ctx, telegramID, username, action, fmt.Sprintf("%d", s.gift), "trial gift")
	}
	return balance, nil
}

func (s *LedgerService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.accounts.ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}
