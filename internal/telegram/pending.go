package telegram

import (
	"sync"
	"time"
)

// PendingOperation links a user's offer selection to their next free-text
// message, which is interpreted as the redemption credential.
type PendingOperation struct {
	Target    string // offer code or combo key
	CreatedAt time.Time
}

// PendingStore holds at most one live pending operation per user, in
// process memory. A restart drops the entries; users simply pick again.
type PendingStore struct {
	mu      sync.Mutex
	pending map[int64]PendingOperation
}

func NewPendingStore() *PendingStore {
	return &PendingStore{
		pending: make(map[int64]PendingOperation),
	}
}

// Set records a pending operation, silently replacing any existing one.
func (s *PendingStore) Set(telegramID int64, target string) {
	s.mu.Lock()
	s.pending[telegramID] = PendingOperation{Target: target, CreatedAt: time.Now()}
	s.mu.Unlock()
}

// Take atomically reads and removes the user's pending operation.
func (s *PendingStore) Take(telegramID int64) (PendingOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.pending[telegramID]
	if ok {
		delete(s.pending, telegramID)
	}
	return op, ok
}

// Peek returns the user's pending operation without consuming it.
func (s *PendingStore) Peek(telegramID int64) (PendingOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.pending[telegramID]
	return op, ok
}
