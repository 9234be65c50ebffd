package health

import "sync/atomic"

// State is the degraded-mode flag every entry point consults. The process
// keeps serving when the store is down, but only to say it is down.
type State struct {
	ready atomic.Bool
}

func New() *State {
	return &State{}
}

func (s *State) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *State) Ready() bool {
	return s.ready.Load()
}
