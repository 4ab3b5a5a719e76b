// Package lifecycle holds the gateway's drain state. Once draining, the
// readiness probe fails and new live calls are refused while established
// calls keep running until shutdown finishes.
package lifecycle

import "sync/atomic"

type State struct {
	draining atomic.Bool
}

// StartDraining flips the gateway into drain mode. It is idempotent.
func (s *State) StartDraining() {
	if s == nil {
		return
	}
	s.draining.Store(true)
}

func (s *State) Draining() bool {
	if s == nil {
		return false
	}
	return s.draining.Load()
}
