// Package sessions tracks running relay sessions so graceful shutdown can
// warn callers, wait for hangup, and cancel stragglers.
package sessions

import (
	"context"
	"sync"
)

// Handle is what a relay exposes to the tracker: Cancel tears the session
// down, Warn pushes an advisory error frame without closing it.
type Handle struct {
	Cancel func()
	Warn   func(message string) error
}

type Tracker struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]Handle
	drained chan struct{} // closed while no sessions are registered
}

func NewTracker() *Tracker {
	ch := make(chan struct{})
	close(ch)
	return &Tracker{
		entries: make(map[uint64]Handle),
		drained: ch,
	}
}

// Register adds a session and returns its unregister func. Unregister is
// idempotent and safe to call from any goroutine.
func (t *Tracker) Register(h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	if len(t.entries) == 0 {
		t.drained = make(chan struct{})
	}
	t.entries[id] = h
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		if _, ok := t.entries[id]; ok {
			delete(t.entries, id)
			if len(t.entries) == 0 {
				close(t.drained)
			}
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) snapshot() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	handles := make([]Handle, 0, len(t.entries))
	for _, h := range t.entries {
		handles = append(handles, h)
	}
	return handles
}

// WarnAll pushes a best-effort warning frame to every live session.
func (t *Tracker) WarnAll(message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or the
// context expires. Returns true when fully drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		t.mu.Lock()
		drained := t.drained
		t.mu.Unlock()

		select {
		case <-drained:
			// A new session may have registered since this channel closed.
			if t.Count() == 0 {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}
