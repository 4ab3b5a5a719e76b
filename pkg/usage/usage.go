// Package usage tracks per-feature usage counters behind an injected
// persistence port. The service is constructed explicitly and passed to the
// handlers that need it; nothing in here is process-global.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Kind labels one counted feature.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindCreative     Kind = "creative"
	KindVoice        Kind = "voice"
)

// Kinds lists every known counter in stable order.
func Kinds() []Kind {
	return []Kind{KindConversation, KindCreative, KindVoice}
}

// Store is the persistence port. Implementations must be safe for
// concurrent use.
type Store interface {
	Increment(ctx context.Context, kind Kind) error
	Snapshot(ctx context.Context) (map[Kind]int64, error)
}

// Service wraps a Store with fire-and-forget increment semantics: a counter
// that fails to persist is logged, never surfaced to the feature that
// triggered it.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds a usage service over the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Increment bumps one counter. Persistence failures are logged and dropped.
func (s *Service) Increment(ctx context.Context, kind Kind) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Increment(ctx, kind); err != nil {
		s.logger.Warn("usage increment failed", "kind", string(kind), "error", err)
	}
}

// Snapshot returns the current value of every known counter, including
// zeroes for counters never incremented.
func (s *Service) Snapshot(ctx context.Context) (map[Kind]int64, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("usage: no store configured")
	}
	counts, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("usage: snapshot: %w", err)
	}
	out := make(map[Kind]int64, len(Kinds()))
	for _, k := range Kinds() {
		out[k] = counts[k]
	}
	return out, nil
}

// MemoryStore is an in-process Store, used in tests and when no database is
// configured.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[Kind]int64
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[Kind]int64)}
}

func (m *MemoryStore) Increment(_ context.Context, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[kind]++
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (map[Kind]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Kind]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}
