package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

func TestMemoryStoreCounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if err := store.Increment(ctx, KindConversation); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := store.Increment(ctx, KindVoice); err != nil {
		t.Fatalf("increment: %v", err)
	}

	counts, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := counts[KindConversation]; got != 3 {
		t.Errorf("conversation = %d, want 3", got)
	}
	if got := counts[KindVoice]; got != 1 {
		t.Errorf("voice = %d, want 1", got)
	}
	if _, ok := counts[KindCreative]; ok {
		t.Error("creative should be absent from raw store snapshot")
	}
}

func TestMemoryStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Increment(ctx, KindCreative)
		}()
	}
	wg.Wait()

	counts, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := counts[KindCreative]; got != 50 {
		t.Errorf("creative = %d, want 50", got)
	}
}

type failingStore struct {
	incErr error
}

func (f *failingStore) Increment(context.Context, Kind) error { return f.incErr }
func (f *failingStore) Snapshot(context.Context) (map[Kind]int64, error) {
	return nil, errors.New("down")
}

func TestServiceIncrementSwallowsStoreErrors(t *testing.T) {
	svc := NewService(&failingStore{incErr: errors.New("down")}, slog.Default())
	// must not panic or surface the error
	svc.Increment(context.Background(), KindConversation)
}

func TestServiceSnapshotIncludesZeroes(t *testing.T) {
	svc := NewService(NewMemoryStore(), slog.Default())
	svc.Increment(context.Background(), KindVoice)

	counts, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, k := range Kinds() {
		if _, ok := counts[k]; !ok {
			t.Errorf("snapshot missing %q", k)
		}
	}
	if counts[KindVoice] != 1 {
		t.Errorf("voice = %d, want 1", counts[KindVoice])
	}
	if counts[KindConversation] != 0 {
		t.Errorf("conversation = %d, want 0", counts[KindConversation])
	}
}
