package session

import (
	"context"
	"testing"

	"github.com/forgesmith/buildrunner/internal/storage"
	"github.com/forgesmith/buildrunner/pkg/types"
)

func TestPersistAllocatedPort_WritesPortOntoSessionRecord(t *testing.T) {
	store := storage.New(t.TempDir())
	p := NewProcessor(nil, nil, store, nil, nil, "", "")

	sess := &types.Session{ID: "sess-1", ProjectID: "proj-1"}
	if err := store.Put(context.Background(), []string{"session", "proj-1", "sess-1"}, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	p.persistAllocatedPort("sess-1", 30123)

	var got types.Session
	if err := store.Get(context.Background(), []string{"session", "proj-1", "sess-1"}, &got); err != nil {
		t.Fatalf("load session: %v", err)
	}
	if got.AllocatedPort != 30123 {
		t.Errorf("expected AllocatedPort 30123, got %d", got.AllocatedPort)
	}
}

func TestPersistAllocatedPort_UnknownSessionIsNoop(t *testing.T) {
	store := storage.New(t.TempDir())
	p := NewProcessor(nil, nil, store, nil, nil, "", "")

	// Must not panic even though no session record exists.
	p.persistAllocatedPort("never-seen", 30123)
}
