package testutil

import (
	"fmt"
	"testing"

	"github.com/Napageneral/recall/internal/schema"
	"github.com/Napageneral/recall/internal/state"
	"github.com/Napageneral/recall/internal/store"
)

// TempStore creates a conversation store rooted in a per-test temp dir.
func TempStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return st
}

// OpenTestState creates an in-memory cursor database with the schema applied.
func OpenTestState(t *testing.T) *state.Manager {
	t.Helper()
	mgr, err := state.Open(":memory:")
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

// Record builds a minimal valid conversation record.
func Record(id string, msgs map[string]schema.Message) *schema.Record {
	if msgs == nil {
		msgs = map[string]schema.Message{}
	}
	return &schema.Record{
		Metadata: schema.Metadata{
			ID:       schema.FlexID(id),
			Name:     "Conversation " + id,
			ChatType: schema.ChatTypePrivate,
		},
		Messages: msgs,
	}
}

// Message builds a valid message with a deterministic date offset in minutes.
func Message(sender, text string, minute int) schema.Message {
	return schema.Message{
		SenderID: schema.FlexID(sender),
		Text:     text,
		Date:     fmt.Sprintf("2025-06-01T10:%02d:00Z", minute),
	}
}
