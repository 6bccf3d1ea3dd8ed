package capture

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func method(m string) *string { return &m }

func newTestRecord(proxyID uuid.UUID, seq uint64, method *string) EnvelopeRecord {
	return EnvelopeRecord{
		ProxyID:   proxyID,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		Direction: "client_to_server",
		Transport: "stdio",
		Kind:      "request",
		Method:    method,
		Raw:       json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`),
	}
}

func TestInMemoryStore_AppendAndByID(t *testing.T) {
	store := NewInMemoryStore(uuid.New(), SessionMeta{Transport: "stdio"})
	ctx := context.Background()

	id := uuid.New()
	rec := newTestRecord(id, 0, method("tools/call"))
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, ok, err := store.ByID(ctx, id)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if !ok {
		t.Fatal("ByID: not found")
	}
	if got.Sequence != rec.Sequence {
		t.Errorf("Sequence = %d, want %d", got.Sequence, rec.Sequence)
	}
}

func TestInMemoryStore_ByID_NotFound(t *testing.T) {
	store := NewInMemoryStore(uuid.New(), SessionMeta{})
	_, ok, err := store.ByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if ok {
		t.Error("ByID: ok = true, want false for an unknown id")
	}
}

func TestInMemoryStore_MessagesPreservesAppendOrder(t *testing.T) {
	store := NewInMemoryStore(uuid.New(), SessionMeta{})
	ctx := context.Background()

	for i, m := range []string{"c", "a", "b"} {
		if err := store.Append(ctx, newTestRecord(uuid.New(), uint64(i), method(m))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	messages, err := store.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len = %d, want 3", len(messages))
	}
	for i, want := range []string{"c", "a", "b"} {
		if *messages[i].Method != want {
			t.Errorf("messages[%d].Method = %s, want %s", i, *messages[i].Method, want)
		}
	}
}

func TestInMemoryStore_SnapshotCarriesMeta(t *testing.T) {
	sessionID := uuid.New()
	meta := SessionMeta{
		Transport:     "sse",
		ServerCommand: "",
		ServerURL:     "http://localhost:9000",
		Metadata:      map[string]string{"owner": "ops"},
	}
	store := NewInMemoryStore(sessionID, meta)

	snap, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Version != CurrentVersion {
		t.Errorf("Version = %q, want %q", snap.Version, CurrentVersion)
	}
	if snap.SessionID != sessionID {
		t.Errorf("SessionID = %s, want %s", snap.SessionID, sessionID)
	}
	if snap.Transport != meta.Transport || snap.ServerURL != meta.ServerURL {
		t.Errorf("snapshot meta = %+v, want transport/url %+v", snap, meta)
	}
	if snap.Metadata["owner"] != "ops" {
		t.Errorf("Metadata[owner] = %q, want ops", snap.Metadata["owner"])
	}
	if snap.EndedAt != nil {
		t.Error("EndedAt should be nil before End is called")
	}
}

func TestInMemoryStore_EndIsIdempotent(t *testing.T) {
	store := NewInMemoryStore(uuid.New(), SessionMeta{})
	ctx := context.Background()

	if err := store.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.EndedAt == nil {
		t.Fatal("EndedAt is nil after End")
	}
	first := *snap.EndedAt

	time.Sleep(time.Millisecond)
	if err := store.End(ctx); err != nil {
		t.Fatalf("second End: %v", err)
	}
	snap, _ = store.Snapshot(ctx)
	if !snap.EndedAt.Equal(first) {
		t.Error("second End call moved ended_at forward, want it left untouched")
	}
}

func TestInMemoryStore_RestoreRoundTrip(t *testing.T) {
	sessionID := uuid.New()
	original := NewInMemoryStore(sessionID, SessionMeta{Transport: "stdio", ServerCommand: "mcp-server"})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := original.Append(ctx, newTestRecord(uuid.New(), uint64(i), method("ping"))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := original.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	snap, err := original.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := NewInMemoryStore(uuid.New(), SessionMeta{})
	restored.Restore(snap)

	restoredSnap, err := restored.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot after Restore: %v", err)
	}
	if restoredSnap.SessionID != snap.SessionID {
		t.Errorf("SessionID = %s, want %s", restoredSnap.SessionID, snap.SessionID)
	}
	if len(restoredSnap.Messages) != len(snap.Messages) {
		t.Fatalf("len(Messages) = %d, want %d", len(restoredSnap.Messages), len(snap.Messages))
	}
	for i := range snap.Messages {
		if restoredSnap.Messages[i].ProxyID != snap.Messages[i].ProxyID {
			t.Errorf("messages[%d].ProxyID mismatch after restore", i)
		}
	}
	if restoredSnap.ServerCommand != snap.ServerCommand {
		t.Errorf("ServerCommand = %q, want %q", restoredSnap.ServerCommand, snap.ServerCommand)
	}
	if restoredSnap.EndedAt == nil || !restoredSnap.EndedAt.Equal(*snap.EndedAt) {
		t.Error("EndedAt not preserved across Restore")
	}

	for i, rec := range snap.Messages {
		got, ok, err := restored.ByID(ctx, rec.ProxyID)
		if err != nil || !ok {
			t.Fatalf("ByID(%d) after restore: ok=%v err=%v", i, ok, err)
		}
		if got.Sequence != rec.Sequence {
			t.Errorf("restored message[%d].Sequence = %d, want %d", i, got.Sequence, rec.Sequence)
		}
	}
}

func TestSessionRecord_Validate(t *testing.T) {
	tests := []struct {
		name   string
		record SessionRecord
		want   string
	}{
		{
			name:   "missing version",
			record: SessionRecord{SessionID: uuid.New()},
			want:   "missing version",
		},
		{
			name:   "missing session id",
			record: SessionRecord{Version: CurrentVersion},
			want:   "missing session_id",
		},
		{
			name: "out of order sequence",
			record: SessionRecord{
				Version:   CurrentVersion,
				SessionID: uuid.New(),
				Messages: []EnvelopeRecord{
					{Sequence: 1, Raw: json.RawMessage(`{}`)},
					{Sequence: 0, Raw: json.RawMessage(`{}`)},
				},
			},
			want: "messages are not strictly increasing by sequence",
		},
		{
			name: "empty raw envelope",
			record: SessionRecord{
				Version:   CurrentVersion,
				SessionID: uuid.New(),
				Messages:  []EnvelopeRecord{{Sequence: 0}},
			},
			want: "message has empty raw envelope",
		},
		{
			name: "valid",
			record: SessionRecord{
				Version:   CurrentVersion,
				SessionID: uuid.New(),
				Messages: []EnvelopeRecord{
					{Sequence: 0, Raw: json.RawMessage(`{}`)},
					{Sequence: 1, Raw: json.RawMessage(`{}`)},
				},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Validate(); got != tt.want {
				t.Errorf("Validate() = %q, want %q", got, tt.want)
			}
		})
	}
}

var _ Store = (*InMemoryStore)(nil)
