package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is the default Store: every captured message lives in a
// slice plus an index for ByID lookups, guarded by a single mutex. It is
// the store every pipeline runs against; a FileCapture or sqlite store is
// layered on top as a periodic or on-shutdown flush target, not a
// replacement for the hot path.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessionID uuid.UUID
	startedAt time.Time
	updatedAt time.Time
	endedAt   *time.Time
	meta      SessionMeta
	messages  []EnvelopeRecord
	byID      map[uuid.UUID]int // index into messages
}

// NewInMemoryStore creates an empty store for sessionID, tagged with meta.
func NewInMemoryStore(sessionID uuid.UUID, meta SessionMeta) *InMemoryStore {
	now := time.Now().UTC()
	return &InMemoryStore{
		sessionID: sessionID,
		startedAt: now,
		updatedAt: now,
		meta:      meta,
		byID:      make(map[uuid.UUID]int),
	}
}

func (s *InMemoryStore) Append(_ context.Context, record EnvelopeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.ProxyID] = len(s.messages)
	s.messages = append(s.messages, record)
	s.updatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Messages(_ context.Context) ([]EnvelopeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EnvelopeRecord, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *InMemoryStore) ByID(_ context.Context, proxyID uuid.UUID) (EnvelopeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[proxyID]
	if !ok {
		return EnvelopeRecord{}, false, nil
	}
	return s.messages[idx], true, nil
}

func (s *InMemoryStore) Snapshot(_ context.Context) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]EnvelopeRecord, len(s.messages))
	copy(messages, s.messages)
	return SessionRecord{
		Version:       CurrentVersion,
		SessionID:     s.sessionID,
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,
		EndedAt:       s.endedAt,
		Transport:     s.meta.Transport,
		ServerCommand: s.meta.ServerCommand,
		ServerURL:     s.meta.ServerURL,
		Metadata:      s.meta.Metadata,
		Messages:      messages,
	}, nil
}

// End stamps the session's ended_at time. Calling it more than once
// leaves the first timestamp in place.
func (s *InMemoryStore) End(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	s.endedAt = &now
	return nil
}

// Restore replaces the store's contents with a previously persisted
// record, used when resuming a session from disk. It does not validate;
// callers are expected to have called SessionRecord.Validate first.
func (s *InMemoryStore) Restore(record SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = record.SessionID
	s.startedAt = record.StartedAt
	s.updatedAt = record.UpdatedAt
	s.endedAt = record.EndedAt
	s.meta = SessionMeta{
		Transport:     record.Transport,
		ServerCommand: record.ServerCommand,
		ServerURL:     record.ServerURL,
		Metadata:      record.Metadata,
	}
	s.messages = append([]EnvelopeRecord(nil), record.Messages...)
	s.byID = make(map[uuid.UUID]int, len(s.messages))
	for i, m := range s.messages {
		s.byID[m.ProxyID] = i
	}
}

var _ Store = (*InMemoryStore)(nil)
