// Package capture defines the persisted session record: every envelope a
// pipeline has ever seen, in the exact shape written to and read from
// disk, independent of the in-memory proxy.ProxyMessage representation.
package capture

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeRecord is one captured message, serialized for durable storage
// and for the operator API's session-history responses. Field names and
// shapes match the persisted JSON schema exactly; this type has no
// behavior beyond carrying data.
type EnvelopeRecord struct {
	ProxyID      uuid.UUID       `json:"proxy_id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Direction    string          `json:"direction"`
	Transport    string          `json:"transport"`
	Kind         string          `json:"kind"`
	Method       *string         `json:"method,omitempty"`
	JSONRPCID    json.RawMessage `json:"jsonrpc_id,omitempty"`
	CorrelatedID *uuid.UUID      `json:"correlated_id,omitempty"`
	Raw          json.RawMessage `json:"payload"`
	Modified     bool            `json:"modified"`
	OriginalRaw  json.RawMessage `json:"original_payload,omitempty"`
}

// SessionMeta describes the session-level facts known at the moment a
// capture.Store is created, independent of any message captured through
// it: which wire transport the proxy is speaking, how the upstream
// server was reached, and any operator-supplied tags.
type SessionMeta struct {
	Transport     string
	ServerCommand string
	ServerURL     string
	Metadata      map[string]string
}

// SessionRecord is the top-level persisted unit: the full capture of one
// proxy run, from the first message forwarded to the last.
type SessionRecord struct {
	Version       string            `json:"version"`
	SessionID     uuid.UUID         `json:"id"`
	StartedAt     time.Time         `json:"started_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Transport     string            `json:"transport,omitempty"`
	ServerCommand string            `json:"server_command,omitempty"`
	ServerURL     string            `json:"server_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Messages      []EnvelopeRecord  `json:"messages"`
}

// CurrentVersion is the schema version stamped into newly created
// sessions and checked on load.
const CurrentVersion = "1"

// Validate reports a structural problem with a loaded session, surfaced
// to the caller as proxy.CorruptSession rather than a bare decode error.
func (s *SessionRecord) Validate() string {
	if s.Version == "" {
		return "missing version"
	}
	if s.SessionID == uuid.Nil {
		return "missing session_id"
	}
	var lastSeq uint64
	for i, m := range s.Messages {
		if i > 0 && m.Sequence <= lastSeq {
			return "messages are not strictly increasing by sequence"
		}
		lastSeq = m.Sequence
		if len(m.Raw) == 0 {
			return "message has empty raw envelope"
		}
	}
	return ""
}
