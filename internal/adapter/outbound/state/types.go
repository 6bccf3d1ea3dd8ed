// Package state provides file-based persistence for wiretap's operator
// control-plane state: the operators and API keys that authenticate
// admin API callers. Peer (client/server) identity plays no part here —
// the proxy does not authenticate the two ends of the MCP pipe it
// sits between, per spec.md's non-goals.
package state

import "time"

// OperatorState is the top-level structure persisted in operators.json.
type OperatorState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Operators are the known admin-API callers.
	Operators []OperatorEntry `json:"operators"`

	// APIKeys are the authentication keys mapped to operators.
	APIKeys []APIKeyEntry `json:"api_keys"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// OperatorEntry represents one admin-API caller.
type OperatorEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// ReadOnly is true for operators sourced from YAML config.
	ReadOnly bool `json:"read_only"`

	// CreatedAt is when this operator was created.
	CreatedAt time.Time `json:"created_at"`
}

// APIKeyEntry represents an authentication key mapped to an operator.
type APIKeyEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// KeyHash is the Argon2id hash of the API key.
	KeyHash string `json:"key_hash"`

	// OperatorID references the operator this key authenticates as.
	OperatorID string `json:"operator_id"`

	// Name is a human-readable display name for this key.
	Name string `json:"name"`

	// CreatedAt is when this key was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when this key expires. Nil means it never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Revoked indicates whether this key has been revoked.
	Revoked bool `json:"revoked"`

	// ReadOnly is true for keys sourced from YAML config.
	ReadOnly bool `json:"read_only"`
}
