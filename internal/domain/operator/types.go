// Package operator defines the admin-API caller identity model: who may
// drive the intercept engine, release held messages, and trigger
// replays. It has no bearing on the client or server peers the proxy
// sits between — the proxy performs no authentication of those, by
// design.
package operator

import "time"

// Operator is one admin-API caller.
type Operator struct {
	ID        string
	Name      string
	ReadOnly  bool
	CreatedAt time.Time
}

// APIKey is a credential minted for an Operator. The cleartext value is
// never stored; only its Argon2id hash is.
type APIKey struct {
	ID         string
	OperatorID string
	Name       string
	KeyHash    string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	Revoked    bool
	ReadOnly   bool
}

// Expired reports whether k's expiry has passed as of now.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
