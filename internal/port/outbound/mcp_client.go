// Package outbound defines the outbound port interfaces used by the proxy
// core to reach the two peers it sits between.
package outbound

import (
	"context"
	"encoding/json"
)

// TransportAdapter is the contract a transport (stdio subprocess, SSE,
// streamable HTTP) presents to the pipeline. One adapter instance faces
// the client, a second faces the server; the pipeline never knows which
// concrete transport is behind either one.
type TransportAdapter interface {
	// Read blocks until the next framed JSON-RPC envelope is available.
	// Returns a TransportError-class error on disconnect or unrecoverable
	// decode failure; the adapter, not the pipeline, sees raw bytes.
	Read(ctx context.Context) (json.RawMessage, error)

	// Write sends a framed JSON-RPC envelope. Returns a TransportError-class
	// error on disconnect.
	Write(ctx context.Context, envelope json.RawMessage) error

	// Close idempotently releases the adapter's underlying resources.
	Close() error
}
