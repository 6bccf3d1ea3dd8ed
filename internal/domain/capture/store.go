package capture

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable-and-queryable home for a session's captured
// messages. Implementations: an in-memory store for the common case of
// "inspect the running proxy", a file-backed store grounded on the
// teacher's atomic-write recipe, and an optional sqlite-backed store for
// deployments that want queryable history across restarts.
type Store interface {
	// Append records msg as the next message of the session. Sequence
	// numbers must arrive strictly increasing; Append does not renumber.
	Append(ctx context.Context, record EnvelopeRecord) error

	// Messages returns every captured message for the session, in
	// sequence order.
	Messages(ctx context.Context) ([]EnvelopeRecord, error)

	// ByID returns the single message with the given proxy id, or
	// ok=false if none has been captured.
	ByID(ctx context.Context, proxyID uuid.UUID) (EnvelopeRecord, bool, error)

	// Snapshot returns the full session record as it would be persisted.
	Snapshot(ctx context.Context) (SessionRecord, error)

	// End stamps the session's ended_at time, marking it closed. Called
	// once, from the shutdown path, after the pipeline has stopped
	// forwarding. A store that has already been ended is left alone.
	End(ctx context.Context) error
}
