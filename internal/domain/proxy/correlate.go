package proxy

import (
	"sync"

	"github.com/google/uuid"
)

// correlator maps an in-flight request's jsonrpc id to the ProxyID of the
// ProxyMessage that carried it, so the opposite-direction loop can later
// link a matching response/error back to it.
//
// Correlation is per-session, not per-direction: spec.md leaves it
// unspecified what happens when both directions issue a request bearing
// the same jsonrpc id, and resolves the ambiguity by letting the second
// write win — the correlator does not attempt to verify direction
// opposition, since the protocol forbids the collision and a proxy has
// no business inventing a repair for a protocol violation it is supposed
// to pass through transparently.
type correlator struct {
	mu      sync.Mutex
	pending map[string]uuid.UUID // jsonrpc id (raw JSON, as string) -> proxy id
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]uuid.UUID)}
}

// observe is called once per message, after classification. For a request
// with a non-empty jsonrpc id it registers the id. For a response or error
// whose id is present in the map, it pops the entry and returns the
// correlated proxy id.
func (c *correlator) observe(kind Kind, id []byte, proxyID uuid.UUID, logCollision func(key string, previous, next uuid.UUID)) *uuid.UUID {
	if len(id) == 0 {
		return nil
	}
	key := string(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case KindRequest:
		if prev, exists := c.pending[key]; exists && prev != proxyID && logCollision != nil {
			logCollision(key, prev, proxyID)
		}
		c.pending[key] = proxyID
		return nil
	case KindResponse, KindError:
		if match, ok := c.pending[key]; ok {
			delete(c.pending, key)
			return &match
		}
		return nil
	default:
		return nil
	}
}

// register is used by the replay engine to seed the map with a synthetic
// request's id ahead of actually writing it, so a racing response that
// arrives before replay() finishes its own bookkeeping still correlates.
func (c *correlator) register(id []byte, proxyID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[string(id)] = proxyID
}

// forget removes an id without requiring a matching response, used only
// when a replay's write to the server adapter itself fails: the request
// never went out, so there is nothing left for a response to correlate
// against. A replay that times out or is cancelled after writing leaves
// its id registered; spec.md is explicit that only the normal
// correlation step retires it.
func (c *correlator) forget(id []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, string(id))
}

// has reports whether id currently has an outstanding entry, used by the
// replay engine to pick a fresh jsonrpc id that can't collide.
func (c *correlator) has(id []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[string(id)]
	return ok
}
