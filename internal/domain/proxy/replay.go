package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/ratelimit"
	"github.com/wiretap-mcp/wiretap/internal/port/outbound"
)

// ReplayEngine reissues a previously captured request to the upstream
// server and waits for its matching response, used by the operator's
// "resend this request" control. It shares the pipeline's correlator so
// the replayed request's id cannot collide with one still in flight, and
// consults a rate limiter so a replay storm cannot be used to bypass
// whatever throughput limits the proxy is configured with.
type ReplayEngine struct {
	server        outbound.TransportAdapter
	pipeline      *Pipeline
	correlator    *correlator
	limiter       ratelimit.RateLimiter
	limiterKey    string
	limiterConfig ratelimit.RateLimitConfig
	timeout       time.Duration

	waitersMu sync.Mutex
	waiters   map[uuid.UUID]*Waiter
}

// NewReplayEngine creates a replay engine writing to server and sharing
// pipeline's correlation state and capture store. A nil limiter disables
// rate limiting.
func NewReplayEngine(server outbound.TransportAdapter, pipeline *Pipeline, limiter ratelimit.RateLimiter, limiterConfig ratelimit.RateLimitConfig, timeout time.Duration) *ReplayEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ReplayEngine{
		server:        server,
		pipeline:      pipeline,
		correlator:    pipeline.correlator,
		limiter:       limiter,
		limiterKey:    ratelimit.FormatKey(ratelimit.KeyTypeUser, "replay"),
		limiterConfig: limiterConfig,
		timeout:       timeout,
	}
}

// Waiter is handed to the caller so it can block for the replayed
// request's response without the ReplayEngine needing to know how
// responses are delivered back to it; the pipeline's forward loop
// resolves it via Resolve when a correlated response arrives.
type Waiter struct {
	proxyID uuid.UUID
	ch      chan json.RawMessage
}

// Resolve delivers a response envelope to a waiting replay, called from
// the pipeline's server->client forward loop when a response correlates
// to a replayed request's proxy id. A resolve with no matching waiter is
// a silent no-op.
func (r *ReplayEngine) Resolve(proxyID uuid.UUID, raw json.RawMessage) bool {
	r.waitersMu.Lock()
	w, ok := r.waiters[proxyID]
	if ok {
		delete(r.waiters, proxyID)
	}
	r.waitersMu.Unlock()
	if !ok {
		return false
	}
	w.ch <- raw
	return true
}

// Replay reissues originalRaw (a captured request envelope) with a fresh
// jsonrpc id substituted in, writes it to the server adapter, and blocks
// until either a correlated response arrives or the deadline elapses.
// modified reflects whether the operator edited the envelope before
// resubmitting it, as opposed to replaying a captured message verbatim.
//
// On timeout or cancellation the substituted id is left registered with
// the correlator: spec.md is explicit that replay never drops it
// implicitly, only the normal correlation step does, so a response that
// arrives after the deadline still correlates and flows through the
// ordinary server->client loop instead of being orphaned. A write
// failure is different: the request never left the proxy, so there is
// nothing for a later response to correlate against.
func (r *ReplayEngine) Replay(ctx context.Context, originalRaw json.RawMessage, modified bool) (json.RawMessage, error) {
	if r.limiter != nil {
		result, err := r.limiter.Allow(ctx, r.limiterKey, r.limiterConfig)
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !result.Allowed {
			return nil, fmt.Errorf("replay rate limit exceeded, retry after %s", result.RetryAfter)
		}
	}

	proxyID := uuid.New()
	newID := r.freshID()
	rewritten, err := rewriteID(originalRaw, newID)
	if err != nil {
		return nil, fmt.Errorf("rewrite replay id: %w", err)
	}

	r.correlator.register(newID, proxyID)
	w := &Waiter{proxyID: proxyID, ch: make(chan json.RawMessage, 1)}
	r.waitersMu.Lock()
	if r.waiters == nil {
		r.waiters = make(map[uuid.UUID]*Waiter)
	}
	r.waiters[proxyID] = w
	r.waitersMu.Unlock()

	msg := &ProxyMessage{
		ProxyID:   proxyID,
		Sequence:  r.pipeline.sequence.Add(1) - 1,
		Timestamp: time.Now().UTC(),
		Direction: ClientToServer,
		Transport: r.pipeline.Transport,
		Raw:       rewritten,
		JSONRPCID: newID,
		Method:    ExtractMethod(rewritten),
		Modified:  modified,
	}
	if modified {
		msg.OriginalRaw = originalRaw
	}
	r.pipeline.appendCapture(ctx, msg, KindRequest)

	if err := r.server.Write(ctx, rewritten); err != nil {
		r.correlator.forget(newID)
		r.removeWaiter(proxyID)
		return nil, NewTransportError("write", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-timer.C:
		r.removeWaiter(proxyID)
		return nil, &ReplayTimeout{ProxyID: proxyID.String()}
	case <-ctx.Done():
		r.removeWaiter(proxyID)
		return nil, ctx.Err()
	}
}

func (r *ReplayEngine) removeWaiter(proxyID uuid.UUID) {
	r.waitersMu.Lock()
	delete(r.waiters, proxyID)
	r.waitersMu.Unlock()
}

// freshID picks a jsonrpc id guaranteed not to collide with any id the
// correlator currently considers in flight.
func (r *ReplayEngine) freshID() []byte {
	for {
		candidate := []byte(`"` + uuid.New().String() + `"`)
		if !r.correlator.has(candidate) {
			return candidate
		}
	}
}

func rewriteID(raw json.RawMessage, newID []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	env["id"] = newID
	return json.Marshal(env)
}
