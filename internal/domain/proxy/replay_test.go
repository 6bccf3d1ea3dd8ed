package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
	"github.com/wiretap-mcp/wiretap/internal/domain/ratelimit"
)

func newTestPipelineForReplay(server *fakeAdapter) *Pipeline {
	return NewPipeline(newFakeAdapter(), server, NewEngine(), nil, NopObserver{}, TransportStdio, slog.New(slog.DiscardHandler))
}

// fakeCapture records every appended envelope, used to verify the replay
// engine captures its synthetic outgoing request.
type fakeCapture struct {
	mu      sync.Mutex
	records []capture.EnvelopeRecord
}

func (f *fakeCapture) Append(_ context.Context, record capture.EnvelopeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeCapture) snapshot() []capture.EnvelopeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capture.EnvelopeRecord, len(f.records))
	copy(out, f.records)
	return out
}

func TestReplayEngine_ReplayResolvesOnMatchingResponse(t *testing.T) {
	server := newFakeAdapter()
	p := newTestPipelineForReplay(server)
	re := NewReplayEngine(server, p, nil, ratelimit.RateLimitConfig{}, time.Second)

	original := json.RawMessage(`{"jsonrpc":"2.0","id":"orig-1","method":"tools/call"}`)

	type replayResult struct {
		resp json.RawMessage
		err  error
	}
	resultCh := make(chan replayResult, 1)
	go func() {
		resp, err := re.Replay(context.Background(), original, false)
		resultCh <- replayResult{resp, err}
	}()

	var sentID json.RawMessage
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if written := server.written(); len(written) > 0 {
			var env map[string]json.RawMessage
			if err := json.Unmarshal(written[0], &env); err != nil {
				t.Fatalf("unmarshal replayed envelope: %v", err)
			}
			sentID = env["id"]
			break
		}
		time.Sleep(time.Millisecond)
	}
	if sentID == nil {
		t.Fatal("replay never wrote the rewritten envelope")
	}
	if string(sentID) == `"orig-1"` {
		t.Error("replay reused the original id instead of issuing a fresh one")
	}

	// The pipeline's server->client forward loop would normally observe
	// the response's id against the shared correlator to recover the
	// replay's proxy id, then call Resolve with it. Reproduce that path
	// directly since no forward loop is running in this test.
	matched := p.correlator.observe(KindResponse, sentID, uuid.New(), nil)
	if matched == nil {
		t.Fatal("correlator has no entry for the replayed id")
	}

	respRaw := json.RawMessage(`{"jsonrpc":"2.0","id":` + string(sentID) + `,"result":{"ok":true}}`)
	if !re.Resolve(*matched, respRaw) {
		t.Fatal("Resolve() = false, want true for a pending replay")
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			t.Fatalf("Replay() error = %v", result.err)
		}
		if string(result.resp) != string(respRaw) {
			t.Errorf("Replay() = %s, want %s", result.resp, respRaw)
		}
	case <-time.After(time.Second):
		t.Fatal("Replay() never returned after Resolve")
	}
}

func TestReplayEngine_ReplayAppendsSyntheticRequestToCapture(t *testing.T) {
	server := newFakeAdapter()
	store := &fakeCapture{}
	p := NewPipeline(newFakeAdapter(), server, NewEngine(), store, NopObserver{}, TransportStdio, slog.New(slog.DiscardHandler))
	re := NewReplayEngine(server, p, nil, ratelimit.RateLimitConfig{}, 20*time.Millisecond)

	original := json.RawMessage(`{"jsonrpc":"2.0","id":"orig-1","method":"tools/call","params":{"a":1}}`)
	if _, err := re.Replay(context.Background(), original, true); err == nil {
		t.Fatal("Replay() error = nil, want ReplayTimeout (no response is ever delivered in this test)")
	}

	records := store.snapshot()
	if len(records) != 1 {
		t.Fatalf("capture records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Direction != ClientToServer.String() {
		t.Errorf("Direction = %q, want %q", rec.Direction, ClientToServer.String())
	}
	if rec.Kind != KindRequest.String() {
		t.Errorf("Kind = %q, want %q", rec.Kind, KindRequest.String())
	}
	if string(rec.Raw) == string(original) {
		t.Error("captured raw still carries the original jsonrpc id, want the rewritten envelope")
	}
}

func TestReplayEngine_TimeoutLeavesIDPending(t *testing.T) {
	server := newFakeAdapter()
	p := newTestPipelineForReplay(server)
	re := NewReplayEngine(server, p, nil, ratelimit.RateLimitConfig{}, 20*time.Millisecond)

	original := json.RawMessage(`{"jsonrpc":"2.0","id":"orig-1","method":"tools/call"}`)
	_, err := re.Replay(context.Background(), original, false)
	if err == nil {
		t.Fatal("Replay() error = nil, want ReplayTimeout")
	}
	if _, ok := err.(*ReplayTimeout); !ok {
		t.Errorf("Replay() error type = %T, want *ReplayTimeout", err)
	}

	written := server.written()
	if len(written) == 0 {
		t.Fatal("replay never wrote the rewritten envelope")
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(written[0], &env); err != nil {
		t.Fatalf("unmarshal replayed envelope: %v", err)
	}

	// A timed-out replay must not forget its substituted id: only the
	// normal correlation step may retire it, so a late response can still
	// correlate instead of being silently dropped.
	if !p.correlator.has(env["id"]) {
		t.Error("correlator.has(id) = false after timeout, want true: timeout must not forget the id")
	}
}

func TestReplayEngine_ResolveWithNoWaiterIsNoop(t *testing.T) {
	server := newFakeAdapter()
	p := newTestPipelineForReplay(server)
	re := NewReplayEngine(server, p, nil, ratelimit.RateLimitConfig{}, time.Second)

	if re.Resolve(uuid.New(), json.RawMessage(`{}`)) {
		t.Error("Resolve() = true for an id with no registered waiter, want false")
	}
}

type denyingLimiter struct{}

func (denyingLimiter) Allow(context.Context, string, ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	return ratelimit.RateLimitResult{Allowed: false, RetryAfter: time.Second}, nil
}

func TestReplayEngine_RateLimitedReplayIsRejected(t *testing.T) {
	server := newFakeAdapter()
	p := newTestPipelineForReplay(server)
	re := NewReplayEngine(server, p, denyingLimiter{}, ratelimit.RateLimitConfig{Rate: 1, Burst: 1, Period: time.Second}, time.Second)

	_, err := re.Replay(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), false)
	if err == nil {
		t.Fatal("Replay() error = nil, want a rate limit rejection")
	}
	if len(server.written()) != 0 {
		t.Error("rate-limited replay still wrote to the server adapter")
	}
}
