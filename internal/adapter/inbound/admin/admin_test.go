package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/memory"
	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/state"
	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
	"github.com/wiretap-mcp/wiretap/internal/domain/ratelimit"
	"github.com/wiretap-mcp/wiretap/internal/service"
)

// fakeServerAdapter is a minimal outbound.TransportAdapter for tests that
// exercise the replay engine without a real subprocess or socket.
type fakeServerAdapter struct {
	writes chan json.RawMessage
	reads  chan json.RawMessage
}

func newFakeServerAdapter() *fakeServerAdapter {
	return &fakeServerAdapter{
		writes: make(chan json.RawMessage, 8),
		reads:  make(chan json.RawMessage, 8),
	}
}

func (f *fakeServerAdapter) Read(ctx context.Context) (json.RawMessage, error) {
	select {
	case msg := <-f.reads:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeServerAdapter) Write(ctx context.Context, envelope json.RawMessage) error {
	f.writes <- envelope
	return nil
}

func (f *fakeServerAdapter) Close() error { return nil }

// testEnv bundles a fully wired AdminAPIHandler and the collaborators a
// test may want to poke directly.
type testEnv struct {
	handler      *AdminAPIHandler
	engine       *proxy.Engine
	captureStore *capture.InMemoryStore
	operatorSvc  *service.OperatorService
	stateStore   *state.FileStateStore
	server       *fakeServerAdapter
	replay       *proxy.ReplayEngine
	sessionID    uuid.UUID
	cleartextKey string
	operatorID   string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	statePath := filepath.Join(t.TempDir(), "operators.json")
	stateStore := state.NewFileStateStore(statePath, logger)
	operatorSvc := service.NewOperatorService(stateStore, logger)
	if err := operatorSvc.Init(); err != nil {
		t.Fatalf("init operator service: %v", err)
	}

	ctx := context.Background()
	op, err := operatorSvc.CreateOperator(ctx, service.CreateOperatorInput{Name: "tester"})
	if err != nil {
		t.Fatalf("create operator: %v", err)
	}
	keyResult, err := operatorSvc.GenerateKey(ctx, service.GenerateKeyInput{OperatorID: op.ID, Name: "primary"})
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	engine := proxy.NewEngine()
	sessionID := uuid.New()
	captureStore := capture.NewInMemoryStore(sessionID, capture.SessionMeta{Transport: "stdio"})

	server := newFakeServerAdapter()
	client := newFakeServerAdapter()
	pipeline := proxy.NewPipeline(client, server, engine, captureStore, nil, proxy.TransportStdio, logger)

	limiter := memory.NewRateLimiter()
	t.Cleanup(limiter.Stop)
	replay := proxy.NewReplayEngine(server, pipeline, limiter, ratelimit.RateLimitConfig{Rate: 100, Burst: 100, Period: time.Minute}, time.Second)
	pipeline.SetReplay(replay)

	runCtx, cancelRun := context.WithCancel(context.Background())
	t.Cleanup(cancelRun)
	go func() { _ = pipeline.Run(runCtx) }()

	handler := NewAdminAPIHandler(
		WithEngine(engine),
		WithReplayEngine(replay),
		WithCaptureStore(captureStore),
		WithOperatorService(operatorSvc),
		WithRateLimiter(limiter, ratelimit.RateLimitConfig{Rate: 100, Burst: 100, Period: time.Minute}),
		WithSessionID(sessionID),
		WithLogger(logger),
	)

	return &testEnv{
		handler:      handler,
		engine:       engine,
		captureStore: captureStore,
		operatorSvc:  operatorSvc,
		stateStore:   stateStore,
		server:       server,
		replay:       replay,
		sessionID:    sessionID,
		cleartextKey: keyResult.CleartextKey,
		operatorID:   op.ID,
	}
}

