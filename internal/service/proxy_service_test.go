package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// chanTransport is an in-memory outbound.TransportAdapter backed by
// channels, used to drive a Pipeline end to end without real sockets or
// subprocess pipes.
type chanTransport struct {
	in     chan json.RawMessage
	out    chan json.RawMessage
	mu     sync.Mutex
	closed bool
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		in:  make(chan json.RawMessage, 16),
		out: make(chan json.RawMessage, 16),
	}
}

func (t *chanTransport) Read(ctx context.Context) (json.RawMessage, error) {
	select {
	case msg, ok := <-t.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *chanTransport) Write(ctx context.Context, envelope json.RawMessage) error {
	select {
	case t.out <- envelope:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *chanTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.in)
	}
	return nil
}

func testProxyServicePipeline() (*proxy.Pipeline, *chanTransport, *chanTransport) {
	client := newChanTransport()
	server := newChanTransport()
	engine := proxy.NewEngine()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := proxy.NewPipeline(client, server, engine, nil, nil, proxy.TransportStdio, logger)
	return pipeline, client, server
}

func TestProxyService_StartForwardsMessages(t *testing.T) {
	pipeline, client, server := testProxyServicePipeline()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProxyService(pipeline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	req := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	client.in <- req

	select {
	case got := <-server.out:
		if string(got) != string(req) {
			t.Errorf("forwarded message = %s, want %s", got, req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded message")
	}

	resp := json.RawMessage(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	server.in <- resp

	select {
	case got := <-client.out:
		if string(got) != string(resp) {
			t.Errorf("forwarded response = %s, want %s", got, resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded response")
	}

	if err := svc.Close(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Close()")
	}
}

func TestProxyService_StartTwiceErrors(t *testing.T) {
	pipeline, _, _ := testProxyServicePipeline()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProxyService(pipeline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = svc.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start() called twice should return an error")
	}

	_ = svc.Close()
}

func TestProxyService_CloseBeforeStartIsNoop(t *testing.T) {
	pipeline, _, _ := testProxyServicePipeline()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProxyService(pipeline, logger)

	if err := svc.Close(); err != nil {
		t.Fatalf("Close() before Start() should be a no-op, got: %v", err)
	}
}

func TestProxyService_ClosePropagatesToClientAdapter(t *testing.T) {
	pipeline, client, _ := testProxyServicePipeline()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProxyService(pipeline, logger)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	_ = svc.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Close()")
	}

	client.mu.Lock()
	closed := client.closed
	client.mu.Unlock()
	if !closed {
		t.Error("Close() should close the client adapter")
	}
}

func TestProxyService_PipelineAccessor(t *testing.T) {
	pipeline, _, _ := testProxyServicePipeline()
	svc := NewProxyService(pipeline, nil)
	if svc.Pipeline() != pipeline {
		t.Error("Pipeline() should return the wrapped pipeline")
	}
}
