// Package sse provides the client-facing SSE transport adapter: client
// requests arrive as POSTed JSON-RPC envelopes, server-initiated
// envelopes (responses, notifications) are pushed down a single
// server-sent-events stream. One Adapter instance serves exactly one
// client/server pair, per the proxy's single-pair scope.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/wiretap-mcp/wiretap/internal/port/outbound"
)

const (
	maxEnvelopeBytes = 1 << 20
	pingInterval     = 20 * time.Second
)

// Adapter is the client-facing half of the proxy when it is reached over
// HTTP: POST /events delivers client->server envelopes, GET /events opens
// the SSE stream carrying server->client envelopes, GET /events/ping
// upgrades to a plain WebSocket used only as a connection-liveness probe
// alongside the SSE stream (the wire format for MCP traffic itself stays
// SSE; the websocket carries no envelope data).
type Adapter struct {
	addr   string
	logger *slog.Logger
	server *http.Server

	incoming chan json.RawMessage
	closeCh  chan struct{}
	closeOne sync.Once

	subsMu sync.Mutex
	subs   map[chan json.RawMessage]struct{}
}

// NewAdapter creates an SSE adapter that will listen on addr once Serve
// is called.
func NewAdapter(addr string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		addr:     addr,
		logger:   logger,
		incoming: make(chan json.RawMessage, 64),
		closeCh:  make(chan struct{}),
		subs:     make(map[chan json.RawMessage]struct{}),
	}
}

// Serve starts the HTTP server and blocks until ctx is cancelled or the
// server fails to start. Run this in its own goroutine before handing the
// Adapter to a Pipeline, since Read/Write only make sense once a client
// has connected.
func (a *Adapter) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/events/ping", a.handlePing)

	a.server = &http.Server{Addr: a.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("sse adapter listening", "addr", a.addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handlePost(w, r)
	case http.MethodGet:
		a.handleStream(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *Adapter) handlePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEnvelopeBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	envelope := json.RawMessage(append([]byte(nil), body...))
	select {
	case a.incoming <- envelope:
		w.WriteHeader(http.StatusAccepted)
	case <-a.closeCh:
		http.Error(w, "adapter closed", http.StatusServiceUnavailable)
	case <-r.Context().Done():
	}
}

func (a *Adapter) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan json.RawMessage, 32)
	a.subsMu.Lock()
	a.subs[ch] = struct{}{}
	a.subsMu.Unlock()
	defer func() {
		a.subsMu.Lock()
		delete(a.subs, ch)
		a.subsMu.Unlock()
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.closeCh:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case envelope := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", envelope); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handlePing upgrades to a bare WebSocket solely so a client can hold a
// cheap, context-aware connection open; a failed or closed read tells the
// operator's dashboard the underlying network path died even during a
// quiet period with no JSON-RPC traffic to carry that signal.
func (a *Adapter) handlePing(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Read blocks until the next client-submitted envelope arrives via POST.
func (a *Adapter) Read(ctx context.Context) (json.RawMessage, error) {
	select {
	case envelope := <-a.incoming:
		return envelope, nil
	case <-a.closeCh:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write broadcasts envelope to every currently-open SSE stream (normally
// exactly one, per the single-pair scope).
func (a *Adapter) Write(ctx context.Context, envelope json.RawMessage) error {
	msg := json.RawMessage(append([]byte(nil), bytes.TrimSpace(envelope)...))

	a.subsMu.Lock()
	subs := make([]chan json.RawMessage, 0, len(a.subs))
	for ch := range a.subs {
		subs = append(subs, ch)
	}
	a.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			a.logger.Warn("sse subscriber slow, dropping envelope")
		}
	}
	return nil
}

// Close shuts down the HTTP server and unblocks any pending Read/Write.
func (a *Adapter) Close() error {
	a.closeOne.Do(func() { close(a.closeCh) })
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

var _ outbound.TransportAdapter = (*Adapter)(nil)
