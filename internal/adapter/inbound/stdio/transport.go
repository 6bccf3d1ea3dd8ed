// Package stdio provides the client-facing stdio transport adapter: the
// half of the proxy that talks newline-delimited JSON-RPC to the MCP
// client over the proxy process's own stdin/stdout.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
	"github.com/wiretap-mcp/wiretap/internal/port/outbound"
)

const (
	scannerInitialBufSize = 256 * 1024
	scannerMaxBufSize     = 1024 * 1024
)

// ClientAdapter exchanges newline-delimited JSON-RPC envelopes with an MCP
// client over the given reader/writer pair, normally os.Stdin/os.Stdout.
// It implements outbound.TransportAdapter.
type ClientAdapter struct {
	writer  io.Writer
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

// NewClientAdapter creates a client-facing stdio adapter over r/w.
func NewClientAdapter(r io.Reader, w io.Writer) *ClientAdapter {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBufSize), scannerMaxBufSize)
	return &ClientAdapter{
		writer:  w,
		scanner: scanner,
	}
}

// Read blocks for the next newline-delimited JSON-RPC envelope from the
// client. Returns io.EOF once the client closes its side. A line that
// does not parse as JSON is reported as a TransportError rather than
// handed to the pipeline: the classifier has no way to represent "not an
// envelope at all", and letting it through would have the pipeline
// capture and forward garbage as if it were an opaque, unrecognized
// message.
func (a *ClientAdapter) Read(ctx context.Context) (json.RawMessage, error) {
	type result struct {
		line []byte
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		if a.scanner.Scan() {
			resultCh <- result{line: append([]byte(nil), a.scanner.Bytes()...)}
			return
		}
		err := a.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		resultCh <- result{err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		if !json.Valid(r.line) {
			return nil, proxy.NewTransportError("decode", fmt.Errorf("line is not valid JSON: %q", r.line))
		}
		return json.RawMessage(r.line), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write sends envelope to the client, newline-terminated.
func (a *ClientAdapter) Write(ctx context.Context, envelope json.RawMessage) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.writer.Write(append(append([]byte(nil), envelope...), '\n'))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to client: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the adapter closed. There is nothing to release on
// os.Stdin/os.Stdout themselves; callers that pass a closable reader or
// writer are responsible for closing it independently.
func (a *ClientAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return nil
}

var _ outbound.TransportAdapter = (*ClientAdapter)(nil)
