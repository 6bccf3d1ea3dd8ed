// Package service contains the core proxy service implementation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// ProxyService is the inbound-port implementation that owns a single
// client/server Pipeline for the lifetime of one connection. It exists
// so cmd/ and the admin HTTP surface have a single handle to start and
// stop proxying without reaching into the domain pipeline directly.
type ProxyService struct {
	pipeline *proxy.Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	started bool
}

// NewProxyService creates a ProxyService wrapping an already-wired
// Pipeline. Construction of the pipeline's Client/Server adapters,
// Engine, Capture store, and Observer is the caller's responsibility
// (typically cmd/wiretap's start command) since it depends on which
// transport and persistence backend were configured.
func NewProxyService(pipeline *proxy.Pipeline, logger *slog.Logger) *ProxyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyService{
		pipeline: pipeline,
		logger:   logger,
	}
}

// Start begins proxying between client and upstream server. It blocks
// until the context is cancelled, Close is called, or the pipeline
// returns an error. Implements inbound.ProxyService.
func (s *ProxyService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("proxy service already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	defer close(s.done)
	defer func() { _ = s.pipeline.Client.Close() }()
	defer func() { _ = s.pipeline.Server.Close() }()

	err := s.pipeline.Run(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("pipeline exited with error", "error", err)
	}

	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
	return err
}

// Close cancels the running pipeline and waits for Start to return.
// Implements inbound.ProxyService. Safe to call before Start, in which
// case it is a no-op.
func (s *ProxyService) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Pipeline exposes the underlying pipeline so the admin HTTP surface can
// reach its Engine and ReplayEngine without this service re-exporting
// every method by hand.
func (s *ProxyService) Pipeline() *proxy.Pipeline {
	return s.pipeline
}
