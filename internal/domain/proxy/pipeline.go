package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
	"github.com/wiretap-mcp/wiretap/internal/port/outbound"
)

// Capture is the subset of capture.Store the pipeline needs, kept as a
// local interface so this package does not import the adapter that
// implements it.
type Capture interface {
	Append(ctx context.Context, record capture.EnvelopeRecord) error
}

// Pipeline wires one client-facing adapter to one server-facing adapter
// and runs the two forward loops described in spec.md §4.4: read,
// classify, correlate, optionally hold, write. It is the unit a
// ProxyService starts per client connection.
type Pipeline struct {
	Client    outbound.TransportAdapter
	Server    outbound.TransportAdapter
	Engine    *Engine
	Capture   Capture
	Observer  Observer
	Transport Transport
	Logger    *slog.Logger

	correlator *correlator
	sequence   atomic.Uint64
	replay     *ReplayEngine
}

// SetReplay attaches a ReplayEngine so the server->client forward loop
// can deliver correlated responses to outstanding replays. Must be
// called before Run; the replay engine is itself constructed from this
// pipeline, so the two-step wiring is unavoidable.
func (p *Pipeline) SetReplay(r *ReplayEngine) {
	p.replay = r
}

// NewPipeline wires a pipeline from its dependencies. Capture and
// Observer may be nil; nil Observer is treated as NopObserver.
func NewPipeline(client, server outbound.TransportAdapter, engine *Engine, store Capture, observer Observer, transport Transport, logger *slog.Logger) *Pipeline {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Client:     client,
		Server:     server,
		Engine:     engine,
		Capture:    store,
		Observer:   observer,
		Transport:  transport,
		Logger:     logger,
		correlator: newCorrelator(),
	}
}

// Run blocks until both forward loops exit, which happens when either
// adapter's Read or Write returns an error (including a cancelled
// context), or ctx itself is cancelled. The first error observed from
// either loop cancels its sibling and is returned; a shutdown caused
// purely by ctx cancellation returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	parentCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// On shutdown, release every held message with forward so a loop
	// blocked waiting on a release can exit.
	go func() {
		<-ctx.Done()
		p.Engine.SetMode(Passthrough)
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.forward(ctx, p.Client, p.Server, ClientToServer); err != nil && !isShutdown(err) {
			errCh <- fmt.Errorf("client->server: %w", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.forward(ctx, p.Server, p.Client, ServerToClient); err != nil && !isShutdown(err) {
			errCh <- fmt.Errorf("server->client: %w", err)
			cancel()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case err := <-errCh:
		cancel()
		<-done
		return err
	}

	select {
	case err := <-errCh:
		return err
	default:
	}

	return parentCtx.Err()
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// forward runs one direction's read-classify-correlate-hold-write loop
// until src.Read errors or ctx is cancelled.
func (p *Pipeline) forward(ctx context.Context, src, dst outbound.TransportAdapter, direction Direction) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := src.Read(ctx)
		if err != nil {
			return NewTransportError("read", err)
		}

		msg := &ProxyMessage{
			ProxyID:   uuid.New(),
			Sequence:  p.sequence.Add(1) - 1,
			Timestamp: time.Now().UTC(),
			Direction: direction,
			Transport: p.Transport,
			Raw:       append([]byte(nil), raw...),
		}
		kind := Classify(msg.Raw)
		msg.JSONRPCID = ExtractID(msg.Raw)
		msg.Method = ExtractMethod(msg.Raw)

		if corr := p.correlator.observe(kind, msg.JSONRPCID, msg.ProxyID, p.logCollision); corr != nil {
			msg.CorrelatedID = corr
			if p.replay != nil && (kind == KindResponse || kind == KindError) {
				if p.replay.Resolve(*corr, msg.Raw) {
					p.appendCapture(ctx, msg, kind)
					continue
				}
			}
		}

		p.safeObserve("OnReceived", func() { p.Observer.OnReceived(msg) })

		outMsg, dropped, err := p.applyIntercept(msg)
		if err != nil {
			return err
		}
		if dropped {
			p.appendCapture(ctx, msg, kind)
			continue
		}

		if err := dst.Write(ctx, outMsg.Raw); err != nil {
			return NewTransportError("write", err)
		}
		p.appendCapture(ctx, outMsg, kind)
		p.safeObserve("OnForwarded", func() { p.Observer.OnForwarded(outMsg) })
	}
}

// applyIntercept decides what to forward for msg: straight through, a
// rule-decided action, or the operator's eventual decision after a
// Hold/Wait round trip. The second return is true when the message is
// dropped: it is not forwarded, and the caller still captures it.
func (p *Pipeline) applyIntercept(msg *ProxyMessage) (*ProxyMessage, bool, error) {
	hold, ruleAction, ruleMatched := p.Engine.ShouldHold(msg)
	if ruleMatched {
		return p.applyDecision(msg, ReleaseDecision{Action: ruleAction})
	}
	if !hold {
		return msg, false, nil
	}

	held := p.Engine.Hold(msg)
	p.safeObserve("OnHeld", func() { p.Observer.OnHeld(held) })
	decision := held.Wait()
	return p.applyDecision(msg, decision)
}

func (p *Pipeline) applyDecision(msg *ProxyMessage, decision ReleaseDecision) (*ProxyMessage, bool, error) {
	switch decision.Action {
	case ActionDrop, "":
		if decision.Action == "" {
			return msg, false, nil
		}
		return nil, true, nil
	case ActionModify:
		modified := *msg
		modified.OriginalRaw = msg.Raw
		modified.Raw = decision.ModifiedRaw
		modified.Modified = true
		return &modified, false, nil
	default:
		return msg, false, nil
	}
}

func (p *Pipeline) appendCapture(ctx context.Context, msg *ProxyMessage, kind Kind) {
	if p.Capture == nil {
		return
	}
	record := capture.EnvelopeRecord{
		ProxyID:      msg.ProxyID,
		Sequence:     msg.Sequence,
		Timestamp:    msg.Timestamp,
		Direction:    msg.Direction.String(),
		Transport:    string(msg.Transport),
		Kind:         kind.String(),
		Method:       msg.Method,
		JSONRPCID:    msg.JSONRPCID,
		CorrelatedID: msg.CorrelatedID,
		Raw:          msg.Raw,
		Modified:     msg.Modified,
		OriginalRaw:  msg.OriginalRaw,
	}
	if err := p.Capture.Append(ctx, record); err != nil {
		p.Logger.Warn("capture append failed", "proxy_id", msg.ProxyID, "error", err)
	}
}

func (p *Pipeline) logCollision(key string, previous, next uuid.UUID) {
	p.Logger.Warn("jsonrpc id collision across in-flight requests, second write wins",
		"jsonrpc_id", key, "previous_proxy_id", previous, "next_proxy_id", next)
}

// safeObserve recovers a panicking Observer callback so a misbehaving UI
// cannot take the pipeline down with it.
func (p *Pipeline) safeObserve(callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("observer callback panicked", "callback", callback, "error", &ObserverError{Callback: callback, Recovered: r})
		}
	}()
	fn()
}
