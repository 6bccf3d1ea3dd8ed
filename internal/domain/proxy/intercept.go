package proxy

import (
	"sync"

	"github.com/google/uuid"
)

// Mode is the intercept engine's operating regime.
type Mode int

const (
	Passthrough Mode = iota
	Intercept
)

func (m Mode) String() string {
	if m == Intercept {
		return "intercept"
	}
	return "passthrough"
}

// Rule is an operator-authored auto-decision consulted before a message
// would otherwise be held in Intercept mode. A Rule that matches a message
// pre-decides forward or drop without ever constructing a HeldMessage or
// invoking on_held; a Rule that doesn't match defers to the engine's
// normal hold behavior. The CEL-backed implementation lives in
// internal/adapter/outbound/celrules, kept out of this package to avoid a
// domain->adapter import.
type Rule interface {
	// Evaluate returns the decided action and true if the rule matches msg,
	// or ("", false) to defer.
	Evaluate(msg *ProxyMessage) (Action, bool)
}

// Engine is the hold/release state machine described in spec.md §4.3.
// Every held record is released exactly once; the release channel only
// ever receives a value after the action field has been set, because
// ReleaseDecision bundles both into one send.
type Engine struct {
	mu    sync.Mutex
	mode  Mode
	held  map[uuid.UUID]*HeldMessage
	order []uuid.UUID // insertion order, for passthrough's ordered release
	rules []Rule
}

// NewEngine creates an engine starting in Passthrough mode.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{
		held:  make(map[uuid.UUID]*HeldMessage),
		rules: rules,
	}
}

// Mode returns the current operating mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode transitions the engine. Intercept->Passthrough releases every
// currently held message with ActionForward, in insertion order, before
// returning; Passthrough->Intercept takes effect for future reads only
// ("pending messages continue to flow until the next read" per spec.md).
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	if e.mode == mode {
		e.mu.Unlock()
		return
	}
	e.mode = mode
	var toRelease []*HeldMessage
	if mode == Passthrough {
		toRelease = make([]*HeldMessage, 0, len(e.order))
		for _, id := range e.order {
			if h, ok := e.held[id]; ok {
				toRelease = append(toRelease, h)
			}
		}
		e.held = make(map[uuid.UUID]*HeldMessage)
		e.order = nil
	}
	e.mu.Unlock()

	for _, h := range toRelease {
		e.release(h, ReleaseDecision{Action: ActionForward})
	}
}

// ShouldHold reports whether msg must be held. A matching Rule short
// circuits this to false even in Intercept mode, returning the rule's
// decided action via ok=true so the pipeline can apply it directly
// without ever holding the message.
func (e *Engine) ShouldHold(msg *ProxyMessage) (hold bool, ruleAction Action, ruleMatched bool) {
	e.mu.Lock()
	mode := e.mode
	rules := e.rules
	e.mu.Unlock()

	if mode != Intercept {
		return false, "", false
	}
	for _, r := range rules {
		if action, ok := r.Evaluate(msg); ok {
			return false, action, true
		}
	}
	return true, "", false
}

// Hold registers msg as held and returns the record the caller should
// block on. The returned HeldMessage's release channel receives exactly
// one ReleaseDecision.
func (e *Engine) Hold(msg *ProxyMessage) *HeldMessage {
	h := &HeldMessage{
		Message: msg,
		release: make(chan ReleaseDecision, 1),
	}
	e.mu.Lock()
	e.held[msg.ProxyID] = h
	e.order = append(e.order, msg.ProxyID)
	e.mu.Unlock()
	return h
}

// Release sets h's action and fires its release signal exactly once. A
// modify action with no replacement envelope is rejected with
// InvalidAction and h remains held. Releasing an id that isn't currently
// held (already released, or never held) is a no-op reported as
// InvalidAction.
func (e *Engine) Release(proxyID uuid.UUID, decision ReleaseDecision) error {
	if decision.Action == ActionModify && len(decision.ModifiedRaw) == 0 {
		return NewInvalidAction(-32602, "modify action requires a replacement envelope")
	}

	e.mu.Lock()
	h, ok := e.held[proxyID]
	if !ok {
		e.mu.Unlock()
		return NewInvalidAction(-32000, "message is not currently held")
	}
	delete(e.held, proxyID)
	for i, id := range e.order {
		if id == proxyID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.release(h, decision)
	return nil
}

// release performs the actual single-shot send, shared by Release and by
// SetMode's passthrough sweep. Safe to call at most once per HeldMessage;
// the caller is responsible for having already removed h from the
// registry so a second Release on the same id hits the "not held" branch
// above instead of double-sending.
func (e *Engine) release(h *HeldMessage, decision ReleaseDecision) {
	h.release <- decision
}

// Held returns a snapshot of currently waiting held records, in insertion
// order.
func (e *Engine) Held() []*HeldMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*HeldMessage, 0, len(e.order))
	for _, id := range e.order {
		if h, ok := e.held[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Wait blocks until h is released and returns the operator's decision.
func (h *HeldMessage) Wait() ReleaseDecision {
	return <-h.release
}
