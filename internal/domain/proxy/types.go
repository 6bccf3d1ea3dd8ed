package proxy

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Direction indicates which way a message is flowing through the proxy.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

// String renders the direction the way it appears in logs and in the
// persisted session format.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client_to_server"
	case ServerToClient:
		return "server_to_client"
	default:
		return "unknown"
	}
}

// Opposite returns the direction a correlated response is expected on.
func (d Direction) Opposite() Direction {
	if d == ClientToServer {
		return ServerToClient
	}
	return ClientToServer
}

// Transport names the wire transport a message travelled over.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

// ProxyMessage is the immutable envelope every message crossing the
// pipeline is wrapped in. Every field but CorrelatedID, Modified, and
// OriginalRaw is set once, at read time, and never changes; CorrelatedID
// may be set exactly once, by the opposite forward loop, when a matching
// response arrives. Modified and OriginalRaw are set together, once, by
// the loop that holds the message, when the operator's action is modify.
type ProxyMessage struct {
	ProxyID      uuid.UUID
	Sequence     uint64
	Timestamp    time.Time
	Direction    Direction
	Transport    Transport
	Raw          json.RawMessage
	JSONRPCID    json.RawMessage // nil for notifications
	Method       *string         // nil for responses/errors
	CorrelatedID *uuid.UUID      // set only on a matched response/error
	Modified     bool
	OriginalRaw  json.RawMessage // present iff Modified
}

// Kind classifies the wrapped envelope.
func (m *ProxyMessage) Kind() Kind {
	return Classify(m.Raw)
}

// Action is the operator's disposition for a held message.
type Action string

const (
	ActionForward Action = "forward"
	ActionModify  Action = "modify"
	ActionDrop    Action = "drop"
)

// ReleaseDecision carries the operator's action and, for modify, the
// replacement envelope. It is delivered over a held message's release
// channel as a single value, which is what makes "set the action, then
// fire the signal" atomic instead of two separate steps that could race.
type ReleaseDecision struct {
	Action      Action
	ModifiedRaw json.RawMessage // required iff Action == ActionModify
}

// HeldMessage pairs a captured ProxyMessage with the single-shot channel
// the waiting forward loop blocks on. It exists from the moment the
// intercept engine accepts it until release fires exactly once.
type HeldMessage struct {
	Message  *ProxyMessage
	release  chan ReleaseDecision
	released bool // guarded by the engine's mutex, not read elsewhere
}

// Observer is the callback surface through which the pipeline announces
// lifecycle events to a UI or other consumer. All three methods are
// invoked synchronously on the forward-loop goroutine; implementations
// must not block for long, and must not panic — the pipeline recovers
// but a panicking observer still loses whatever it was about to do.
type Observer interface {
	OnReceived(msg *ProxyMessage)
	OnHeld(held *HeldMessage)
	OnForwarded(msg *ProxyMessage)
}

// NopObserver implements Observer with no-ops, used when no UI is attached.
type NopObserver struct{}

func (NopObserver) OnReceived(*ProxyMessage) {}
func (NopObserver) OnHeld(*HeldMessage)      {}
func (NopObserver) OnForwarded(*ProxyMessage) {}

var _ Observer = NopObserver{}

// CompositeObserver fans every callback out to each of Observers, in
// order. A panicking member observer is still caught by the pipeline's
// own recover (safeObserve wraps the whole callback, not each member
// individually), so one misbehaving observer can still take down the
// ones after it in the list for that single event.
type CompositeObserver struct {
	Observers []Observer
}

func (c CompositeObserver) OnReceived(msg *ProxyMessage) {
	for _, o := range c.Observers {
		o.OnReceived(msg)
	}
}

func (c CompositeObserver) OnHeld(held *HeldMessage) {
	for _, o := range c.Observers {
		o.OnHeld(held)
	}
}

func (c CompositeObserver) OnForwarded(msg *ProxyMessage) {
	for _, o := range c.Observers {
		o.OnForwarded(msg)
	}
}

var _ Observer = CompositeObserver{}
