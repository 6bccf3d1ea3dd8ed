// Package proxy contains the core domain logic for the MCP interception
// proxy: message classification, request/response correlation, the
// hold/release intercept engine, the bidirectional pipeline, and the
// replay engine.
package proxy

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Kind classifies a decoded JSON-RPC envelope.
type Kind int

const (
	// KindUnknown is returned for bytes that match none of the four
	// JSON-RPC shapes. Classify never raises; this is its error case.
	KindUnknown Kind = iota
	KindRequest
	KindResponse
	KindError
	KindNotification
)

// String returns a human-readable name, used in log fields.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// rawEnvelope is a permissive JSON-RPC shape used as the classification
// fallback when jsonrpc.DecodeMessage rejects the bytes outright (e.g. an
// error-response whose "error" field the SDK's Response type doesn't
// tolerate in some malformed-but-decodable-by-humans form). Kept minimal
// on purpose: this is a total function, not a validator.
type rawEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Method *string         `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Classify inspects a decoded JSON-RPC envelope and reports its Kind.
// It never returns an error: envelopes that match none of the four
// shapes classify as KindUnknown. Most callers get a crisp answer via
// the MCP SDK's own Request/Response types; classifyRaw is the fallback
// for anything the SDK's stricter decoder won't accept.
func Classify(raw json.RawMessage) Kind {
	if msg, err := jsonrpc.DecodeMessage(raw); err == nil {
		switch m := msg.(type) {
		case *jsonrpc.Request:
			if m.IsCall() {
				return KindRequest
			}
			return KindNotification
		case *jsonrpc.Response:
			if m.Error != nil {
				return KindError
			}
			return KindResponse
		}
	}
	return classifyRaw(raw)
}

func classifyRaw(raw json.RawMessage) Kind {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return KindUnknown
	}
	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	switch {
	case hasID && env.Method != nil:
		return KindRequest
	case hasID && env.Error != nil:
		return KindError
	case hasID && env.Result != nil:
		return KindResponse
	case !hasID && env.Method != nil:
		return KindNotification
	default:
		return KindUnknown
	}
}

// ExtractID returns the jsonrpc "id" field verbatim as raw JSON (so a
// string id and an integer id both round-trip exactly), or nil for
// notifications and envelopes with no id. Extracted from the raw bytes
// rather than a decoded struct field: the SDK's jsonrpc.ID type does not
// marshal correctly once boxed in an interface{}, the same pitfall the
// teacher's Message.RawID works around.
func ExtractID(raw json.RawMessage) json.RawMessage {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	if len(env.ID) == 0 || string(env.ID) == "null" {
		return nil
	}
	return env.ID
}

// ExtractMethod returns the method field for requests and notifications,
// or nil for responses and errors.
func ExtractMethod(raw json.RawMessage) *string {
	if msg, err := jsonrpc.DecodeMessage(raw); err == nil {
		if req, ok := msg.(*jsonrpc.Request); ok {
			method := req.Method
			return &method
		}
		return nil
	}
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return env.Method
}
