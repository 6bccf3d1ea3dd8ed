package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

func holdTestMessage(env *testEnv) *proxy.HeldMessage {
	method := "tools/call"
	msg := &proxy.ProxyMessage{
		ProxyID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		Direction: proxy.ClientToServer,
		Transport: proxy.TransportStdio,
		Raw:       json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`),
		Method:    &method,
	}
	return env.engine.Hold(msg)
}

func TestHeld_List(t *testing.T) {
	env := setupTestEnv(t)
	held := holdTestMessage(env)
	defer func() { _ = env.engine.Release(held.Message.ProxyID, proxy.ReleaseDecision{Action: proxy.ActionForward}) }()

	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, authedRequest(env, http.MethodGet, "/v1/held", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp []heldMessageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].ProxyID != held.Message.ProxyID.String() {
		t.Fatalf("unexpected held list: %+v", resp)
	}
}

func TestHeld_ReleaseForward(t *testing.T) {
	env := setupTestEnv(t)
	held := holdTestMessage(env)

	done := make(chan proxy.ReleaseDecision, 1)
	go func() { done <- held.Wait() }()

	body, _ := json.Marshal(releaseRequest{Action: "forward"})
	target := "/v1/held/" + held.Message.ProxyID.String() + "/release"

	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, authedRequest(env, http.MethodPost, target, body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	select {
	case decision := <-done:
		if decision.Action != proxy.ActionForward {
			t.Errorf("action = %q, want forward", decision.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("release did not unblock Wait()")
	}
}

func TestHeld_ReleaseModifyWithoutReplacementFails(t *testing.T) {
	env := setupTestEnv(t)
	held := holdTestMessage(env)
	defer func() { _ = env.engine.Release(held.Message.ProxyID, proxy.ReleaseDecision{Action: proxy.ActionForward}) }()

	body, _ := json.Marshal(releaseRequest{Action: "modify"})
	target := "/v1/held/" + held.Message.ProxyID.String() + "/release"

	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, authedRequest(env, http.MethodPost, target, body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHeld_ReleaseUnknownProxyID(t *testing.T) {
	env := setupTestEnv(t)
	body, _ := json.Marshal(releaseRequest{Action: "drop"})
	target := "/v1/held/" + uuid.New().String() + "/release"

	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, authedRequest(env, http.MethodPost, target, body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
