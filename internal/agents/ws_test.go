package agents

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialAgent(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestWSRegisterAndDispatch(t *testing.T) {
	reg := NewRegistry()
	srv := httptest.NewServer(WSHandler(reg, "sekrit"))
	defer srv.Close()

	c := dialAgent(t, srv.URL+"?agent_key=sekrit")
	defer c.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rm, _ := json.Marshal(RegisterMessage{
		Type: "register", AgentID: "a1", AgentKey: "sekrit",
		Interfaces: []string{"GreeterService"},
	})
	if err := c.Write(ctx, websocket.MessageText, rm); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Agent loop: answer the first call_request.
	go func() {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var cr CallRequestMessage
		if json.Unmarshal(data, &cr) != nil || cr.Type != "call_request" {
			return
		}
		res, _ := json.Marshal(CallResultMessage{
			Type: "call_result", CallID: cr.CallID,
			Data: json.RawMessage(`{"message":"Hello, Bob"}`),
		})
		_ = c.Write(ctx, websocket.MessageText, res)
	}()

	// Registration is asynchronous from the client's perspective.
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("agent never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d := &Dispatcher{Reg: reg, Interface: "GreeterService"}
	resp, err := d.Invoke(ctx, "GetMessage", map[string]any{"name": "Bob"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp["message"] != "Hello, Bob" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestWSRejectsBadKey(t *testing.T) {
	reg := NewRegistry()
	srv := httptest.NewServer(WSHandler(reg, "sekrit"))
	defer srv.Close()

	// The query key passes the pre-upgrade check; the register frame then
	// presents the wrong key and must be refused.
	c := dialAgent(t, srv.URL+"?agent_key=sekrit")
	defer c.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rm, _ := json.Marshal(RegisterMessage{
		Type: "register", AgentID: "a1", AgentKey: "wrong",
		Interfaces: []string{"GreeterService"},
	})
	if err := c.Write(ctx, websocket.MessageText, rm); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := c.Read(ctx); err == nil {
		t.Fatal("expected connection closed for bad key")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected no registered agents, got %d", reg.Len())
	}
}
