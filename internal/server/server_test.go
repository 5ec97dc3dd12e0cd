package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/orbgate/orbgate/internal/agents"
	"github.com/orbgate/orbgate/internal/config"
	"github.com/orbgate/orbgate/internal/descriptor"
	"github.com/orbgate/orbgate/internal/gateway"
	"github.com/orbgate/orbgate/internal/mapping"
	"github.com/orbgate/orbgate/internal/serverstate"
)

func buildGateway(t *testing.T, out gateway.Outbound) *gateway.Gateway {
	t.Helper()
	source, err := descriptor.Parse([]byte(`
interface: Greeter
operations:
  - name: GetMessage
    params:
      - {name: name, type: string}
    result: string
`))
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	target, err := descriptor.Parse([]byte(`
interface: GreeterService
operations:
  - name: GetMessage
    params:
      - {name: name, type: string}
    result: string
    result_field: message
`))
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	table, err := mapping.Build(source, target, mapping.Overrides{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return gateway.New(table, out, time.Second)
}

// runAgent registers over websocket and answers every call_request with a
// greeting assembled from the payload.
func runAgent(t *testing.T, ctx context.Context, baseURL string) {
	t.Helper()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(baseURL, "http")+AgentWSPath, nil)
	if err != nil {
		t.Fatalf("agent dial: %v", err)
	}
	rm, _ := json.Marshal(agents.RegisterMessage{
		Type: "register", AgentID: "a1", Interfaces: []string{"GreeterService"},
	})
	if err := c.Write(ctx, websocket.MessageText, rm); err != nil {
		t.Fatalf("agent register: %v", err)
	}
	go func() {
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var cr agents.CallRequestMessage
			if json.Unmarshal(data, &cr) != nil || cr.Type != "call_request" {
				continue
			}
			name, _ := cr.Payload["name"].(string)
			data, _ = json.Marshal(map[string]any{"message": "Hello, " + name})
			res, _ := json.Marshal(agents.CallResultMessage{
				Type: "call_result", CallID: cr.CallID, Data: data,
			})
			if c.Write(ctx, websocket.MessageText, res) != nil {
				return
			}
		}
	}()
}

func TestServerEndToEndOverAgents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg := agents.NewRegistry()
	gw := buildGateway(t, &agents.Dispatcher{Reg: reg, Interface: "GreeterService"})
	var cfg config.ServerConfig
	cfg.SetDefaults()

	srv := httptest.NewServer(New(ctx, gw, reg, "Greeter", cfg))
	defer srv.Close()

	runAgent(t, ctx, srv.URL)
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("agent never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/rpc/Greeter/GetMessage", "application/json", strings.NewReader(`["Alice"]`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result != "Hello, Alice" {
		t.Fatalf("unexpected result %q", body.Result)
	}
}

func TestHealthzReflectsDraining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverstate.UseStore(serverstate.NewMemoryStore())
	gw := buildGateway(t, &agents.Dispatcher{Reg: agents.NewRegistry(), Interface: "GreeterService"})
	var cfg config.ServerConfig
	cfg.SetDefaults()
	srv := httptest.NewServer(New(ctx, gw, nil, "Greeter", cfg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	serverstate.StartDrain()
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverstate.UseStore(serverstate.NewMemoryStore())
	serverstate.SetState("ready")
	reg := agents.NewRegistry()
	gw := buildGateway(t, &agents.Dispatcher{Reg: reg, Interface: "GreeterService"})
	var cfg config.ServerConfig
	cfg.SetDefaults()
	srv := httptest.NewServer(New(ctx, gw, reg, "Greeter", cfg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
		Agents int    `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ready" || body.Agents != 0 {
		t.Fatalf("unexpected status body: %+v", body)
	}
}
