package agents

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/orbgate/orbgate/internal/logx"
)

// WSHandler accepts agent websocket connections. The first frame must be
// a register message carrying the shared agent key and the interfaces the
// agent serves; afterwards the connection carries heartbeats and call
// result frames inbound, call requests outbound.
func WSHandler(reg *Registry, expectedKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if provided == "" {
			provided = r.URL.Query().Get("agent_key")
		}
		if expectedKey != "" && provided != expectedKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		defer c.Close(websocket.StatusInternalError, "server error")

		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var rm RegisterMessage
		if err := json.Unmarshal(data, &rm); err != nil || rm.Type != "register" {
			c.Close(websocket.StatusPolicyViolation, "expected register")
			return
		}
		if expectedKey != "" && rm.AgentKey != expectedKey {
			c.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
		if rm.AgentID == "" || len(rm.Interfaces) == 0 {
			c.Close(websocket.StatusPolicyViolation, "register incomplete")
			return
		}

		ag := &Agent{
			ID:             rm.AgentID,
			Interfaces:     make(map[string]bool, len(rm.Interfaces)),
			MaxConcurrency: rm.MaxConcurrency,
			LastHeartbeat:  time.Now(),
			Send:           make(chan any, 32),
			Pending:        make(map[string]chan any),
		}
		for _, iface := range rm.Interfaces {
			ag.Interfaces[iface] = true
		}
		reg.Add(ag)
		logx.Log.Info().Str("agent_id", ag.ID).Str("remote_addr", r.RemoteAddr).
			Strs("interfaces", rm.Interfaces).Msg("agent registered")
		defer func() {
			reg.Remove(ag.ID)
			ag.Close()
			logx.Log.Info().Str("agent_id", ag.ID).Msg("agent disconnected")
		}()

		go func() {
			for msg := range ag.Send {
				b, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if err := c.Write(ctx, websocket.MessageText, b); err != nil {
					return
				}
			}
		}()

		for {
			_, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			var env struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			switch env.Type {
			case "heartbeat":
				reg.UpdateHeartbeat(ag.ID)
			case "call_result":
				var m CallResultMessage
				if err := json.Unmarshal(msg, &m); err == nil {
					ag.Deliver(m.CallID, m)
				}
			case "call_error":
				var m CallErrorMessage
				if err := json.Unmarshal(msg, &m); err == nil {
					ag.Deliver(m.CallID, m)
				}
			}
		}
	}
}
