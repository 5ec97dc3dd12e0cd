package agents

import "encoding/json"

// Wire messages exchanged with target-side agents over the websocket
// control plane. Every frame carries a type tag.

type RegisterMessage struct {
	Type           string   `json:"type"`
	AgentID        string   `json:"agent_id"`
	AgentKey       string   `json:"agent_key"`
	Interfaces     []string `json:"interfaces"`
	MaxConcurrency int      `json:"max_concurrency"`
}

type HeartbeatMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// CallRequestMessage dispatches one translated call to an agent.
type CallRequestMessage struct {
	Type      string         `json:"type"`
	CallID    string         `json:"call_id"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload"`
}

// CallResultMessage carries a successful structured response back.
type CallResultMessage struct {
	Type   string          `json:"type"`
	CallID string          `json:"call_id"`
	Data   json.RawMessage `json:"data"`
}

// CallErrorMessage carries the target's own fault back.
type CallErrorMessage struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CancelCallMessage asks an agent to abandon an in-flight call. Delivery
// is best effort; the gateway stops waiting regardless.
type CancelCallMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}
