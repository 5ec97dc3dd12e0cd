package agents

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/orbgate/orbgate/internal/gateway"
)

// Dispatcher implements gateway.Outbound over the agent control plane for
// one target interface. Each Invoke picks the least busy agent, sends one
// call_request frame, and waits for the matching result or error frame.
type Dispatcher struct {
	Reg       *Registry
	Interface string
}

// Invoke implements gateway.Outbound.
func (d *Dispatcher) Invoke(ctx context.Context, operation string, request map[string]any) (map[string]any, error) {
	ag, err := d.Reg.Pick(d.Interface)
	if err != nil {
		return nil, &gateway.DownstreamError{Code: "UNAVAILABLE", Message: "no agent serves interface " + d.Interface}
	}
	d.Reg.IncInFlight(ag.ID)
	defer d.Reg.DecInFlight(ag.ID)

	callID := uuid.NewString()
	ch := make(chan any, 4)
	ag.AddPending(callID, ch)
	defer ag.RemovePending(callID)

	if !ag.TrySend(CallRequestMessage{Type: "call_request", CallID: callID, Operation: operation, Payload: request}) {
		return nil, &gateway.DownstreamError{Code: "RESOURCE_EXHAUSTED", Message: "agent " + ag.ID + " is not accepting calls"}
	}

	select {
	case <-ctx.Done():
		// Best-effort abort; the agent may keep running the call if the
		// cancel frame is lost.
		ag.TrySend(CancelCallMessage{Type: "cancel_call", CallID: callID})
		return nil, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return nil, &gateway.DownstreamError{Code: "UNAVAILABLE", Message: "agent " + ag.ID + " disconnected mid-call"}
		}
		switch m := msg.(type) {
		case CallResultMessage:
			var resp map[string]any
			if err := json.Unmarshal(m.Data, &resp); err != nil {
				return nil, &gateway.DownstreamError{Message: "agent answered with a non-object body"}
			}
			return resp, nil
		case CallErrorMessage:
			return nil, &gateway.DownstreamError{Code: m.Code, Message: m.Message}
		default:
			return nil, &gateway.DownstreamError{Message: "unexpected frame from agent"}
		}
	}
}
