// Package gateway translates one inbound call in the source dialect into
// one outbound call in the target dialect and translates the outcome back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/orbgate/orbgate/internal/fault"
	"github.com/orbgate/orbgate/internal/logx"
	"github.com/orbgate/orbgate/internal/mapping"
	"github.com/orbgate/orbgate/internal/metrics"
)

// Outbound is the target-dialect transport collaborator. Invoke performs
// one synchronous structured call; it must honor ctx cancellation by
// returning promptly even if the underlying transport cannot abort the
// remote call.
type Outbound interface {
	Invoke(ctx context.Context, operation string, request map[string]any) (map[string]any, error)
}

// DownstreamError is returned by Outbound implementations when the target
// answered with a fault of its own. Code carries the target dialect's
// status name so it survives translation.
type DownstreamError struct {
	Code    string
	Message string
}

func (e *DownstreamError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// State is the per-call lifecycle. Terminal states are mutually exclusive
// and each call reports exactly one of them.
type State string

const (
	StateReceived   State = "received"
	StateMapped     State = "mapped"
	StateDispatched State = "dispatched"
	StateCompleted  State = "completed"
	StateFaulted    State = "faulted"
	StateTimedOut   State = "timed_out"
	StateCancelled  State = "cancelled"
)

// CallContext is the per-invocation state owned by one call: an opaque
// caller identity plus the deadline/cancellation carried by ctx.
type CallContext struct {
	Caller string
}

// Gateway holds the read-only mapping table and the outbound transport.
// It keeps no mutable state across calls, so calls run fully in parallel.
type Gateway struct {
	table          *mapping.Table
	out            Outbound
	defaultTimeout time.Duration
}

// New constructs a Gateway. defaultTimeout applies when the inbound
// context carries no deadline of its own.
func New(table *mapping.Table, out Outbound, defaultTimeout time.Duration) *Gateway {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Gateway{table: table, out: out, defaultTimeout: defaultTimeout}
}

// call tracks one invocation through the state machine.
type call struct {
	id        string
	reqID     string
	operation string
	caller    string
	state     State
	started   time.Time
}

func (c *call) transition(s State) {
	logx.Log.Debug().Str("call_id", c.id).Str("operation", c.operation).
		Str("from", string(c.state)).Str("to", string(s)).Msg("call state")
	c.state = s
}

// finish records the terminal state exactly once and returns the outcome.
func (c *call) finish(s State, result any, err error) (any, error) {
	c.transition(s)
	dur := time.Since(c.started)
	metrics.RecordCall(c.operation, string(s))
	metrics.ObserveCallDuration(c.operation, dur)
	ev := logx.Log.Info()
	if err != nil {
		ev = logx.Log.Warn()
		if f := fault.As(err); f != nil {
			metrics.RecordFault(string(f.Kind))
			ev = ev.Str("fault", string(f.Kind))
		}
		ev = ev.Err(err)
	}
	ev.Str("request_id", c.reqID).Str("call_id", c.id).Str("operation", c.operation).
		Str("caller", c.caller).Dur("duration", dur).Str("state", string(s)).Msg("call done")
	return result, err
}

// HandleCall translates an inbound call. The returned error, when non-nil,
// always unwraps to a *fault.Fault so the inbound transport can render it
// in the source dialect's convention. The gateway never retries; retry
// policy belongs to the caller or the outbound transport.
func (g *Gateway) HandleCall(ctx context.Context, cc CallContext, operation string, args []any) (any, error) {
	c := &call{
		id:        uuid.NewString(),
		reqID:     chiMiddleware.GetReqID(ctx),
		operation: operation,
		caller:    cc.Caller,
		state:     StateReceived,
		started:   time.Now(),
	}

	op, err := g.table.Lookup(operation)
	if err != nil {
		return c.finish(StateFaulted, nil, err)
	}

	req, err := marshalArgs(op, args)
	if err != nil {
		// Nothing is dispatched for a malformed call.
		return c.finish(StateFaulted, nil, err)
	}
	c.transition(StateMapped)

	if err := ctx.Err(); err != nil {
		// Cancelled (or expired) strictly before dispatch: no outbound call.
		return c.finish(terminalBeforeDispatch(err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.defaultTimeout)
		defer cancel()
	}

	c.transition(StateDispatched)
	metrics.RecordDispatch(op.TargetName)
	resp, err := g.out.Invoke(ctx, op.TargetName, req)
	if err != nil {
		return c.finish(translateDispatchError(ctx, err))
	}

	result, err := unmarshalResult(op, resp)
	if err != nil {
		return c.finish(StateFaulted, nil, err)
	}
	return c.finish(StateCompleted, result, nil)
}

// terminalBeforeDispatch classifies a context error observed before dispatch.
func terminalBeforeDispatch(err error) (State, any, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return StateTimedOut, nil, fault.New(fault.TimedOut, "deadline elapsed before dispatch")
	}
	return StateCancelled, nil, fault.New(fault.Cancelled, "call cancelled before dispatch")
}

// translateDispatchError maps an outbound failure into the source
// dialect's fault taxonomy. A timeout is reported distinctly from argument
// faults so callers can tell "malformed call" from "target did not answer".
func translateDispatchError(ctx context.Context, err error) (State, any, error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return StateTimedOut, nil, fault.New(fault.TimedOut, "target did not answer before the deadline")
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		// The downstream call may still run if the transport cannot
		// propagate cancellation; that limitation is reported, not hidden.
		return StateCancelled, nil, fault.New(fault.Cancelled,
			"call cancelled while awaiting the target; downstream abort is best effort")
	}
	var de *DownstreamError
	if errors.As(err, &de) {
		return StateFaulted, nil, fault.Downstream(de.Code, de.Message)
	}
	return StateFaulted, nil, fault.Downstream("", fmt.Sprintf("outbound call failed: %v", err))
}
