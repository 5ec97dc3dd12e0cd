package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbgate/orbgate/internal/descriptor"
	"github.com/orbgate/orbgate/internal/fault"
	"github.com/orbgate/orbgate/internal/mapping"
)

// fakeOutbound counts dispatches and answers from a canned script.
type fakeOutbound struct {
	calls   atomic.Int64
	lastOp  string
	lastReq map[string]any
	resp    map[string]any
	err     error
	delay   time.Duration
}

func (f *fakeOutbound) Invoke(ctx context.Context, op string, req map[string]any) (map[string]any, error) {
	f.calls.Add(1)
	f.lastOp = op
	f.lastReq = req
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func greeterTable(t *testing.T) *mapping.Table {
	t.Helper()
	source, err := descriptor.Parse([]byte(`
interface: Greeter
operations:
  - name: GetMessage
    params:
      - {name: name, type: string}
    result: string
  - name: CountedHello
    params:
      - {name: name, type: string}
      - {name: count, type: int32}
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
  - name: CountedHello
    params:
      - {name: name, type: string}
      - {name: count, type: int32}
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
	return table
}

func TestHandleCallTranslatesRoundTrip(t *testing.T) {
	out := &fakeOutbound{resp: map[string]any{"message": "Hello, Alice"}}
	gw := New(greeterTable(t), out, time.Second)

	res, err := gw.HandleCall(context.Background(), CallContext{Caller: "client-1"}, "GetMessage", []any{"Alice"})
	if err != nil {
		t.Fatalf("handle call: %v", err)
	}
	if res != "Hello, Alice" {
		t.Fatalf("expected greeting, got %v", res)
	}
	if out.lastOp != "GetMessage" {
		t.Fatalf("dispatched %q", out.lastOp)
	}
	if out.lastReq["name"] != "Alice" {
		t.Fatalf("expected name field, got %v", out.lastReq)
	}
}

func TestHandleCallUnknownOperationDispatchesNothing(t *testing.T) {
	out := &fakeOutbound{}
	gw := New(greeterTable(t), out, time.Second)

	_, err := gw.HandleCall(context.Background(), CallContext{}, "Missing", nil)
	f := fault.As(err)
	if f == nil || f.Kind != fault.UnknownOperation {
		t.Fatalf("expected unknown_operation, got %v", err)
	}
	if out.calls.Load() != 0 {
		t.Fatalf("expected zero dispatches, got %d", out.calls.Load())
	}
}

func TestHandleCallMissingArgumentDispatchesNothing(t *testing.T) {
	out := &fakeOutbound{}
	gw := New(greeterTable(t), out, time.Second)

	_, err := gw.HandleCall(context.Background(), CallContext{}, "CountedHello", []any{"Alice"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if out.calls.Load() != 0 {
		t.Fatalf("expected zero dispatches, got %d", out.calls.Load())
	}
}

func TestHandleCallTypeMismatch(t *testing.T) {
	out := &fakeOutbound{}
	gw := New(greeterTable(t), out, time.Second)

	_, err := gw.HandleCall(context.Background(), CallContext{}, "CountedHello", []any{"Alice", "three"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.InvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if out.calls.Load() != 0 {
		t.Fatalf("expected zero dispatches, got %d", out.calls.Load())
	}
}

func TestHandleCallTimedOut(t *testing.T) {
	out := &fakeOutbound{delay: time.Second, resp: map[string]any{"message": "late"}}
	gw := New(greeterTable(t), out, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.HandleCall(ctx, CallContext{}, "GetMessage", []any{"Alice"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.TimedOut {
		t.Fatalf("expected timed_out, got %v", err)
	}
}

func TestHandleCallDefaultTimeoutApplies(t *testing.T) {
	out := &fakeOutbound{delay: time.Second, resp: map[string]any{"message": "late"}}
	gw := New(greeterTable(t), out, 20*time.Millisecond)

	_, err := gw.HandleCall(context.Background(), CallContext{}, "GetMessage", []any{"Alice"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.TimedOut {
		t.Fatalf("expected timed_out from default deadline, got %v", err)
	}
}

func TestHandleCallCancelledBeforeDispatch(t *testing.T) {
	out := &fakeOutbound{}
	gw := New(greeterTable(t), out, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.HandleCall(ctx, CallContext{}, "GetMessage", []any{"Alice"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.Cancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if out.calls.Load() != 0 {
		t.Fatalf("expected zero dispatches, got %d", out.calls.Load())
	}
}

func TestHandleCallCancelledWhileAwaiting(t *testing.T) {
	out := &fakeOutbound{delay: time.Second, resp: map[string]any{"message": "late"}}
	gw := New(greeterTable(t), out, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := gw.HandleCall(ctx, CallContext{}, "GetMessage", []any{"Alice"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.Cancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancellation was not prompt")
	}
}

func TestHandleCallDownstreamFaultKeepsCode(t *testing.T) {
	out := &fakeOutbound{err: &DownstreamError{Code: "UNAVAILABLE", Message: "backend down"}}
	gw := New(greeterTable(t), out, time.Second)

	_, err := gw.HandleCall(context.Background(), CallContext{}, "GetMessage", []any{"Alice"})
	f := fault.As(err)
	if f == nil || f.Kind != fault.DownstreamFault {
		t.Fatalf("expected downstream_fault, got %v", err)
	}
	if f.Code != "UNAVAILABLE" {
		t.Fatalf("expected code preserved, got %q", f.Code)
	}
	if out.calls.Load() != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", out.calls.Load())
	}
}

func TestHandleCallNeverRetries(t *testing.T) {
	out := &fakeOutbound{err: &DownstreamError{Message: "flaky"}}
	gw := New(greeterTable(t), out, time.Second)

	_, _ = gw.HandleCall(context.Background(), CallContext{}, "GetMessage", []any{"Alice"})
	if out.calls.Load() != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", out.calls.Load())
	}
}

func TestHandleCallExtraResponseFieldsDropped(t *testing.T) {
	out := &fakeOutbound{resp: map[string]any{"message": "Hello", "trace": "abc", "cost": 1.5}}
	gw := New(greeterTable(t), out, time.Second)

	res, err := gw.HandleCall(context.Background(), CallContext{}, "GetMessage", []any{"Alice"})
	if err != nil {
		t.Fatalf("handle call: %v", err)
	}
	if res != "Hello" {
		t.Fatalf("expected scalar result, got %v", res)
	}
}
