package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orbgate/orbgate/internal/fault"
	"github.com/orbgate/orbgate/internal/gateway"
)

// timeoutHeader carries the caller's relative roundtrip timeout in
// milliseconds, the closest HTTP analogue of the IIOP timeout policy.
const timeoutHeader = "X-Timeout-Ms"

// callerHeader carries the opaque caller identity.
const callerHeader = "X-Caller-Identity"

// CallHandler decodes one positional call and hands it to the gateway.
// The body is a JSON array of arguments; an empty body means no arguments.
func CallHandler(gw *gateway.Gateway, iface string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "interface") != iface {
			writeException(w, fault.New(fault.UnknownOperation,
				"interface %q is not served by this gateway", chi.URLParam(r, "interface")))
			return
		}
		operation := chi.URLParam(r, "operation")

		var args []any
		if r.ContentLength != 0 {
			dec := json.NewDecoder(r.Body)
			dec.UseNumber()
			if err := dec.Decode(&args); err != nil {
				writeException(w, fault.New(fault.InvalidArgument, "body must be a JSON array of arguments"))
				return
			}
		}

		ctx := r.Context()
		if v := r.Header.Get(timeoutHeader); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms <= 0 {
				writeException(w, fault.New(fault.InvalidArgument, "invalid %s header", timeoutHeader))
				return
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
			defer cancel()
		}

		cc := gateway.CallContext{Caller: r.Header.Get(callerHeader)}
		if cc.Caller == "" {
			cc.Caller = r.RemoteAddr
		}

		result, err := gw.HandleCall(ctx, cc, operation, args)
		if err != nil {
			f := fault.As(err)
			if f == nil {
				f = fault.New(fault.DownstreamFault, "%v", err)
			}
			writeException(w, f)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	}
}
