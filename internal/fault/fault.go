// Package fault defines the normalized error record the gateway produces
// when translation or the downstream call fails, together with its rendering
// into the inbound dialect's structured-exception convention.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway fault.
type Kind string

const (
	// Build-time kinds; fatal to startup.
	SchemaMismatch   Kind = "schema_mismatch"
	TypeIncompatible Kind = "type_incompatible"

	// Per-call kinds; always recovered locally.
	UnknownOperation Kind = "unknown_operation"
	InvalidArgument  Kind = "invalid_argument"
	TimedOut         Kind = "timed_out"
	Cancelled        Kind = "cancelled"
	DownstreamFault  Kind = "downstream_fault"
)

// Fault is a normalized gateway error. Code optionally carries the
// downstream dialect's own status so it is not lost in translation.
type Fault struct {
	Kind    Kind
	Message string
	Code    string
}

func (f *Fault) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Message, f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// New builds a fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Downstream wraps a downstream failure, preserving its code.
func Downstream(code, message string) *Fault {
	return &Fault{Kind: DownstreamFault, Message: message, Code: code}
}

// As extracts a *Fault from err, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// IsBuildTime reports whether the kind may only occur while building the
// mapping table. Such faults abort startup instead of being served.
func (k Kind) IsBuildTime() bool {
	return k == SchemaMismatch || k == TypeIncompatible
}

// RepositoryID returns the CORBA system-exception repository ID used when
// surfacing the fault to an IIOP-side caller.
func (k Kind) RepositoryID() string {
	switch k {
	case UnknownOperation:
		return "IDL:omg.org/CORBA/BAD_OPERATION:1.0"
	case InvalidArgument:
		return "IDL:omg.org/CORBA/BAD_PARAM:1.0"
	case TimedOut:
		return "IDL:omg.org/CORBA/TIMEOUT:1.0"
	case Cancelled:
		return "IDL:omg.org/CORBA/TRANSIENT:1.0"
	case DownstreamFault:
		return "IDL:omg.org/CORBA/UNKNOWN:1.0"
	default:
		return "IDL:omg.org/CORBA/INTERNAL:1.0"
	}
}

// HTTPStatus maps the kind onto the HTTP status reported by the inbound
// transport when the caller speaks HTTP rather than IIOP.
func (k Kind) HTTPStatus() int {
	switch k {
	case UnknownOperation:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case TimedOut:
		return http.StatusGatewayTimeout
	case Cancelled:
		// Nginx convention for "client closed request".
		return 499
	case DownstreamFault:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
