package api

import (
	"encoding/json"
	"net/http"

	"github.com/orbgate/orbgate/internal/fault"
)

// exception is the wire shape of a fault in the source dialect: a CORBA
// system-exception record carried over HTTP.
type exception struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Completed string `json:"completed"`
}

// completionStatus mirrors the CORBA completion_status member: faults
// raised before dispatch are COMPLETED_NO, faults after dispatch may have
// executed on the target.
func completionStatus(k fault.Kind) string {
	switch k {
	case fault.UnknownOperation, fault.InvalidArgument:
		return "COMPLETED_NO"
	default:
		return "COMPLETED_MAYBE"
	}
}

func writeException(w http.ResponseWriter, f *fault.Fault) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]any{"exception": exception{
		ID:        f.Kind.RepositoryID(),
		Kind:      string(f.Kind),
		Message:   f.Message,
		Code:      f.Code,
		Completed: completionStatus(f.Kind),
	}})
}
