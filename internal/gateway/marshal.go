package gateway

import (
	"encoding/base64"
	"encoding/json"
	"math"

	"github.com/orbgate/orbgate/internal/descriptor"
	"github.com/orbgate/orbgate/internal/fault"
	"github.com/orbgate/orbgate/internal/mapping"
)

// marshalArgs converts the positional source arguments into the target
// operation's structured request. Arity and types are checked before
// anything is dispatched; unmapped target fields receive their defaults.
func marshalArgs(op *mapping.Operation, args []any) (map[string]any, error) {
	if len(args) != len(op.Params) {
		return nil, fault.New(fault.InvalidArgument,
			"%s expects %d arguments, got %d", op.SourceName, len(op.Params), len(args))
	}
	req := make(map[string]any, len(op.Params)+len(op.Defaults))
	for _, b := range op.Params {
		v, err := coerce(args[b.SourcePos], b.SourceType)
		if err != nil {
			return nil, fault.New(fault.InvalidArgument,
				"%s argument %d: %v", op.SourceName, b.SourcePos, err)
		}
		req[b.TargetField] = widen(v, b.TargetType)
	}
	for field, v := range op.Defaults {
		req[field] = v
	}
	return req, nil
}

// unmarshalResult extracts the source return value from the downstream
// response. Fields beyond the result binding are dropped. A missing result
// field decodes as the kind's zero value, matching proto3 JSON where
// zero-valued fields are omitted.
func unmarshalResult(op *mapping.Operation, resp map[string]any) (any, error) {
	if op.Result.TargetField == "" {
		return nil, nil
	}
	v, ok := resp[op.Result.TargetField]
	if !ok {
		v = mapping.ZeroValue(op.Result.TargetType)
	}
	out, err := coerce(v, op.Result.SourceType)
	if err != nil {
		return nil, fault.Downstream("", "malformed response field "+op.Result.TargetField+": "+err.Error())
	}
	return out, nil
}

type coerceError struct{ want descriptor.Kind }

func (e coerceError) Error() string { return "value does not fit " + string(e.want) }

// coerce validates v against a semantic kind and normalizes its Go
// representation (int64 for integers, float64 for doubles, []byte for
// bytes). JSON-decoded input arrives as float64/string/bool/map.
func coerce(v any, k descriptor.Kind) (any, error) {
	switch k {
	case descriptor.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case descriptor.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case descriptor.KindInt32:
		n, ok := asInt(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, coerceError{k}
		}
		return n, nil
	case descriptor.KindInt64:
		if n, ok := asInt(v); ok {
			return n, nil
		}
	case descriptor.KindDouble:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
	case descriptor.KindBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, coerceError{k}
			}
			return raw, nil
		}
	case descriptor.KindMessage:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, coerceError{k}
}

// asInt accepts the integer representations JSON decoding and Go callers
// produce. Floats qualify only when integral.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is
		// exclusive.
		if n == math.Trunc(n) && !math.IsInf(n, 0) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// widen lifts an already-validated value into the target kind when the
// mapping pairs an int32 source with a wider target.
func widen(v any, target descriptor.Kind) any {
	if target == descriptor.KindDouble {
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}
