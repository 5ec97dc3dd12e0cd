// Package mapping builds the operation correspondence between the inbound
// and outbound interfaces. The table is built once at startup and is
// read-only afterwards, so concurrent lookups need no locking.
package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orbgate/orbgate/internal/descriptor"
	"github.com/orbgate/orbgate/internal/fault"
)

// ParamBinding maps one source positional parameter onto a target field.
type ParamBinding struct {
	SourcePos   int
	SourceType  descriptor.Kind
	TargetField string
	TargetType  descriptor.Kind
}

// ResultBinding maps the target response field back onto the source return
// slot. TargetField is empty when the source result is void.
type ResultBinding struct {
	TargetField string
	SourceType  descriptor.Kind
	TargetType  descriptor.Kind
}

// Operation pairs one source operation with one target operation.
type Operation struct {
	SourceName string
	TargetName string
	Params     []ParamBinding
	Result     ResultBinding
	// Defaults fills target fields no source parameter maps to.
	Defaults map[string]any
}

// Table is the immutable mapping set for one gateway instance.
type Table struct {
	ops map[string]*Operation
}

// Override adjusts the default name/position correspondence for one source
// operation.
type Override struct {
	// Target names the target operation when it differs from the source name.
	Target string `yaml:"target"`
	// Params lists the target field receiving each source position.
	Params []string `yaml:"params"`
	// Result names the target response field carrying the return value.
	Result string `yaml:"result"`
	// Defaults supplies values for target fields left unmapped.
	Defaults map[string]any `yaml:"defaults"`
}

// Overrides is the optional per-operation override file.
type Overrides struct {
	Operations map[string]Override `yaml:"operations"`
}

// LoadOverrides reads an override file; a missing path yields empty overrides.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("mapping: read overrides %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("mapping: overrides %s: %w", path, err)
	}
	return o, nil
}

// convertible reports whether a value of kind src can be represented as dst
// without loss. Narrowing conversions are rejected; nested messages are
// assumed shape-compatible because deep checking belongs to the schema
// compilers that produced the descriptors.
func convertible(src, dst descriptor.Kind) bool {
	if src == dst {
		return true
	}
	switch {
	case src == descriptor.KindInt32 && dst == descriptor.KindInt64:
		return true
	case src == descriptor.KindInt32 && dst == descriptor.KindDouble:
		return true
	}
	return false
}

// ZeroValue returns the wire default for a kind.
func ZeroValue(k descriptor.Kind) any {
	switch k {
	case descriptor.KindString:
		return ""
	case descriptor.KindInt32, descriptor.KindInt64:
		return int64(0)
	case descriptor.KindDouble:
		return float64(0)
	case descriptor.KindBool:
		return false
	case descriptor.KindBytes:
		return []byte(nil)
	case descriptor.KindMessage:
		return map[string]any{}
	default:
		return nil
	}
}

// Build constructs the table for source → target. Operations pair by name
// unless an override redirects them; parameters pair by position. Any
// source operation or parameter without a target destination fails the
// build with SchemaMismatch; any lossy parameter or result pairing fails
// with TypeIncompatible. A failed build returns no table at all.
func Build(source, target *descriptor.Interface, overrides Overrides) (*Table, error) {
	ops := make(map[string]*Operation, len(source.Operations))
	for idx := range source.Operations {
		src := &source.Operations[idx]
		ov, hasOv := overrides.Operations[src.Name]

		targetName := src.Name
		if hasOv && ov.Target != "" {
			targetName = ov.Target
		}
		dst := target.Operation(targetName)
		if dst == nil {
			return nil, fault.New(fault.SchemaMismatch,
				"source operation %s.%s has no target operation %q in %s",
				source.Name, src.Name, targetName, target.Name)
		}

		op, err := bindOperation(src, dst, ov, hasOv)
		if err != nil {
			return nil, err
		}
		ops[src.Name] = op
	}
	return &Table{ops: ops}, nil
}

func bindOperation(src, dst *descriptor.Operation, ov Override, hasOv bool) (*Operation, error) {
	targetFields := make(map[string]descriptor.Kind, len(dst.Params))
	for _, p := range dst.Params {
		targetFields[p.Name] = p.Type
	}

	op := &Operation{
		SourceName: src.Name,
		TargetName: dst.Name,
		Params:     make([]ParamBinding, 0, len(src.Params)),
		Defaults:   make(map[string]any),
	}

	if hasOv && len(ov.Params) > 0 && len(ov.Params) != len(src.Params) {
		return nil, fault.New(fault.SchemaMismatch,
			"%s: override lists %d params, source has %d", src.Name, len(ov.Params), len(src.Params))
	}

	bound := make(map[string]bool, len(src.Params))
	for i, sp := range src.Params {
		var fieldName string
		var fieldType descriptor.Kind
		switch {
		case hasOv && len(ov.Params) > 0:
			fieldName = ov.Params[i]
			ft, ok := targetFields[fieldName]
			if !ok {
				return nil, fault.New(fault.SchemaMismatch,
					"%s: override maps position %d to unknown target field %q", src.Name, i, fieldName)
			}
			fieldType = ft
		case i < len(dst.Params):
			fieldName = dst.Params[i].Name
			fieldType = dst.Params[i].Type
		default:
			return nil, fault.New(fault.SchemaMismatch,
				"%s: source parameter %q (position %d) has no target destination", src.Name, sp.Name, i)
		}
		if bound[fieldName] {
			return nil, fault.New(fault.SchemaMismatch,
				"%s: target field %q bound twice", src.Name, fieldName)
		}
		bound[fieldName] = true
		if !convertible(sp.Type, fieldType) {
			return nil, fault.New(fault.TypeIncompatible,
				"%s: parameter %q is %s, target field %q is %s", src.Name, sp.Name, sp.Type, fieldName, fieldType)
		}
		op.Params = append(op.Params, ParamBinding{
			SourcePos:   i,
			SourceType:  sp.Type,
			TargetField: fieldName,
			TargetType:  fieldType,
		})
	}

	// Unmapped target fields fall back to the kind's wire default unless the
	// override supplies one.
	for _, p := range dst.Params {
		if bound[p.Name] {
			continue
		}
		if hasOv {
			if v, ok := ov.Defaults[p.Name]; ok {
				op.Defaults[p.Name] = v
				continue
			}
		}
		op.Defaults[p.Name] = ZeroValue(p.Type)
	}

	if err := bindResult(op, src, dst, ov, hasOv); err != nil {
		return nil, err
	}
	return op, nil
}

func bindResult(op *Operation, src, dst *descriptor.Operation, ov Override, hasOv bool) error {
	if src.Result == descriptor.KindVoid {
		// Source expects nothing back; any target result is dropped.
		return nil
	}
	if dst.Result == descriptor.KindVoid {
		return fault.New(fault.SchemaMismatch,
			"%s: source expects a %s result, target %s returns nothing", src.Name, src.Result, dst.Name)
	}
	if !convertible(dst.Result, src.Result) {
		return fault.New(fault.TypeIncompatible,
			"%s: target result is %s, source return slot is %s", src.Name, dst.Result, src.Result)
	}
	field := dst.ResultField
	if hasOv && ov.Result != "" {
		field = ov.Result
	}
	op.Result = ResultBinding{TargetField: field, SourceType: src.Result, TargetType: dst.Result}
	return nil
}

// Lookup returns the mapping for a source operation name. Unknown names
// yield an UnknownOperation fault. Lookup is a single map read.
func (t *Table) Lookup(operation string) (*Operation, error) {
	op, ok := t.ops[operation]
	if !ok {
		return nil, fault.New(fault.UnknownOperation, "no mapped operation %q", operation)
	}
	return op, nil
}

// Len returns the number of mapped operations.
func (t *Table) Len() int { return len(t.ops) }
