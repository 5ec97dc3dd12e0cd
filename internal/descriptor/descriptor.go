// Package descriptor holds the schema model consumed by the gateway.
// Descriptors are produced by external schema compilers (an IDL compiler on
// the inbound side, a protobuf compiler on the outbound side); this package
// only loads their exported form and never changes it after load.
package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind is the semantic type of a parameter or result.
type Kind string

const (
	KindString  Kind = "string"
	KindInt32   Kind = "int32"
	KindInt64   Kind = "int64"
	KindBool    Kind = "bool"
	KindBytes   Kind = "bytes"
	KindDouble  Kind = "double"
	KindMessage Kind = "message"
	// KindVoid is only valid as an operation result.
	KindVoid Kind = "void"
)

var kinds = map[Kind]bool{
	KindString:  true,
	KindInt32:   true,
	KindInt64:   true,
	KindBool:    true,
	KindBytes:   true,
	KindDouble:  true,
	KindMessage: true,
}

// Valid reports whether k names a known parameter kind.
func (k Kind) Valid() bool { return kinds[k] }

// Parameter is one typed, named parameter of an operation. Order within the
// owning operation is significant.
type Parameter struct {
	Name string `yaml:"name"`
	Type Kind   `yaml:"type"`
}

// Operation describes one remote operation: its name, its ordered
// parameters, and its result kind (KindVoid for none). ResultField names
// the response field carrying the return value in dialects whose responses
// are structured messages; it defaults to "result".
type Operation struct {
	Name        string      `yaml:"name"`
	Params      []Parameter `yaml:"params"`
	Result      Kind        `yaml:"result"`
	ResultField string      `yaml:"result_field"`
}

// Interface is a named remote interface with an ordered operation list.
// Operation names are unique within an interface.
type Interface struct {
	Name       string      `yaml:"interface"`
	Operations []Operation `yaml:"operations"`

	byName map[string]*Operation
}

// Operation returns the named operation, or nil.
func (i *Interface) Operation(name string) *Operation {
	return i.byName[name]
}

// Validate checks structural invariants and indexes operations by name.
// It must be called once after decoding and before any lookup.
func (i *Interface) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("descriptor: interface name missing")
	}
	i.byName = make(map[string]*Operation, len(i.Operations))
	for idx := range i.Operations {
		op := &i.Operations[idx]
		if op.Name == "" {
			return fmt.Errorf("descriptor: %s: operation %d has no name", i.Name, idx)
		}
		if _, dup := i.byName[op.Name]; dup {
			return fmt.Errorf("descriptor: %s: duplicate operation %q", i.Name, op.Name)
		}
		if op.Result == "" {
			op.Result = KindVoid
		}
		if op.Result != KindVoid && !op.Result.Valid() {
			return fmt.Errorf("descriptor: %s.%s: unknown result type %q", i.Name, op.Name, op.Result)
		}
		if op.ResultField == "" {
			op.ResultField = "result"
		}
		seen := make(map[string]bool, len(op.Params))
		for _, p := range op.Params {
			if p.Name == "" {
				return fmt.Errorf("descriptor: %s.%s: unnamed parameter", i.Name, op.Name)
			}
			if seen[p.Name] {
				return fmt.Errorf("descriptor: %s.%s: duplicate parameter %q", i.Name, op.Name, p.Name)
			}
			seen[p.Name] = true
			if !p.Type.Valid() {
				return fmt.Errorf("descriptor: %s.%s: parameter %q has unknown type %q", i.Name, op.Name, p.Name, p.Type)
			}
		}
		i.byName[op.Name] = op
	}
	return nil
}

// Parse decodes a YAML interface descriptor and validates it.
func Parse(data []byte) (*Interface, error) {
	var iface Interface
	if err := yaml.Unmarshal(data, &iface); err != nil {
		return nil, fmt.Errorf("descriptor: %w", err)
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	return &iface, nil
}

// Load reads and parses an interface descriptor file.
func Load(path string) (*Interface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("descriptor: read %s: %w", path, err)
	}
	iface, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return iface, nil
}
