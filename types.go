package odm

import (
	"fmt"
	"reflect"
	"sort"
)

// Built-in logical type names.
const (
	TypeIdentifier = "identifier"
	TypeTag        = "tag"
	TypeString     = "string"
	TypeInteger    = "integer"
	TypeFloat      = "float"
	TypeBoolean    = "boolean"
	TypeTimestamp  = "timestamp"
)

// Converter normalizes values between their Go representation and the wire.
//
// ToWire receives the dereferenced field value. FromWire receives the raw
// wire value and the Go type it must produce; a nil target asks for the
// canonical representation (string, int64, float64, bool or time.Time).
type Converter interface {
	ToWire(v any) (any, error)
	FromWire(w any, target reflect.Type) (any, error)
}

// ConverterFuncs adapts a pair of functions to the Converter interface.
type ConverterFuncs struct {
	To   func(v any) (any, error)
	From func(w any, target reflect.Type) (any, error)
}

// ToWire implements Converter.
func (c ConverterFuncs) ToWire(v any) (any, error) {
	return c.To(v)
}

// FromWire implements Converter.
func (c ConverterFuncs) FromWire(w any, target reflect.Type) (any, error) {
	return c.From(w, target)
}

// TypeRegistry maps logical type names to converters.
//
// The registry is not synchronized. Register or override types while
// configuring the manager, before the first query or persist call; after
// that it is only read.
type TypeRegistry struct {
	types map[string]Converter
}

// NewTypeRegistry creates a registry holding the built-in types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]Converter, 8)}
	r.types[TypeIdentifier] = tagConverter{}
	r.types[TypeTag] = tagConverter{}
	r.types[TypeString] = stringConverter{}
	r.types[TypeInteger] = integerConverter{}
	r.types[TypeFloat] = floatConverter{}
	r.types[TypeBoolean] = booleanConverter{}
	r.types[TypeTimestamp] = timestampConverter{}
	return r
}

// AddType registers a new logical type. It fails with ErrTypeExists when
// the name is taken; use OverrideType to replace an entry.
func (r *TypeRegistry) AddType(name string, c Converter) error {
	if c == nil {
		return fmt.Errorf("add type %q: nil converter", name)
	}
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("add type %q: %w", name, ErrTypeExists)
	}
	r.types[name] = c
	return nil
}

// OverrideType registers c under name, replacing any previous converter.
func (r *TypeRegistry) OverrideType(name string, c Converter) {
	if c == nil {
		return
	}
	r.types[name] = c
}

// HasType reports whether name is registered.
func (r *TypeRegistry) HasType(name string) bool {
	_, ok := r.types[name]
	return ok
}

// Lookup returns the converter for name.
func (r *TypeRegistry) Lookup(name string) (Converter, error) {
	c, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return c, nil
}

// Types returns the registered names in sorted order.
func (r *TypeRegistry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
