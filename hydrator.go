package odm

import (
	"errors"
	"reflect"
)

// HydrationMode selects the shape a query result is turned into.
type HydrationMode int

const (
	// HydrateObject builds one *T per row.
	HydrateObject HydrationMode = iota + 1
	// HydrateArray builds one map[string]any per row.
	HydrateArray
	// HydrateScalar extracts one column per row.
	HydrateScalar
	// HydrateSingleScalar extracts exactly one value.
	HydrateSingleScalar
)

func (m HydrationMode) String() string {
	switch m {
	case HydrateObject:
		return "object"
	case HydrateArray:
		return "array"
	case HydrateScalar:
		return "scalar"
	case HydrateSingleScalar:
		return "single_scalar"
	default:
		return "unknown"
	}
}

// Hydrator turns a raw result into one result shape. Hydrators keep no
// state between calls.
type Hydrator interface {
	Hydrate(result *Result, meta *ClassMetadata) (any, error)
}

// NewHydrator returns the hydrator for mode. column designates the scalar
// column for the scalar modes; empty means the first non-time column.
func NewHydrator(mode HydrationMode, types *TypeRegistry, column string) (Hydrator, error) {
	conv := valueConverter{types: types}
	switch mode {
	case HydrateObject:
		return &ObjectHydrator{conv: conv}, nil
	case HydrateArray:
		return &ArrayHydrator{conv: conv}, nil
	case HydrateScalar:
		return &ScalarHydrator{conv: conv, Column: column}, nil
	case HydrateSingleScalar:
		return &SingleScalarHydrator{ScalarHydrator{conv: conv, Column: column}}, nil
	}
	return nil, &UnsupportedHydrationModeError{Mode: mode}
}

var errMissingValue = errors.New("missing value for non-nullable field")

// valueConverter holds the conversion shared by all hydrators.
type valueConverter struct {
	types *TypeRegistry
}

// lookup finds the raw value of f in row. The timestamp field is found
// under its own name or the "time" column.
func lookup(row Row, f *MappingField) (any, bool) {
	if v, ok := row.Get(f.Name); ok {
		return v, true
	}
	if f.Kind == KindTimestamp {
		return row.Get(f.column())
	}
	return nil, false
}

// convert turns raw into a value for f. target nil asks for the canonical
// representation. A nil raw value yields (nil, nil) for nullable fields.
func (c valueConverter) convert(meta *ClassMetadata, f *MappingField, raw any, target reflect.Type) (any, error) {
	if raw == nil {
		if f.Nullable {
			return nil, nil
		}
		return nil, &HydrationError{Class: meta.Name, Field: f.Name, Cause: errMissingValue}
	}
	conv, err := c.types.Lookup(f.Type)
	if err != nil {
		return nil, &HydrationError{Class: meta.Name, Field: f.Name, Cause: err}
	}
	v, err := conv.FromWire(raw, target)
	if err != nil {
		return nil, &HydrationError{Class: meta.Name, Field: f.Name, Cause: err}
	}
	return v, nil
}

// column converts a named column that may or may not be mapped.
func (c valueConverter) column(meta *ClassMetadata, row Row, name string) (any, bool, error) {
	raw, ok := row.Get(name)
	if !ok {
		return nil, false, nil
	}
	if f := fieldForColumn(meta, name); f != nil {
		v, err := c.convert(meta, f, raw, nil)
		return v, true, err
	}
	return normalizeWire(raw), true, nil
}

func fieldForColumn(meta *ClassMetadata, name string) *MappingField {
	if meta == nil {
		return nil
	}
	if f, ok := meta.Field(name); ok {
		return f
	}
	if name == "time" {
		return meta.Timestamp()
	}
	return nil
}
