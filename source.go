package odm

import (
	"fmt"
	"reflect"
)

// Source supplies mapping descriptors. The factory calls
// LoadMetadataForClass at most once per class and caches the outcome.
type Source interface {
	// LoadMetadataForClass populates target's measurement, identifier and
	// fields for t. Fields inherited from embedded mapped classes must not
	// be declared again; the factory handles the identifier inheritance.
	LoadMetadataForClass(t reflect.Type, target *ClassMetadata) error

	// IsTransient reports whether t carries no mapping at all.
	IsTransient(t reflect.Type) bool
}

// ChainSource consults its sources in order; the first one that maps a
// type describes it.
type ChainSource []Source

// LoadMetadataForClass implements Source.
func (c ChainSource) LoadMetadataForClass(t reflect.Type, target *ClassMetadata) error {
	for _, s := range c {
		if !s.IsTransient(t) {
			return s.LoadMetadataForClass(t, target)
		}
	}
	return fmt.Errorf("no source maps %s", ClassName(t))
}

// IsTransient implements Source.
func (c ChainSource) IsTransient(t reflect.Type) bool {
	for _, s := range c {
		if !s.IsTransient(t) {
			return false
		}
	}
	return true
}

// inferLogicalType picks the logical type for a field that does not name one.
func inferLogicalType(kind StorageKind, t reflect.Type) (string, error) {
	switch kind {
	case KindIdentifier:
		return TypeIdentifier, nil
	case KindTag:
		return TypeTag, nil
	case KindTimestamp:
		return TypeTimestamp, nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return TypeTimestamp, nil
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString, nil
	case reflect.Bool:
		return TypeBoolean, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger, nil
	case reflect.Float32, reflect.Float64:
		return TypeFloat, nil
	}
	return "", fmt.Errorf("cannot infer logical type for %s", t)
}
