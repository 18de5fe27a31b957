package odm

import (
	"fmt"
	"reflect"
)

// ObjectHydrator builds one instance of the mapped class per row. Instances
// are allocated with reflect.New and their fields set directly, so no
// constructor or initialization logic of the application runs.
type ObjectHydrator struct {
	conv valueConverter
}

// Hydrate returns []any holding a *T per row.
func (h *ObjectHydrator) Hydrate(result *Result, meta *ClassMetadata) (any, error) {
	rows := result.Rows()
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		obj, err := h.hydrateRow(row, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, obj.Interface())
	}
	return out, nil
}

func (h *ObjectHydrator) hydrateRow(row Row, meta *ClassMetadata) (reflect.Value, error) {
	obj := reflect.New(meta.Type)
	for _, f := range meta.Fields {
		raw, ok := lookup(row, f)
		if !ok {
			if f.Nullable {
				continue
			}
			return reflect.Value{}, &HydrationError{Class: meta.Name, Field: f.Name, Cause: errMissingValue}
		}

		dst := settableField(obj.Elem(), f)
		target := dst.Type()
		isPtr := target.Kind() == reflect.Pointer
		if isPtr {
			target = target.Elem()
		}

		v, err := h.conv.convert(meta, f, raw, target)
		if err != nil {
			return reflect.Value{}, err
		}
		if v == nil {
			continue
		}

		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(target) {
			if !val.Type().ConvertibleTo(target) {
				return reflect.Value{}, &HydrationError{
					Class: meta.Name,
					Field: f.Name,
					Cause: fmt.Errorf("converter produced %s, field is %s", val.Type(), target),
				}
			}
			val = val.Convert(target)
		}
		if isPtr {
			p := reflect.New(target)
			p.Elem().Set(val)
			dst.Set(p)
			continue
		}
		dst.Set(val)
	}
	return obj, nil
}
