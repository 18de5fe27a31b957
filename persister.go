package odm

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Persister turns mapped objects into points and hands them to the write
// transport, one batched call per Persist.
type Persister struct {
	factory *MetadataFactory
	types   *TypeRegistry
	writer  Writer
	deleter Deleter
}

// NewPersister creates a persister. deleter may be nil when Remove is not used.
func NewPersister(factory *MetadataFactory, types *TypeRegistry, writer Writer, deleter Deleter) *Persister {
	return &Persister{factory: factory, types: types, writer: writer, deleter: deleter}
}

// Persist writes objects as one batch. Points are grouped by measurement in
// order of first appearance. A conversion failure aborts the whole call
// with a PersistError before anything is written.
func (p *Persister) Persist(ctx context.Context, objects ...any) error {
	if len(objects) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]Point)
	for i, obj := range objects {
		point, err := p.point(i, obj)
		if err != nil {
			return err
		}
		if _, ok := groups[point.Measurement]; !ok {
			order = append(order, point.Measurement)
		}
		groups[point.Measurement] = append(groups[point.Measurement], point)
	}

	batch := make([]Point, 0, len(objects))
	for _, m := range order {
		batch = append(batch, groups[m]...)
	}
	return p.writer.WritePoints(ctx, batch)
}

// Serialize builds the point for a single object without writing it.
func (p *Persister) Serialize(obj any) (Point, error) {
	return p.point(0, obj)
}

func (p *Persister) point(index int, obj any) (Point, error) {
	v, meta, err := p.resolve(obj)
	if err != nil {
		return Point{}, &PersistError{Index: index, Class: classOf(obj), Cause: err}
	}
	if meta.MappedSuperclass {
		return Point{}, &PersistError{Index: index, Class: meta.Name, Cause: &ClassNotMappedError{Class: meta.Name}}
	}

	pt := Point{
		Measurement: meta.Measurement,
		Tags:        make(map[string]string),
		Fields:      make(map[string]any),
	}
	fail := func(f *MappingField, cause error) (Point, error) {
		return Point{}, &PersistError{Index: index, Class: meta.Name, Field: f.Name, Cause: cause}
	}

	for _, f := range meta.Fields {
		raw, isNull := readField(v, f)
		if isNull {
			if !f.Nullable {
				return fail(f, fmt.Errorf("nil value for non-nullable field"))
			}
			continue
		}
		// an unset timestamp keeps the transport's default of now
		if f.Kind == KindTimestamp && reflect.ValueOf(raw).IsZero() {
			continue
		}
		conv, err := p.types.Lookup(f.Type)
		if err != nil {
			return fail(f, err)
		}
		w, err := conv.ToWire(raw)
		if err != nil {
			return fail(f, err)
		}

		switch f.Kind {
		case KindTimestamp:
			t, ok := w.(time.Time)
			if !ok {
				return fail(f, fmt.Errorf("timestamp converter produced %T", w))
			}
			pt.Time = t
		case KindTag, KindIdentifier:
			s, err := asString(w)
			if err != nil {
				return fail(f, err)
			}
			if s != "" {
				pt.Tags[f.Name] = s
			}
		default:
			fv, err := wireFieldValue(w)
			if err != nil {
				return fail(f, err)
			}
			pt.Fields[f.Name] = fv
		}
	}
	if len(pt.Fields) == 0 {
		return Point{}, &PersistError{Index: index, Class: meta.Name, Cause: ErrNoFields}
	}
	return pt, nil
}

// Remove deletes the series identified by the object's identifier.
func (p *Persister) Remove(ctx context.Context, obj any) error {
	v, meta, err := p.resolve(obj)
	if err != nil {
		return err
	}
	if meta.MappedSuperclass {
		return &ClassNotMappedError{Class: meta.Name}
	}
	if meta.Identifier == nil {
		return &MissingIdentifierError{Class: meta.Name}
	}
	raw, isNull := readField(v, meta.Identifier)
	if isNull || reflect.ValueOf(raw).IsZero() {
		return &MissingIdentifierError{Class: meta.Name}
	}
	conv, err := p.types.Lookup(meta.Identifier.Type)
	if err != nil {
		return err
	}
	w, err := conv.ToWire(raw)
	if err != nil {
		return fmt.Errorf("convert identifier of %s: %w", meta.Name, err)
	}
	id, err := asString(w)
	if err != nil {
		return fmt.Errorf("convert identifier of %s: %w", meta.Name, err)
	}
	if p.deleter == nil {
		return ErrUnsupportedOperation
	}

	stmt := &Statement{
		Kind:        DeleteStatement,
		Measurement: meta.Measurement,
		Conditions:  []Condition{{Key: meta.Identifier.Name, Op: OpEqual, Value: id}},
	}
	return p.deleter.Delete(ctx, stmt)
}

func (p *Persister) resolve(obj any) (reflect.Value, *ClassMetadata, error) {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, nil, fmt.Errorf("nil object")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, nil, fmt.Errorf("nil object")
	}
	meta, err := p.factory.MetadataFor(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, meta, nil
}

// readField returns the dereferenced value of f and whether it is null.
func readField(v reflect.Value, f *MappingField) (any, bool) {
	fv, ok := fieldValue(v, f)
	if !ok {
		return nil, true
	}
	for fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return nil, true
		}
		fv = fv.Elem()
	}
	return fv.Interface(), false
}

// wireFieldValue coerces a converter result into a type the line protocol
// accepts.
func wireFieldValue(w any) (any, error) {
	switch x := w.(type) {
	case int64, uint64, float64, bool, string:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidFieldValue, w)
}

func classOf(obj any) string {
	if obj == nil {
		return "<nil>"
	}
	return ClassName(reflect.TypeOf(obj))
}
