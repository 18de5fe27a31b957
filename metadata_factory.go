package odm

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MetadataFactory resolves, caches and serves ClassMetadata.
//
// Each class is resolved once per factory. Concurrent first requests for
// the same class share one resolution; resolved entries are read without
// locking. Failed resolutions are not cached.
type MetadataFactory struct {
	source Source
	types  *TypeRegistry

	loaded sync.Map // reflect.Type -> *ClassMetadata
	group  singleflight.Group
}

// NewMetadataFactory creates a factory over source. Field logical types are
// validated against types.
func NewMetadataFactory(source Source, types *TypeRegistry) *MetadataFactory {
	if source == nil {
		source = NewTagSource()
	}
	if types == nil {
		types = NewTypeRegistry()
	}
	return &MetadataFactory{source: source, types: types}
}

// MetadataForValue resolves the class of v, which may be a struct value, a
// pointer to one, or a reflect.Type.
func (f *MetadataFactory) MetadataForValue(v any) (*ClassMetadata, error) {
	if v == nil {
		return nil, &ClassNotMappedError{Class: "<nil>"}
	}
	if t, ok := v.(reflect.Type); ok {
		return f.MetadataFor(t)
	}
	return f.MetadataFor(reflect.TypeOf(v))
}

// MetadataFor returns the metadata of t, resolving it on first use.
// Calling it twice for the same type returns the same instance.
func (f *MetadataFactory) MetadataFor(t reflect.Type) (*ClassMetadata, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return f.metadataFor(t, nil)
}

// HasMetadataFor reports whether t has already been resolved.
func (f *MetadataFactory) HasMetadataFor(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	_, ok := f.loaded.Load(t)
	return ok
}

// Loaded returns every resolved class sorted by name.
func (f *MetadataFactory) Loaded() []*ClassMetadata {
	var out []*ClassMetadata
	f.loaded.Range(func(_, v any) bool {
		out = append(out, v.(*ClassMetadata))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *MetadataFactory) metadataFor(t reflect.Type, resolving []reflect.Type) (*ClassMetadata, error) {
	if cached, ok := f.loaded.Load(t); ok {
		return cached.(*ClassMetadata), nil
	}
	for _, r := range resolving {
		if r == t {
			return nil, &MappingError{Class: ClassName(t), Cause: fmt.Errorf("cyclic embedding")}
		}
	}
	if t.Kind() != reflect.Struct {
		return nil, &ClassNotMappedError{Class: ClassName(t)}
	}

	v, err, _ := f.group.Do(flightKey(t), func() (any, error) {
		if cached, ok := f.loaded.Load(t); ok {
			return cached, nil
		}
		meta, err := f.load(t, append(resolving, t))
		if err != nil {
			return nil, err
		}
		actual, _ := f.loaded.LoadOrStore(t, meta)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ClassMetadata), nil
}

// load runs the resolution algorithm: parent first, then identifier
// inheritance, then the class's own descriptor.
func (f *MetadataFactory) load(t reflect.Type, resolving []reflect.Type) (*ClassMetadata, error) {
	name := ClassName(t)
	if f.source.IsTransient(t) {
		return nil, &ClassNotMappedError{Class: name}
	}

	parent, prefix, err := f.resolveParent(t, resolving)
	if err != nil {
		return nil, err
	}

	meta := newClassMetadata(t)
	meta.Parent = parent
	if parent != nil && parent.Identifier != nil {
		meta.inheritIdentifier(parent.Identifier, prefix)
	}

	if err := f.source.LoadMetadataForClass(t, meta); err != nil {
		return nil, &MappingError{Class: name, Cause: err}
	}
	if err := meta.validate(f.types); err != nil {
		return nil, &MappingError{Class: name, Cause: err}
	}
	meta.freeze()
	return meta, nil
}

// resolveParent finds the nearest embedded mapped class, breadth first,
// resolves it and returns the index path of the embedding field.
func (f *MetadataFactory) resolveParent(t reflect.Type, resolving []reflect.Type) (*ClassMetadata, []int, error) {
	type candidate struct {
		typ   reflect.Type
		index []int
	}
	queue := []candidate{{typ: t}}
	seen := map[reflect.Type]bool{t: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i := 0; i < cur.typ.NumField(); i++ {
			sf := cur.typ.Field(i)
			if !sf.Anonymous {
				continue
			}
			et := sf.Type
			for et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() != reflect.Struct || et == measurementType || et == mappedSuperclassType {
				continue
			}
			index := append(append([]int(nil), cur.index...), i)
			if et == t {
				return nil, nil, &MappingError{Class: ClassName(t), Cause: fmt.Errorf("cyclic embedding")}
			}
			if seen[et] {
				continue
			}
			seen[et] = true
			if !f.source.IsTransient(et) {
				parent, err := f.metadataFor(et, resolving)
				if err != nil {
					return nil, nil, err
				}
				return parent, index, nil
			}
			queue = append(queue, candidate{typ: et, index: index})
		}
	}
	return nil, nil, nil
}

// flightKey identifies t itself. Local types declared in different functions
// share a ClassName.
func flightKey(t reflect.Type) string {
	return fmt.Sprintf("%s@%p", ClassName(t), t)
}
