package odm

import (
	"fmt"
	"reflect"
	"strings"
)

// StorageKind says where a mapped property lives in a measurement sample.
type StorageKind int

const (
	// KindField is a typed, non-indexed value.
	KindField StorageKind = iota
	// KindTag is an indexed, string-valued dimension.
	KindTag
	// KindIdentifier is the tag that identifies a series of the class.
	KindIdentifier
	// KindTimestamp is the sample time.
	KindTimestamp
)

func (k StorageKind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindTag:
		return "tag"
	case KindIdentifier:
		return "identifier"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// ParseStorageKind parses the names used in struct tags and mapping files.
func ParseStorageKind(s string) (StorageKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "field":
		return KindField, nil
	case "tag":
		return KindTag, nil
	case "id", "identifier":
		return KindIdentifier, nil
	case "time", "timestamp":
		return KindTimestamp, nil
	}
	return 0, fmt.Errorf("unknown storage kind %q", s)
}

// MappingField is one declared property of a mapped class.
type MappingField struct {
	// Name is the column, tag or field key on the wire. Unique per class.
	Name string
	// GoName is the struct field name.
	GoName string
	// Index is the reflect index path from the class type to the struct field.
	Index []int
	Kind  StorageKind
	// Type is the logical type key into the TypeRegistry.
	Type     string
	Nullable bool
}

// ClassMetadata is the resolved mapping of one Go struct type.
//
// Instances are built by MetadataFactory and must be treated as read-only
// once returned. The mutating methods exist for Source implementations and
// are only valid while the factory resolves the class.
type ClassMetadata struct {
	// Name is the class identity, see ClassName.
	Name        string
	Type        reflect.Type
	Measurement string
	// MappedSuperclass marks an abstract class: it donates its identifier
	// to embedding classes but cannot be queried or persisted itself.
	MappedSuperclass bool
	// Fields in declaration order. An inherited identifier comes first.
	Fields []*MappingField
	// Identifier points into Fields, or is nil.
	Identifier *MappingField
	// Parent is the nearest embedded mapped class, or nil.
	Parent *ClassMetadata

	byName      map[string]*MappingField
	timestamp   *MappingField
	idInherited bool
	frozen      bool
}

func newClassMetadata(t reflect.Type) *ClassMetadata {
	return &ClassMetadata{
		Name:   ClassName(t),
		Type:   t,
		byName: make(map[string]*MappingField),
	}
}

// ClassName returns the identity used for a Go type: its package path and
// name, for example "github.com/acme/metrics.CPU".
func ClassName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// SetMeasurement sets the measurement name.
func (m *ClassMetadata) SetMeasurement(name string) {
	if m.frozen {
		return
	}
	m.Measurement = name
}

// SetMappedSuperclass marks the class abstract.
func (m *ClassMetadata) SetMappedSuperclass(v bool) {
	if m.frozen {
		return
	}
	m.MappedSuperclass = v
}

// AddField appends a declared field. Declaring an identifier replaces an
// inherited one; declaring a second identifier or timestamp, or reusing a
// name, fails.
func (m *ClassMetadata) AddField(f MappingField) error {
	if m.frozen {
		return fmt.Errorf("class %s is already resolved", m.Name)
	}
	if f.Name == "" {
		return fmt.Errorf("field %s: empty name", f.GoName)
	}
	if f.Kind == KindIdentifier && m.Identifier != nil {
		if !m.idInherited {
			return fmt.Errorf("field %s: identifier already declared by %s", f.Name, m.Identifier.Name)
		}
		m.removeField(m.Identifier)
		m.Identifier = nil
		m.idInherited = false
	}
	if _, ok := m.byName[f.Name]; ok {
		return fmt.Errorf("duplicate field name %q", f.Name)
	}
	if f.Kind == KindTimestamp && m.timestamp != nil {
		return fmt.Errorf("field %s: timestamp already declared by %s", f.Name, m.timestamp.Name)
	}

	field := f
	field.Index = append([]int(nil), f.Index...)
	m.Fields = append(m.Fields, &field)
	m.byName[field.Name] = &field
	switch field.Kind {
	case KindIdentifier:
		m.Identifier = &field
	case KindTimestamp:
		m.timestamp = &field
	}
	return nil
}

// inheritIdentifier copies the parent's identifier, rebasing its index path
// through the embedded field at prefix.
func (m *ClassMetadata) inheritIdentifier(id *MappingField, prefix []int) {
	field := *id
	field.Index = append(append([]int(nil), prefix...), id.Index...)
	m.Fields = append(m.Fields, &field)
	m.byName[field.Name] = &field
	m.Identifier = &field
	m.idInherited = true
}

func (m *ClassMetadata) removeField(f *MappingField) {
	for i, existing := range m.Fields {
		if existing == f {
			m.Fields = append(m.Fields[:i], m.Fields[i+1:]...)
			break
		}
	}
	delete(m.byName, f.Name)
}

// Field returns the mapped field with the given wire name.
func (m *ClassMetadata) Field(name string) (*MappingField, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Timestamp returns the timestamp field, or nil when the class relies on
// the wire default.
func (m *ClassMetadata) Timestamp() *MappingField {
	return m.timestamp
}

// FieldsOfKind returns the fields of one storage kind in declaration order.
func (m *ClassMetadata) FieldsOfKind(kind StorageKind) []*MappingField {
	var out []*MappingField
	for _, f := range m.Fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// IsTagLike reports whether the field is written as a tag.
func (f *MappingField) IsTagLike() bool {
	return f.Kind == KindTag || f.Kind == KindIdentifier
}

// column returns the name under which the field appears in a query row.
func (f *MappingField) column() string {
	if f.Kind == KindTimestamp {
		return "time"
	}
	return f.Name
}

func (m *ClassMetadata) validate(types *TypeRegistry) error {
	if !m.MappedSuperclass && m.Measurement == "" {
		return fmt.Errorf("empty measurement name")
	}
	for _, f := range m.Fields {
		if !types.HasType(f.Type) {
			return fmt.Errorf("field %s: %w: %q", f.Name, ErrUnknownType, f.Type)
		}
		if err := checkIndex(m.Type, f.Index); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func (m *ClassMetadata) freeze() {
	m.frozen = true
}

func checkIndex(t reflect.Type, index []int) error {
	if len(index) == 0 {
		return fmt.Errorf("empty index path")
	}
	for i, x := range index {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct || x < 0 || x >= t.NumField() {
			return fmt.Errorf("invalid index path %v", index)
		}
		sf := t.Field(x)
		if i < len(index)-1 {
			t = sf.Type
			continue
		}
		if !sf.IsExported() {
			return fmt.Errorf("struct field %s is not exported", sf.Name)
		}
	}
	return nil
}

// fieldValue reads the struct field behind f from v, a struct value.
// It reports false when a nil embedded pointer hides the field.
func fieldValue(v reflect.Value, f *MappingField) (reflect.Value, bool) {
	for i, x := range f.Index {
		if i > 0 {
			if v.Kind() == reflect.Pointer {
				if v.IsNil() {
					return reflect.Value{}, false
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, true
}

// settableField walks to the struct field behind f, allocating nil embedded
// pointers along the way.
func settableField(v reflect.Value, f *MappingField) reflect.Value {
	for i, x := range f.Index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}
