package odm

import (
	"fmt"
	"reflect"
	"strings"
)

// DefaultTagKey is the struct tag read by TagSource.
const DefaultTagKey = "influx"

// Measurement marks a struct as mapped. Declare it as a blank field whose
// tag holds the measurement name:
//
//	type CPU struct {
//	    _     odm.Measurement `influx:"cpu_usage"`
//	    Host  string    `influx:"host,tag"`
//	    Value float64   `influx:"value"`
//	    Time  time.Time `influx:"time,timestamp"`
//	}
type Measurement struct{}

// MappedSuperclass marks a struct as an abstract mapped class. It usually
// declares only the identifier, which embedding classes inherit.
type MappedSuperclass struct{}

var (
	measurementType      = reflect.TypeOf(Measurement{})
	mappedSuperclassType = reflect.TypeOf(MappedSuperclass{})
)

// TagSource reads mapping descriptors from struct tags.
//
// Field tags have the form `influx:"name,kind,type=<logical>,nullable"`.
// kind is one of id, tag, field (default) or timestamp. A "-" name skips the
// field. Pointer fields are nullable. Plain embedded structs are flattened;
// embedded mapped classes are parents and are left to the factory.
type TagSource struct {
	// Key is the struct tag key. Empty means DefaultTagKey.
	Key string
}

// NewTagSource creates a TagSource reading the default tag key.
func NewTagSource() *TagSource {
	return &TagSource{Key: DefaultTagKey}
}

func (s *TagSource) key() string {
	if s.Key == "" {
		return DefaultTagKey
	}
	return s.Key
}

// IsTransient implements Source.
func (s *TagSource) IsTransient(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return true
	}
	for i := 0; i < t.NumField(); i++ {
		ft := t.Field(i).Type
		if ft == measurementType || ft == mappedSuperclassType {
			return false
		}
	}
	return true
}

// LoadMetadataForClass implements Source.
func (s *TagSource) LoadMetadataForClass(t reflect.Type, target *ClassMetadata) error {
	if s.IsTransient(t) {
		return fmt.Errorf("%s has no %s marker field", ClassName(t), measurementType)
	}
	return s.loadStruct(t, nil, map[reflect.Type]bool{t: true}, target)
}

func (s *TagSource) loadStruct(t reflect.Type, prefix []int, visiting map[reflect.Type]bool, target *ClassMetadata) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		tag, hasTag := sf.Tag.Lookup(s.key())

		switch sf.Type {
		case measurementType:
			if len(prefix) > 0 {
				continue
			}
			name := strings.TrimSpace(tag)
			if name == "" {
				return fmt.Errorf("%s: empty measurement name", ClassName(t))
			}
			target.SetMeasurement(name)
			continue
		case mappedSuperclassType:
			if len(prefix) == 0 {
				target.SetMappedSuperclass(true)
			}
			continue
		}

		if sf.Anonymous && !hasTag {
			et := sf.Type
			for et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() != reflect.Struct || !s.IsTransient(et) {
				continue
			}
			if visiting[et] {
				return fmt.Errorf("%s: cyclic embedding of %s", ClassName(t), ClassName(et))
			}
			visiting[et] = true
			err := s.loadStruct(et, index, visiting, target)
			delete(visiting, et)
			if err != nil {
				return err
			}
			continue
		}
		if !hasTag || !sf.IsExported() {
			continue
		}

		field, skip, err := parseFieldTag(sf, tag)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", ClassName(t), sf.Name, err)
		}
		if skip {
			continue
		}
		field.Index = index
		if err := target.AddField(field); err != nil {
			return err
		}
	}
	return nil
}

func parseFieldTag(sf reflect.StructField, tag string) (MappingField, bool, error) {
	parts := strings.Split(tag, ",")
	name := strings.TrimSpace(parts[0])
	if name == "-" {
		return MappingField{}, true, nil
	}
	field := MappingField{
		Name:     name,
		GoName:   sf.Name,
		Nullable: sf.Type.Kind() == reflect.Pointer,
	}
	kindSet := false
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "":
		case opt == "nullable":
			field.Nullable = true
		case strings.HasPrefix(opt, "type="):
			field.Type = strings.TrimPrefix(opt, "type=")
		case !kindSet:
			kind, err := ParseStorageKind(opt)
			if err != nil {
				return MappingField{}, false, err
			}
			field.Kind = kind
			kindSet = true
		default:
			return MappingField{}, false, fmt.Errorf("unknown tag option %q", opt)
		}
	}
	if field.Name == "" {
		if field.Kind == KindTimestamp {
			field.Name = "time"
		} else {
			field.Name = strings.ToLower(sf.Name)
		}
	}
	if field.Type == "" {
		typ, err := inferLogicalType(field.Kind, sf.Type)
		if err != nil {
			return MappingField{}, false, err
		}
		field.Type = typ
	}
	return field, false, nil
}
