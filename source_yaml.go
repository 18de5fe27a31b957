package odm

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"
)

// MappingFile is the document read by YAMLSource:
//
//	classes:
//	  github.com/acme/metrics.CPU:
//	    measurement: cpu_usage
//	    fields:
//	      - property: Host
//	        name: host
//	        kind: tag
//	      - property: Value
//	        name: value
//	        type: float
//	      - property: Time
//	        kind: timestamp
type MappingFile struct {
	Classes map[string]ClassMapping `yaml:"classes"`
}

// ClassMapping describes one class in a mapping file.
type ClassMapping struct {
	Measurement      string         `yaml:"measurement"`
	MappedSuperclass bool           `yaml:"mapped_superclass,omitempty"`
	Fields           []FieldMapping `yaml:"fields"`
}

// FieldMapping describes one property. Property is the Go field name;
// promoted fields of plain embedded structs are found too.
type FieldMapping struct {
	Property string `yaml:"property"`
	Name     string `yaml:"name,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

// YAMLSource serves descriptors from a mapping file. Classes are keyed by
// ClassName, or by the bare type name when that is unambiguous enough for
// the application.
type YAMLSource struct {
	classes map[string]ClassMapping
}

// NewYAMLSource decodes a mapping document from r.
func NewYAMLSource(r io.Reader) (*YAMLSource, error) {
	var doc MappingFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}
	if doc.Classes == nil {
		doc.Classes = map[string]ClassMapping{}
	}
	return &YAMLSource{classes: doc.Classes}, nil
}

// LoadYAMLSource reads a mapping file from disk.
func LoadYAMLSource(path string) (*YAMLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return NewYAMLSource(f)
}

func (s *YAMLSource) lookup(t reflect.Type) (ClassMapping, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cm, ok := s.classes[ClassName(t)]; ok {
		return cm, true
	}
	if t.Name() == "" {
		return ClassMapping{}, false
	}
	cm, ok := s.classes[t.Name()]
	return cm, ok
}

// IsTransient implements Source.
func (s *YAMLSource) IsTransient(t reflect.Type) bool {
	_, ok := s.lookup(t)
	return !ok
}

// LoadMetadataForClass implements Source.
func (s *YAMLSource) LoadMetadataForClass(t reflect.Type, target *ClassMetadata) error {
	cm, ok := s.lookup(t)
	if !ok {
		return fmt.Errorf("%s is not declared in the mapping file", ClassName(t))
	}
	target.SetMeasurement(cm.Measurement)
	target.SetMappedSuperclass(cm.MappedSuperclass)

	for _, fm := range cm.Fields {
		sf, ok := t.FieldByName(fm.Property)
		if !ok {
			return fmt.Errorf("property %q not found on %s", fm.Property, ClassName(t))
		}
		kind, err := ParseStorageKind(fm.Kind)
		if err != nil {
			return fmt.Errorf("property %q: %w", fm.Property, err)
		}
		field := MappingField{
			Name:     fm.Name,
			GoName:   sf.Name,
			Index:    sf.Index,
			Kind:     kind,
			Type:     fm.Type,
			Nullable: fm.Nullable || sf.Type.Kind() == reflect.Pointer,
		}
		if field.Name == "" {
			if kind == KindTimestamp {
				field.Name = "time"
			} else {
				field.Name = fm.Property
			}
		}
		if field.Type == "" {
			if field.Type, err = inferLogicalType(kind, sf.Type); err != nil {
				return fmt.Errorf("property %q: %w", fm.Property, err)
			}
		}
		if err := target.AddField(field); err != nil {
			return err
		}
	}
	return nil
}
