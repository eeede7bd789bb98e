package rtc

import (
	"fmt"
	"slices"
)

// FieldKind is the closed set of field kinds a Schema can declare.
type FieldKind int

const (
	KindRegister FieldKind = iota + 1
	KindList
	KindMap
	KindText
)

func (k FieldKind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

func (k FieldKind) valid() bool {
	return k >= KindRegister && k <= KindText
}

// Field is one named, typed slot of a Schema. Default is only meaningful for
// registers; the other kinds always start empty.
type Field struct {
	Name    string
	Kind    FieldKind
	Default any
}

// zero returns the initial value of the field in a new record.
func (f *Field) zero() any {
	switch f.Kind {
	case KindRegister:
		return f.Default
	case KindList:
		return []any{}
	case KindMap:
		return map[string]any{}
	case KindText:
		return ""
	default:
		panic(fmt.Errorf("field %s: %v", f.Name, f.Kind))
	}
}

// Schema describes a table: its identifier and its fields. A Schema is
// immutable once DefineSchema returns.
type Schema struct {
	registry     *Registry
	id           string
	pos          int
	fields       []*Field
	fieldsByName map[string]*Field
}

func (s *Schema) ID() string {
	return s.id
}

func (s *Schema) String() string {
	return s.id
}

func (s *Schema) Registry() *Registry {
	return s.registry
}

func (s *Schema) Fields() []*Field {
	return slices.Clone(s.fields)
}

func (s *Schema) Field(name string) *Field {
	return s.fieldsByName[name]
}

func (s *Schema) MustField(name string) *Field {
	f := s.fieldsByName[name]
	if f == nil {
		panic(fmt.Errorf("%s has no field %q", s.id, name))
	}
	return f
}

// Registry is the set of schemas known to a store.
type Registry struct {
	schemas []*Schema
	byID    map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Schema),
	}
}

func (reg *Registry) Schemas() []*Schema {
	return slices.Clone(reg.schemas)
}

// Schema returns the schema with the given id, or nil.
func (reg *Registry) Schema(id string) *Schema {
	return reg.byID[id]
}

func (reg *Registry) addSchema(s *Schema) {
	if reg.byID[s.id] != nil {
		panic(fmt.Errorf("schema %q already defined", s.id))
	}
	s.registry = reg
	s.pos = len(reg.schemas)
	reg.schemas = append(reg.schemas, s)
	reg.byID[s.id] = s
}
