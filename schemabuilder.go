package rtc

import (
	"fmt"
	"strings"
)

type SchemaBuilder struct {
	s *Schema
}

// DefineSchema adds a table schema to reg. Misuse (duplicate ids or field
// names, reserved names) panics: schemas are static program definitions.
func DefineSchema(reg *Registry, id string, f func(b *SchemaBuilder)) *Schema {
	if id == "" || strings.HasPrefix(id, "_") {
		panic(fmt.Sprintf("DefineSchema(%q): invalid schema id", id))
	}
	s := &Schema{
		id:           id,
		fieldsByName: make(map[string]*Field),
	}
	b := SchemaBuilder{s: s}
	if f != nil {
		f(&b)
	}
	reg.addSchema(s)
	return s
}

func (b *SchemaBuilder) add(name string, kind FieldKind, def any) {
	if name == "" {
		panic(fmt.Sprintf("%s: empty field name", b.s.id))
	}
	if b.s.fieldsByName[name] != nil {
		panic(fmt.Sprintf("%s already has field %q", b.s.id, name))
	}
	fld := &Field{Name: name, Kind: kind, Default: def}
	b.s.fields = append(b.s.fields, fld)
	b.s.fieldsByName[name] = fld
}

// Register adds a last-writer-wins scalar field with the given initial value.
func (b *SchemaBuilder) Register(name string, def any) {
	b.add(name, KindRegister, def)
}

func (b *SchemaBuilder) String(name string) {
	b.add(name, KindRegister, "")
}

func (b *SchemaBuilder) Number(name string) {
	b.add(name, KindRegister, float64(0))
}

func (b *SchemaBuilder) Boolean(name string) {
	b.add(name, KindRegister, false)
}

func (b *SchemaBuilder) List(name string) {
	b.add(name, KindList, nil)
}

func (b *SchemaBuilder) Map(name string) {
	b.add(name, KindMap, nil)
}

func (b *SchemaBuilder) Text(name string) {
	b.add(name, KindText, nil)
}
