package rtc

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Record is an immutable snapshot of one row of a table. Accessors return
// copies of list and map values, so callers may modify them freely.
type Record struct {
	schema *Schema
	id     string
	values map[string]any
	meta   ValueMeta
}

func newRecord(s *Schema, id string) *Record {
	values := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		values[f.Name] = normalizeValue(f.zero())
	}
	return &Record{schema: s, id: id, values: values}
}

func (r *Record) ID() string {
	return r.id
}

func (r *Record) Schema() *Schema {
	return r.schema
}

func (r *Record) ModCount() uint64 {
	return r.meta.ModCount
}

func (r *Record) raw(f *Field) any {
	if v, ok := r.values[f.Name]; ok {
		return v
	}
	return normalizeValue(f.zero())
}

func (r *Record) typed(name string, kind FieldKind) any {
	f := r.schema.MustField(name)
	if f.Kind != kind {
		panic(fmt.Errorf("%s.%s is a %v field, not %v", r.schema.id, name, f.Kind, kind))
	}
	return r.raw(f)
}

// Get returns the value of any field. Lists and maps are copied.
func (r *Record) Get(name string) any {
	return copyValue(r.raw(r.schema.MustField(name)))
}

func (r *Record) Register(name string) any {
	return r.typed(name, KindRegister)
}

func (r *Record) List(name string) []any {
	v, _ := r.typed(name, KindList).([]any)
	return slices.Clone(v)
}

func (r *Record) Map(name string) map[string]any {
	v, _ := r.typed(name, KindMap).(map[string]any)
	return maps.Clone(v)
}

func (r *Record) Text(name string) string {
	v, _ := r.typed(name, KindText).(string)
	return v
}

// Values returns all fields of the record, including the ones that still
// hold their defaults.
func (r *Record) Values() map[string]any {
	result := make(map[string]any, len(r.schema.fields))
	for _, f := range r.schema.fields {
		result[f.Name] = copyValue(r.raw(f))
	}
	return result
}

func (r *Record) String() string {
	raw, err := json.Marshal(r.Values())
	if err != nil {
		return fmt.Sprintf("%s/%s <%v>", r.schema.id, r.id, err)
	}
	return fmt.Sprintf("%s/%s %s", r.schema.id, r.id, raw)
}

// withUpdate returns the field values after applying upd. The record itself
// is not modified. All changes are validated before any is applied.
func (r *Record) withUpdate(upd RecordUpdate) (map[string]any, error) {
	s := r.schema
	for _, name := range upd.FieldNames() {
		f := s.Field(name)
		if f == nil {
			return nil, recordErrf(s.id, r.id, name, ErrUnknownField, "")
		}
		ch := upd[name]
		if ch == nil {
			return nil, recordErrf(s.id, r.id, name, ErrKindMismatch, "nil change")
		}
		if ch.Kind() != f.Kind {
			return nil, recordErrf(s.id, r.id, name, ErrKindMismatch, "%v change for a %v field", ch.Kind(), f.Kind)
		}
	}

	values := maps.Clone(r.values)
	for _, name := range upd.FieldNames() {
		f := s.fieldsByName[name]
		v, err := upd[name].applyTo(r.raw(f))
		if err != nil {
			return nil, recordErrf(s.id, r.id, name, ErrKindMismatch, "%v", err)
		}
		values[name] = normalizeValue(v)
	}
	return values, nil
}

func encodeRecordValues(values map[string]any) []byte {
	return encodeMsgpack(nil, values)
}

func decodeRecord(s *Schema, id string, raw []byte) (*Record, error) {
	var vle value
	if err := vle.decode(raw); err != nil {
		return nil, recordErrf(s.id, id, "", err, "")
	}
	var values map[string]any
	if err := decodeMsgpack(vle.Data, &values); err != nil {
		return nil, recordErrf(s.id, id, "", err, "")
	}
	for k := range values {
		if s.fieldsByName[k] == nil {
			delete(values, k)
		}
	}
	if values == nil {
		values = make(map[string]any)
	}
	return &Record{schema: s, id: id, values: values, meta: vle.ValueMeta()}, nil
}

func copyValue(v any) any {
	switch v := v.(type) {
	case []any:
		return slices.Clone(v)
	case map[string]any:
		return maps.Clone(v)
	default:
		return v
	}
}
