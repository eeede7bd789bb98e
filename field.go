package rtc

import (
	"fmt"
	"maps"
	"slices"
)

// FieldChange is an instruction to change one field of a record. There is
// exactly one implementation per FieldKind; the set is closed.
type FieldChange interface {
	Kind() FieldKind
	// applyTo returns the new field value; cur is never mutated.
	applyTo(cur any) (any, error)
}

// RegisterChange replaces the value of a register field.
type RegisterChange struct {
	Value any
}

// ListSplice removes Remove items at Index and inserts Values there. Index is
// clamped to the list bounds; a negative Remove removes everything from
// Index to the end.
type ListSplice struct {
	Index  int
	Remove int
	Values []any
}

type ListChange struct {
	Splices []ListSplice
}

// MapChange sets the given keys; a nil value deletes the key.
type MapChange struct {
	Items map[string]any
}

// TextSplice is like ListSplice, with indices counted in runes.
type TextSplice struct {
	Index  int
	Remove int
	Text   string
}

type TextChange struct {
	Splices []TextSplice
}

func (RegisterChange) Kind() FieldKind { return KindRegister }
func (ListChange) Kind() FieldKind     { return KindList }
func (MapChange) Kind() FieldKind      { return KindMap }
func (TextChange) Kind() FieldKind     { return KindText }

func Set(value any) RegisterChange {
	return RegisterChange{Value: value}
}

// SetList replaces the whole content of a list field.
func SetList(values ...any) ListChange {
	return SpliceList(0, -1, values...)
}

func SpliceList(index, remove int, values ...any) ListChange {
	return ListChange{Splices: []ListSplice{{Index: index, Remove: remove, Values: slices.Clone(values)}}}
}

func SetMapItems(items map[string]any) MapChange {
	return MapChange{Items: maps.Clone(items)}
}

func DeleteMapItems(keys ...string) MapChange {
	items := make(map[string]any, len(keys))
	for _, k := range keys {
		items[k] = nil
	}
	return MapChange{Items: items}
}

// SetText replaces the whole content of a text field.
func SetText(s string) TextChange {
	return SpliceText(0, -1, s)
}

func SpliceText(index, remove int, text string) TextChange {
	return TextChange{Splices: []TextSplice{{Index: index, Remove: remove, Text: text}}}
}

func (c RegisterChange) applyTo(cur any) (any, error) {
	return c.Value, nil
}

func (c ListChange) applyTo(cur any) (any, error) {
	list, ok := cur.([]any)
	if !ok && cur != nil {
		return nil, fmt.Errorf("list field holds %T", cur)
	}
	list = slices.Clone(list)
	for _, sp := range c.Splices {
		start, end := spliceBounds(len(list), sp.Index, sp.Remove)
		list = slices.Replace(list, start, end, sp.Values...)
	}
	if list == nil {
		list = []any{}
	}
	return list, nil
}

func (c MapChange) applyTo(cur any) (any, error) {
	m, ok := cur.(map[string]any)
	if !ok && cur != nil {
		return nil, fmt.Errorf("map field holds %T", cur)
	}
	m = maps.Clone(m)
	if m == nil {
		m = make(map[string]any, len(c.Items))
	}
	for k, v := range c.Items {
		if v == nil {
			delete(m, k)
		} else {
			m[k] = v
		}
	}
	return m, nil
}

func (c TextChange) applyTo(cur any) (any, error) {
	s, ok := cur.(string)
	if !ok && cur != nil {
		return nil, fmt.Errorf("text field holds %T", cur)
	}
	text := []rune(s)
	for _, sp := range c.Splices {
		start, end := spliceBounds(len(text), sp.Index, sp.Remove)
		text = slices.Replace(text, start, end, []rune(sp.Text)...)
	}
	return string(text), nil
}

func spliceBounds(n, index, remove int) (start, end int) {
	start = min(max(index, 0), n)
	if remove < 0 || remove > n-start {
		return start, n
	}
	return start, start + remove
}
