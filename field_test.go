package rtc

import (
	"testing"
)

func TestListChange(t *testing.T) {
	tests := []struct {
		name string
		cur  any
		chg  ListChange
		want []any
	}{
		{"set on nil", nil, SetList("a", "b"), []any{"a", "b"}},
		{"set replaces", []any{"x", "y", "z"}, SetList("a"), []any{"a"}},
		{"insert", []any{"a", "c"}, SpliceList(1, 0, "b"), []any{"a", "b", "c"}},
		{"remove", []any{"a", "b", "c"}, SpliceList(1, 1), []any{"a", "c"}},
		{"remove to end", []any{"a", "b", "c"}, SpliceList(1, -1), []any{"a"}},
		{"index clamped", []any{"a"}, SpliceList(10, 3, "b"), []any{"a", "b"}},
		{"negative index", []any{"a"}, SpliceList(-5, 0, "b"), []any{"b", "a"}},
		{"clear", []any{"a"}, SetList(), []any{}},
		{"multiple splices", []any{"a", "b"}, ListChange{Splices: []ListSplice{
			{Index: 0, Remove: 1},
			{Index: 1, Values: []any{"c"}},
		}}, []any{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.chg.applyTo(tt.cur)
			if err != nil {
				t.Fatal(err)
			}
			deepEqual(t, v, any(tt.want))
		})
	}
}

func TestListChange_DoesNotModifyCurrent(t *testing.T) {
	cur := []any{"a", "b"}
	_, err := SpliceList(0, 1, "z").applyTo(cur)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, cur, []any{"a", "b"})
}

func TestMapChange(t *testing.T) {
	cur := map[string]any{"a": 1, "b": 2}
	v, err := SetMapItems(map[string]any{"b": 3, "c": 4}).applyTo(cur)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, v, any(map[string]any{"a": 1, "b": 3, "c": 4}))
	deepEqual(t, cur, map[string]any{"a": 1, "b": 2})

	v, err = DeleteMapItems("a", "missing").applyTo(v)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, v, any(map[string]any{"b": 3, "c": 4}))

	v, err = SetMapItems(nil).applyTo(nil)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, v, any(map[string]any{}))
}

func TestTextChange(t *testing.T) {
	tests := []struct {
		name string
		cur  string
		chg  TextChange
		want string
	}{
		{"set", "old", SetText("new"), "new"},
		{"insert", "helo", SpliceText(3, 0, "l"), "hello"},
		{"delete", "hello world", SpliceText(5, -1, ""), "hello"},
		{"runes", "héllo", SpliceText(1, 1, "e"), "hello"},
		{"emoji", "a😀b", SpliceText(2, 0, "!"), "a😀!b"},
		{"clamped", "abc", SpliceText(99, 0, "d"), "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.chg.applyTo(tt.cur)
			if err != nil {
				t.Fatal(err)
			}
			if v != tt.want {
				t.Fatalf("applyTo(%q) = %q, wanted %q", tt.cur, v, tt.want)
			}
		})
	}
}

func TestFieldChange_WrongCurrentValue(t *testing.T) {
	if _, err := SetList("a").applyTo("text"); err == nil {
		t.Errorf("ListChange on a string succeeded")
	}
	if _, err := SetMapItems(map[string]any{"a": 1}).applyTo(42); err == nil {
		t.Errorf("MapChange on an int succeeded")
	}
	if _, err := SetText("a").applyTo([]any{}); err == nil {
		t.Errorf("TextChange on a list succeeded")
	}
}

func TestFieldChange_Kind(t *testing.T) {
	deepEqual(t, Set(1).Kind(), KindRegister)
	deepEqual(t, SetList().Kind(), KindList)
	deepEqual(t, SetMapItems(nil).Kind(), KindMap)
	deepEqual(t, SetText("").Kind(), KindText)
}
