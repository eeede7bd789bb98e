package rtc

import (
	"errors"
	"testing"
	"time"
)

func TestNewRecord_Defaults(t *testing.T) {
	rec := newRecord(cellsSchema, "c1")
	deepEqual(t, rec.Text("source"), "")
	deepEqual(t, rec.List("outputs"), []any{})
	deepEqual(t, rec.Map("metadata"), map[string]any{})
	deepEqual(t, rec.Register("executionCount"), any(float64(0)))
	deepEqual(t, rec.Register("trusted"), any(false))

	rec = newRecord(tSchema, "r1")
	deepEqual(t, rec.Register("x"), any(int64(0)))
}

func TestRecord_WithUpdate(t *testing.T) {
	rec := newRecord(cellsSchema, "c1")
	values, err := rec.withUpdate(RecordUpdate{
		"source":         SetText("print(1)"),
		"outputs":        SetList("out", 200, uint8(7)),
		"metadata":       SetMapItems(map[string]any{"collapsed": true, "n": int32(3)}),
		"executionCount": Set(float32(1.5)),
	})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, values["source"], any("print(1)"))
	deepEqual(t, values["outputs"], any([]any{"out", int64(200), int64(7)}))
	deepEqual(t, values["metadata"], any(map[string]any{"collapsed": true, "n": int64(3)}))
	deepEqual(t, values["executionCount"], any(float64(1.5)))
	deepEqual(t, values["trusted"], any(false))

	// the record itself is untouched
	deepEqual(t, rec.Text("source"), "")
}

func TestRecord_WithUpdate_Errors(t *testing.T) {
	rec := newRecord(cellsSchema, "c1")
	tests := []struct {
		name string
		upd  RecordUpdate
		err  error
	}{
		{"unknown field", RecordUpdate{"nope": Set(1)}, ErrUnknownField},
		{"kind mismatch", RecordUpdate{"source": Set("x")}, ErrKindMismatch},
		{"nil change", RecordUpdate{"source": nil}, ErrKindMismatch},
		{"all or nothing", RecordUpdate{"source": SetText("ok"), "outputs": SetText("bad")}, ErrKindMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.withUpdate(tt.upd)
			if !errors.Is(err, tt.err) {
				t.Fatalf("withUpdate err = %v, wanted %v", err, tt.err)
			}
			var re *RecordError
			if !errors.As(err, &re) || re.Schema != "cells" || re.ID != "c1" {
				t.Fatalf("withUpdate err = %#v, wanted *RecordError for cells/c1", err)
			}
		})
	}
}

func TestRecord_WrongKindAccessPanics(t *testing.T) {
	rec := newRecord(cellsSchema, "c1")
	defer func() {
		if recover() == nil {
			t.Fatalf("Text of a list field did not panic")
		}
	}()
	rec.Text("outputs")
}

func TestRecord_AccessorsReturnCopies(t *testing.T) {
	rec := newRecord(cellsSchema, "c1")
	values, err := rec.withUpdate(RecordUpdate{"outputs": SetList("a")})
	if err != nil {
		t.Fatal(err)
	}
	rec = &Record{schema: cellsSchema, id: "c1", values: values}

	list := rec.List("outputs")
	list[0] = "changed"
	deepEqual(t, rec.List("outputs"), []any{"a"})
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{1, int64(1)},
		{int8(-3), int64(-3)},
		{uint(5), int64(5)},
		{uint64(1 << 63), uint64(1 << 63)},
		{float32(0.5), float64(0.5)},
		{"s", "s"},
		{[]any{1, []any{2}}, []any{int64(1), []any{int64(2)}}},
		{[]string{"a", "b"}, []any{"a", "b"}},
		{map[string]int{"a": 200}, map[string]any{"a": int64(200)}},
	}
	for _, tt := range tests {
		deepEqual(t, normalizeValue(tt.in), tt.want)
	}
}

func TestRecord_EncodingRoundTrip(t *testing.T) {
	rec := newRecord(cellsSchema, "c1")
	values, err := rec.withUpdate(RecordUpdate{
		"source":   SetText("x = 1"),
		"outputs":  SetList(1000, -1, 2.5, "s", nil, true),
		"metadata": SetMapItems(map[string]any{"tags": []any{"a"}, "when": 300}),
	})
	if err != nil {
		t.Fatal(err)
	}
	raw := appendValue(nil, vfDefault, 2, encodeRecordValues(values))
	dec, err := decodeRecord(cellsSchema, "c1", raw)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, dec.Values(), values)
	deepEqual(t, dec.ModCount(), uint64(2))
}

func TestDecodeRecord_DropsUnknownFields(t *testing.T) {
	data := encodeRecordValues(map[string]any{"x": int64(1), "gone": "old", "at": time.Unix(0, 0)})
	rec, err := decodeRecord(tSchema, "r1", appendValue(nil, vfDefault, 1, data))
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, rec.Values(), map[string]any{"x": int64(1), "label": ""})
}
