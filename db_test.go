package rtc

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_ResolveAndUpdate(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		write(t, db, DatastoreUpdates{
			"cells": {"c1": {
				"source":  SetText("print(1)"),
				"outputs": SetList("1"),
			}},
		})

		rec := get(t, db, cellsSchema, "c1")
		deepEqual(t, rec.Text("source"), "print(1)")
		deepEqual(t, rec.List("outputs"), []any{"1"})
		deepEqual(t, rec.Map("metadata"), map[string]any{})
		deepEqual(t, rec.ModCount(), uint64(2))

		write(t, db, DatastoreUpdates{
			"cells": {"c1": {"source": SpliceText(5, 0, "(0)")}},
		})
		rec = get(t, db, cellsSchema, "c1")
		deepEqual(t, rec.Text("source"), "print(0)(1)")
		deepEqual(t, rec.List("outputs"), []any{"1"})
		deepEqual(t, rec.ModCount(), uint64(3))
	})
}

func TestStore_RecordsAreOrderedByID(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		write(t, db, DatastoreUpdates{
			"T": {
				"b": {"x": Set(2)},
				"a": {"x": Set(1)},
				"c": {"x": Set(3)},
			},
		})
		db.Read(func(tx *Tx) {
			deepEqual(t, ids(tx.Records(tSchema)), []string{"a", "b", "c"})
			deepEqual(t, tx.Count(tSchema), 3)
			deepEqual(t, tx.Count(cellsSchema), 0)
			if rec := tx.Get(tSchema, "zzz"); rec != nil {
				t.Fatalf("Get(zzz) = %v, wanted nil", rec)
			}
		})
	})
}

func TestStore_NoopWriteIsSkipped(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})

		var seq uint64
		db.Read(func(tx *Tx) { seq = tx.Seq() })

		var changes []*Change
		err := db.Update(func(tx *Tx) error {
			tx.OnChange(func(chg *Change) {
				changes = append(changes, chg)
			})
			return tx.UpdateRecord(tSchema, "r1", RecordUpdate{"x": Set(int64(1)), "label": Set("")})
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(changes) != 0 {
			t.Fatalf("OnChange called %d times, wanted 0", len(changes))
		}
		db.Read(func(tx *Tx) {
			deepEqual(t, tx.Seq(), seq)
		})
		deepEqual(t, get(t, db, tSchema, "r1").ModCount(), uint64(2))
	})
}

func TestStore_OnChange(t *testing.T) {
	db := setup(t, testReg)
	var ops []string
	err := db.Update(func(tx *Tx) error {
		tx.OnChange(func(chg *Change) {
			ops = append(ops, chg.Op().String()+" "+chg.Schema().ID()+"/"+chg.ID())
		})
		if err := tx.UpdateRecord(tSchema, "r1", RecordUpdate{"x": Set(5)}); err != nil {
			return err
		}
		return tx.UpdateRecord(tSchema, "r1", RecordUpdate{"label": Set("five")})
	})
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, ops, []string{"create T/r1", "update T/r1", "update T/r1"})
}

func TestStore_SeqGrowsWithEveryChangingCommit(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		seq := func() (v uint64) {
			db.Read(func(tx *Tx) { v = tx.Seq() })
			return
		}
		deepEqual(t, seq(), uint64(0))
		write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})
		deepEqual(t, seq(), uint64(1))
		write(t, db, DatastoreUpdates{"T": {"r2": {"x": Set(1)}}, "cells": {"c1": {}}})
		deepEqual(t, seq(), uint64(2))
		write(t, db, DatastoreUpdates{})
		deepEqual(t, seq(), uint64(2))
	})
}

func TestStore_FailedTransactionRollsBack(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		err := db.Transact(func(tx StoreTx) error {
			return applyUpdates(tx, DatastoreUpdates{
				"T":     {"r1": {"x": Set(1)}},
				"cells": {"c1": {"source": Set("not text")}},
			})
		})
		if !errors.Is(err, ErrKindMismatch) {
			t.Fatalf("Transact err = %v, wanted %v", err, ErrKindMismatch)
		}
		db.Read(func(tx *Tx) {
			deepEqual(t, tx.Count(tSchema), 0)
			deepEqual(t, tx.Count(cellsSchema), 0)
			deepEqual(t, tx.Seq(), uint64(0))
		})

		boom := errors.New("boom")
		err = db.Transact(func(tx StoreTx) error {
			if err := applyUpdates(tx, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}}); err != nil {
				return err
			}
			return boom
		})
		if err != boom {
			t.Fatalf("Transact err = %v, wanted %v", err, boom)
		}
		db.Read(func(tx *Tx) {
			deepEqual(t, tx.Count(tSchema), 0)
		})
	})
}

func TestStore_Errors(t *testing.T) {
	db := setup(t, testReg)
	err := db.Transact(func(tx StoreTx) error {
		_, err := tx.Resolve("nope", "r1")
		return err
	})
	if !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("Resolve(nope) err = %v, wanted %v", err, ErrUnknownSchema)
	}

	err = db.Transact(func(tx StoreTx) error {
		_, err := tx.Resolve("T", "")
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "empty record id") {
		t.Errorf("Resolve with empty id err = %v, wanted empty record id error", err)
	}

	err = db.Transact(func(tx StoreTx) error {
		h, err := tx.Resolve("T", "r1")
		if err != nil {
			return err
		}
		return h.Update(RecordUpdate{"y": Set(1)})
	})
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("Update(y) err = %v, wanted %v", err, ErrUnknownField)
	}

	err = db.View(func(tx *Tx) error {
		return tx.UpdateRecord(tSchema, "r1", RecordUpdate{"x": Set(1)})
	})
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("write in View err = %v, wanted read-only error", err)
	}
}

func TestStore_PanicBecomesError(t *testing.T) {
	db := setup(t, testReg)
	err := db.Transact(func(tx StoreTx) error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("Transact err = nil, wanted error")
	}
	if !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("Transact err = %q, wanted it to include %q", err.Error(), "panic: boom")
	}
	if s := db.DescribeOpenTxns(); s != "NO OPEN TRANSACTIONS" {
		t.Fatalf("DescribeOpenTxns = %q, wanted no open transactions", s)
	}
}

func TestStore_ForeignSchemaPanics(t *testing.T) {
	db := setup(t, testReg)
	other := DefineSchema(NewRegistry(), "T", func(b *SchemaBuilder) {
		b.Register("x", 0)
	})
	defer func() {
		if recover() == nil {
			t.Fatalf("reading a schema of another registry did not panic")
		}
	}()
	db.Read(func(tx *Tx) {
		tx.Records(other)
	})
}

func TestStore_Closed(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
		if err := db.Close(); err != nil {
			t.Fatalf("second Close = %v, wanted nil", err)
		}
		if !db.IsClosed() {
			t.Fatalf("IsClosed = false, wanted true")
		}
		err := db.Transact(func(tx StoreTx) error { return nil })
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Transact after Close = %v, wanted %v", err, ErrClosed)
		}
	})
}

func TestOpen_PersistsData(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "rtc.db")
	db := must(Open(fn, testReg, Options{IsTesting: true}))
	write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(42), "label": Set("answer")}}})
	db.Close()

	db = must(Open(fn, testReg, Options{IsTesting: true}))
	defer db.Close()
	rec := get(t, db, tSchema, "r1")
	deepEqual(t, rec.Register("x"), any(int64(42)))
	deepEqual(t, rec.Register("label"), any("answer"))
	db.Read(func(tx *Tx) {
		deepEqual(t, tx.Seq(), uint64(1))
	})
}

func TestOpen_SchemaEvolution(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "rtc.db")

	reg1 := NewRegistry()
	s1 := DefineSchema(reg1, "notes", func(b *SchemaBuilder) {
		b.String("title")
		b.List("tags")
	})
	db := must(Open(fn, reg1, Options{IsTesting: true}))
	err := db.Update(func(tx *Tx) error {
		return tx.UpdateRecord(s1, "n1", RecordUpdate{"title": Set("hi"), "tags": SetList("a")})
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	// added fields take their default, removed ones disappear
	reg2 := NewRegistry()
	s2 := DefineSchema(reg2, "notes", func(b *SchemaBuilder) {
		b.String("title")
		b.Map("extra")
	})
	db = must(Open(fn, reg2, Options{IsTesting: true}))
	rec := get(t, db, s2, "n1")
	deepEqual(t, rec.Values(), map[string]any{"title": "hi", "extra": map[string]any{}})
	db.Close()

	// a kind change is refused
	reg3 := NewRegistry()
	DefineSchema(reg3, "notes", func(b *SchemaBuilder) {
		b.Text("title")
	})
	_, err = Open(fn, reg3, Options{IsTesting: true})
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("Open err = %v, wanted *SchemaError", err)
	}
	if se.Schema != "notes" || se.Field != "title" || se.Stored != KindRegister || se.Declared != KindText {
		t.Fatalf("SchemaError = %+v, wanted notes.title register -> text", se)
	}
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("errors.Is(err, ErrKindMismatch) = false, wanted true")
	}
}

func TestSchema_DefinitionPanics(t *testing.T) {
	tests := []struct {
		name string
		f    func()
	}{
		{"duplicate schema", func() {
			reg := NewRegistry()
			DefineSchema(reg, "a", nil)
			DefineSchema(reg, "a", nil)
		}},
		{"reserved id", func() {
			DefineSchema(NewRegistry(), "_meta", nil)
		}},
		{"duplicate field", func() {
			DefineSchema(NewRegistry(), "a", func(b *SchemaBuilder) {
				b.String("f")
				b.List("f")
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("did not panic")
				}
			}()
			tt.f()
		})
	}
}
