package rtc

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var (
	testReg = NewRegistry()

	cellsSchema = DefineSchema(testReg, "cells", func(b *SchemaBuilder) {
		b.Text("source")
		b.List("outputs")
		b.Map("metadata")
		b.Number("executionCount")
		b.Boolean("trusted")
	})
	tSchema = DefineSchema(testReg, "T", func(b *SchemaBuilder) {
		b.Register("x", 0)
		b.String("label")
	})
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func setup(t testing.TB, reg *Registry) *DB {
	t.Helper()
	db := must(Open(filepath.Join(t.TempDir(), "rtc.db"), reg, Options{
		IsTesting: true,
		Verbose:   true,
	}))
	t.Cleanup(func() { db.Close() })
	return db
}

type backend struct {
	name string
	open func(t testing.TB, reg *Registry, opt Options) *DB
}

var backends = []backend{
	{"bolt", func(t testing.TB, reg *Registry, opt Options) *DB {
		return must(Open(filepath.Join(t.TempDir(), "rtc.db"), reg, opt))
	}},
	{"memory", func(t testing.TB, reg *Registry, opt Options) *DB {
		return must(OpenMemory(reg, opt))
	}},
	{"sqlite", func(t testing.TB, reg *Registry, opt Options) *DB {
		return must(OpenSQLite(filepath.Join(t.TempDir(), "rtc.sqlite"), reg, opt))
	}},
}

// forEachBackend runs f against a fresh store of every storage backend.
func forEachBackend(t *testing.T, reg *Registry, f func(t *testing.T, db *DB)) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			db := be.open(t, reg, Options{IsTesting: true, Verbose: true})
			t.Cleanup(func() { db.Close() })
			f(t, db)
		})
	}
}

func write(t testing.TB, db *DB, u DatastoreUpdates) {
	t.Helper()
	err := db.Transact(func(tx StoreTx) error {
		return applyUpdates(tx, u)
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
}

func get(t testing.TB, db *DB, s *Schema, id string) *Record {
	t.Helper()
	var rec *Record
	db.Read(func(tx *Tx) {
		rec = tx.Get(s, id)
	})
	if rec == nil {
		t.Fatalf("%s/%s not found", s.id, id)
	}
	return rec
}

func ids(recs []*Record) []string {
	result := make([]string, len(recs))
	for i, rec := range recs {
		result[i] = rec.ID()
	}
	return result
}

// eventually polls cond until it holds, failing the test after a few seconds.
func eventually(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
