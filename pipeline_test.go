package rtc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jupyterlab/rtc/rx"
	"github.com/jupyterlab/rtc/rx/rxtest"
)

func TestCreate_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, u := Create(tSchema, RecordUpdate{"x": Set(i)})
		if seen[id] {
			t.Fatalf("Create returned %q twice", id)
		}
		seen[id] = true
		deepEqual(t, u, DatastoreUpdates{"T": {id: {"x": Set(i)}}})
	}
}

func TestCreate_CopiesFields(t *testing.T) {
	fields := RecordUpdate{"x": Set(1)}
	id, u := Create(tSchema, fields)
	fields["label"] = Set("later")
	deepEqual(t, u["T"][id], RecordUpdate{"x": Set(1)})

	_, u = Create(tSchema, nil)
	for _, ru := range u["T"] {
		if ru == nil {
			t.Fatalf("Create(nil) produced a nil RecordUpdate")
		}
	}
}

func TestUpdate_Shape(t *testing.T) {
	deepEqual(t, Update(tSchema, TableUpdate{"r1": {"x": Set(2)}}), DatastoreUpdates{"T": {"r1": {"x": Set(2)}}})
	deepEqual(t, Update(tSchema, nil), DatastoreUpdates{"T": {}})
}

func counterIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id%d", n)
	}
}

func TestPipeline_HelpersCreateUsesGenerator(t *testing.T) {
	db := setup(t, testReg)
	p := NewPipeline([]*Schema{tSchema}, func(h *Helpers) rx.Observable[DatastoreUpdates] {
		return rx.Map(h.Records(tSchema), func(recs []*Record) DatastoreUpdates {
			_, a := h.Create(tSchema, RecordUpdate{"x": Set(len(recs))})
			_, b := h.Create(tSchema, nil)
			return h.Merge(a, b, h.Update(tSchema, TableUpdate{"id1": {"label": Set("first")}}))
		})
	}, WithIDGenerator(counterIDs()))

	rec := rxtest.NewRecorder[DatastoreUpdates]()
	defer p(db.Observe).Subscribe(rec).Unsubscribe()
	deepEqual(t, rec.Values(), []DatastoreUpdates{{
		"T": {
			"id1": {"x": Set(0), "label": Set("first")},
			"id2": {},
		},
	}})
}

func TestPipeline_FunctionRunsPerSubscription(t *testing.T) {
	db := setup(t, testReg)
	var calls int
	p := NewPipeline([]*Schema{tSchema}, func(h *Helpers) rx.Observable[DatastoreUpdates] {
		calls++
		return rx.Empty[DatastoreUpdates]()
	})
	src := p(db.Observe)
	deepEqual(t, calls, 0)
	src.Subscribe(rxtest.NewRecorder[DatastoreUpdates]())
	src.Subscribe(rxtest.NewRecorder[DatastoreUpdates]())
	deepEqual(t, calls, 2)
}

func TestPipeline_UndeclaredSchemaFails(t *testing.T) {
	db := setup(t, testReg)
	p := NewPipeline([]*Schema{tSchema}, func(h *Helpers) rx.Observable[DatastoreUpdates] {
		return rx.Map(h.Records(cellsSchema), func([]*Record) DatastoreUpdates { return nil })
	})
	rec := rxtest.NewRecorder[DatastoreUpdates]()
	p(db.Observe).Subscribe(rec)

	var pe *rx.PanicError
	if !errors.As(rec.Err(), &pe) {
		t.Fatalf("err = %v, wanted *rx.PanicError", rec.Err())
	}
	deepEqual(t, db.StreamCount(), 0)
}

func TestCombine(t *testing.T) {
	a := rx.NewSubject[DatastoreUpdates]()
	b := rx.NewSubject[DatastoreUpdates]()
	p := Combine(
		func(GetFunc) rx.Observable[DatastoreUpdates] { return a.Observable() },
		func(GetFunc) rx.Observable[DatastoreUpdates] { return b.Observable() },
	)
	rec := rxtest.NewRecorder[DatastoreUpdates]()
	p(nil).Subscribe(rec)

	u1 := Update(tSchema, TableUpdate{"r1": {"x": Set(1)}})
	u2 := Update(tSchema, TableUpdate{"r2": {"x": Set(2)}})
	a.Next(u1)
	b.Next(u2)
	a.Stop()
	if rec.Completed() {
		t.Fatalf("completed before every pipeline completed")
	}
	b.Stop()
	deepEqual(t, rec.Values(), []DatastoreUpdates{u1, u2})
	if !rec.Completed() {
		t.Fatalf("not completed after every pipeline completed")
	}
}
