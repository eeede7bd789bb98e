package rtc

import (
	"errors"
	"testing"

	"github.com/jupyterlab/rtc/rx"
	"github.com/jupyterlab/rtc/rx/rxtest"
)

func TestObserve_InitialSnapshot(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		write(t, db, DatastoreUpdates{"T": {
			"r2": {"x": Set(2)},
			"r1": {"x": Set(1)},
		}})

		rec := rxtest.NewRecorder[[]*Record]()
		sub := db.Observe(tSchema).Subscribe(rec)
		defer sub.Unsubscribe()

		// delivered synchronously during Subscribe
		if n := rec.Len(); n != 1 {
			t.Fatalf("emissions after Subscribe = %d, wanted 1", n)
		}
		first := rec.Last()
		deepEqual(t, ids(first), []string{"r1", "r2"})
		deepEqual(t, first[1].Register("x"), any(int64(2)))
	})
}

func TestObserve_EmptyTable(t *testing.T) {
	db := setup(t, testReg)
	rec := rxtest.NewRecorder[[]*Record]()
	sub := db.Observe(tSchema).Subscribe(rec)
	defer sub.Unsubscribe()
	deepEqual(t, rec.Values(), [][]*Record{{}})
}

func TestObserve_UpdatesAfterCommit(t *testing.T) {
	forEachBackend(t, testReg, func(t *testing.T, db *DB) {
		rec := rxtest.NewRecorder[[]*Record]()
		sub := db.Observe(tSchema).Subscribe(rec)
		defer sub.Unsubscribe()

		write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})
		rec.WaitFor(t, "r1", func(r *rxtest.Recorder[[]*Record]) bool {
			return len(r.Last()) == 1
		})

		write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(7)}}})
		rec.WaitFor(t, "r1.x = 7", func(r *rxtest.Recorder[[]*Record]) bool {
			last := r.Last()
			return len(last) == 1 && last[0].Register("x") == any(int64(7))
		})

		// snapshots never go backwards
		var prev int64 = -1
		for _, snap := range rec.Values() {
			var x int64
			if len(snap) > 0 {
				x = snap[0].Register("x").(int64)
			}
			if x < prev {
				t.Fatalf("snapshot went backwards: x = %d after %d", x, prev)
			}
			prev = x
		}
	})
}

func TestObserve_OtherTablesDoNotEmit(t *testing.T) {
	db := setup(t, testReg)
	cells := rxtest.NewRecorder[[]*Record]()
	defer db.Observe(cellsSchema).Subscribe(cells).Unsubscribe()
	ts := rxtest.NewRecorder[[]*Record]()
	defer db.Observe(tSchema).Subscribe(ts).Unsubscribe()

	write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})
	ts.WaitLen(t, 2)
	if n := cells.Len(); n != 1 {
		t.Fatalf("cells emissions = %d, wanted 1", n)
	}
}

func TestObserve_NoopWriteDoesNotEmit(t *testing.T) {
	db := setup(t, testReg)
	write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})

	rec := rxtest.NewRecorder[[]*Record]()
	defer db.Observe(tSchema).Subscribe(rec).Unsubscribe()

	write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})
	// a real change afterwards proves the dispatcher has caught up
	write(t, db, DatastoreUpdates{"T": {"r2": {"x": Set(2)}}})
	rec.WaitFor(t, "r2", func(r *rxtest.Recorder[[]*Record]) bool {
		return len(r.Last()) == 2
	})
	if n := rec.Len(); n != 2 {
		t.Fatalf("emissions = %d, wanted 2", n)
	}
}

func TestObserve_Unsubscribe(t *testing.T) {
	db := setup(t, testReg)
	rec := rxtest.NewRecorder[[]*Record]()
	sub := db.Observe(tSchema).Subscribe(rec)
	deepEqual(t, db.StreamCount(), 1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	deepEqual(t, db.StreamCount(), 0)

	write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})
	if n := rec.Len(); n != 1 {
		t.Fatalf("emissions = %d, wanted 1", n)
	}
}

func TestObserve_CloseFailsStreams(t *testing.T) {
	db := setup(t, testReg)
	rec := rxtest.NewRecorder[[]*Record]()
	db.Observe(tSchema).Subscribe(rec)

	db.Close()
	rec.WaitDone(t)
	if !errors.Is(rec.Err(), ErrClosed) {
		t.Fatalf("err = %v, wanted %v", rec.Err(), ErrClosed)
	}
	deepEqual(t, FailureKindOf(rec.Err()), SourceFailure)

	late := rxtest.NewRecorder[[]*Record]()
	db.Observe(tSchema).Subscribe(late)
	if !errors.Is(late.Err(), ErrClosed) {
		t.Fatalf("err after Close = %v, wanted %v", late.Err(), ErrClosed)
	}
}

func TestObserve_UnknownSchema(t *testing.T) {
	db := setup(t, testReg)
	other := DefineSchema(NewRegistry(), "other", nil)
	rec := rxtest.NewRecorder[[]*Record]()
	db.Observe(other).Subscribe(rec)
	if !errors.Is(rec.Err(), ErrUnknownSchema) {
		t.Fatalf("err = %v, wanted %v", rec.Err(), ErrUnknownSchema)
	}
	deepEqual(t, FailureKindOf(rec.Err()), SourceFailure)
}

func TestObserve_UnsubscribeFromOnNext(t *testing.T) {
	db := setup(t, testReg)
	var sub rx.Subscription
	var calls int
	done := make(chan struct{})
	sub = db.Observe(tSchema).Subscribe(rx.Funcs[[]*Record]{
		Next: func(recs []*Record) {
			calls++
			if len(recs) > 0 {
				sub.Unsubscribe()
				close(done)
			}
		},
	})
	write(t, db, DatastoreUpdates{"T": {"r1": {"x": Set(1)}}})
	<-done
	write(t, db, DatastoreUpdates{"T": {"r2": {"x": Set(1)}}})
	eventually(t, "stream removal", func() bool { return db.StreamCount() == 0 })
	if calls != 2 {
		t.Fatalf("calls = %d, wanted 2", calls)
	}
}
