package rtc

import (
	"github.com/jupyterlab/rtc/rx"
)

// Observe implements Store. Each subscriber receives the current records of
// the table (ordered by id) synchronously during Subscribe, then a fresh
// snapshot after every committed transaction that changed the table.
// Snapshots never go backwards in time for a given subscriber.
//
// The stream fails with a SourceFailure if the schema is not part of the
// store's registry, if reading fails, or when the store is closed.
func (db *DB) Observe(s *Schema) rx.Observable[[]*Record] {
	return func(o rx.Observer[[]*Record]) rx.Subscription {
		if s == nil || db.registry.Schema(s.id) != s {
			id := "<nil>"
			if s != nil {
				id = s.id
			}
			o.OnError(&Failure{Kind: SourceFailure, Err: recordErrf(id, "", "", ErrUnknownSchema, "")})
			return nil
		}
		n := db.notifier
		sub := &tableSub{n: n, schema: s, obs: o}

		// held until the initial snapshot is out, so that the dispatcher
		// cannot overtake it
		sub.deliverMu.Lock()
		defer sub.deliverMu.Unlock()

		if !n.add(sub) {
			sub.cancelled.Store(true)
			o.OnError(&Failure{Kind: SourceFailure, Err: ErrClosed})
			return nil
		}

		snap, err := db.snapshot(s)
		if err != nil {
			if !sub.cancelled.Swap(true) {
				n.remove(sub)
				o.OnError(&Failure{Kind: SourceFailure, Err: err})
			}
			return sub
		}
		if sub.cancelled.Load() {
			return sub
		}
		sub.seq = snap.seq
		sub.delivered = true
		o.OnNext(snap.records)
		return sub
	}
}

// StreamCount returns the number of active record stream subscriptions.
func (db *DB) StreamCount() int {
	return db.notifier.count()
}
