package rtc

import (
	"github.com/jupyterlab/rtc/rx"
)

// Store is what pipelines read from and connections write to. *DB is the
// implementation; tests may substitute their own.
type Store interface {
	// Observe returns a stream of snapshots of the table. Every subscriber
	// first receives the current content, then a new snapshot after each
	// committed transaction that changed the table.
	Observe(s *Schema) rx.Observable[[]*Record]

	// Transact runs f in a single transaction; it commits if f returns nil
	// and rolls back everything otherwise.
	Transact(f func(tx StoreTx) error) error
}

// StoreTx is the view of a transaction needed to apply DatastoreUpdates.
type StoreTx interface {
	// Resolve returns the record with the given id, creating it with field
	// defaults when it does not exist.
	Resolve(schemaID, id string) (RecordHandle, error)
}

type RecordHandle interface {
	ID() string
	// Update applies the changes to the record. Unknown fields fail with
	// ErrUnknownField, changes of the wrong kind with ErrKindMismatch.
	Update(upd RecordUpdate) error
}

var _ Store = (*DB)(nil)
