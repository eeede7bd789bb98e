package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jupyterlab/rtc/journal"
	"github.com/jupyterlab/rtc/rx"
)

type applyOptions struct {
	name    string
	logger  *slog.Logger
	metrics *Collector
	journal *journal.Journal
}

type ApplyOption func(o *applyOptions)

// WithName sets the connection name used in logs and metric labels.
func WithName(name string) ApplyOption {
	return func(o *applyOptions) {
		o.name = name
	}
}

func WithLogger(logger *slog.Logger) ApplyOption {
	return func(o *applyOptions) {
		o.logger = logger
	}
}

func WithMetrics(c *Collector) ApplyOption {
	return func(o *applyOptions) {
		o.metrics = c
	}
}

// WithJournal appends every committed emission to j, so that the outputs can
// later be re-applied with Replay.
func WithJournal(j *journal.Journal) ApplyOption {
	return func(o *applyOptions) {
		o.journal = j
	}
}

// Connection is a running subscription that applies each emission of a
// stream of DatastoreUpdates to a store, one transaction per emission.
type Connection struct {
	store Store
	opt   applyOptions

	mu     sync.Mutex // held for the duration of each transaction
	closed bool
	sub    rx.Subscription
	err    error
	done   chan struct{}

	emissions atomic.Uint64
	txns      atomic.Uint64
}

// Connect subscribes the pipeline to the store and applies its output back to
// the same store.
func Connect(p Pipeline, store Store, opts ...ApplyOption) *Connection {
	return Apply(p(store.Observe), store, opts...)
}

// Apply subscribes to src and applies every emission to store in its own
// transaction. Emissions are applied strictly one after another, in the
// order they arrive. The first failure stops the connection; see Err.
func Apply(src rx.Observable[DatastoreUpdates], store Store, opts ...ApplyOption) *Connection {
	c := &Connection{
		store: store,
		done:  make(chan struct{}),
	}
	c.opt.name = "default"
	for _, opt := range opts {
		opt(&c.opt)
	}
	if c.opt.logger == nil {
		c.opt.logger = slog.Default()
	}
	c.opt.logger = c.opt.logger.With(slog.String("connection", c.opt.name))

	sub := src.Subscribe(rx.Funcs[DatastoreUpdates]{
		Next:     c.apply,
		Error:    c.fail,
		Complete: c.complete,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.Unsubscribe()
	} else {
		c.sub = sub
	}
	return c
}

func (c *Connection) apply(u DatastoreUpdates) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	n := c.emissions.Add(1)
	c.opt.metrics.emission(c.opt.name)

	start := time.Now()
	err := c.store.Transact(func(tx StoreTx) error {
		return applyUpdates(tx, u)
	})
	if err != nil {
		c.finishLocked(&Failure{Kind: TransactionFailure, Err: err})
		return
	}
	c.txns.Add(1)
	c.opt.metrics.committed(c.opt.name, time.Since(start))

	if j := c.opt.journal; j != nil {
		if err := journalUpdates(j, u); err != nil {
			c.finishLocked(&Failure{Kind: TransactionFailure, Err: fmt.Errorf("journal: %w", err)})
			return
		}
	}
	c.opt.logger.LogAttrs(context.Background(), slog.LevelDebug, "rtc: applied",
		slog.Uint64("emission", n),
		slog.Int("records", u.RecordCount()),
		slog.Duration("elapsed", time.Since(start)))
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(classifyFailure(PipelineFailure, err))
}

func (c *Connection) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(nil)
}

func (c *Connection) finishLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	if f, ok := err.(*Failure); ok {
		c.opt.metrics.failed(c.opt.name, f.Kind)
		c.opt.logger.LogAttrs(context.Background(), slog.LevelError, "rtc: connection failed",
			slog.String("kind", f.Kind.String()),
			slog.Any("err", f.Err))
	} else {
		c.opt.logger.LogAttrs(context.Background(), slog.LevelDebug, "rtc: connection completed",
			slog.Uint64("transactions", c.txns.Load()))
	}
	close(c.done)
}

// Cancel stops the connection. Once Cancel returns, no further transaction
// starts; transactions already committed stay committed.
func (c *Connection) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.opt.logger.LogAttrs(context.Background(), slog.LevelDebug, "rtc: connection cancelled",
		slog.Uint64("transactions", c.txns.Load()))
	close(c.done)
}

// Done is closed when the connection stops for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the *Failure that stopped the connection, or nil if it is still
// running, was cancelled or its source completed.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the connection stops or ctx is done.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transactions returns the number of transactions committed so far.
func (c *Connection) Transactions() uint64 {
	return c.txns.Load()
}

// Emissions returns the number of emissions received so far, including one
// whose transaction failed.
func (c *Connection) Emissions() uint64 {
	return c.emissions.Load()
}

// applyUpdates writes u in a deterministic order: schemas by id, then records
// by id.
func applyUpdates(tx StoreTx, u DatastoreUpdates) error {
	for _, schemaID := range u.SchemaIDs() {
		tu := u[schemaID]
		for _, id := range tu.IDs() {
			h, err := tx.Resolve(schemaID, id)
			if err != nil {
				return err
			}
			if err := h.Update(tu[id]); err != nil {
				return err
			}
		}
	}
	return nil
}
