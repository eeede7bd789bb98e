package rtc

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jupyterlab/rtc/rx"
)

// notifier turns commits into record stream emissions. Commits only mark
// tables dirty; a single goroutine takes snapshots of dirty tables and
// delivers them, so a burst of commits may coalesce into one emission.
type notifier struct {
	db *DB

	mu     sync.Mutex
	subs   map[string]map[uint64]*tableSub
	nextID uint64
	dirty  []string
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newNotifier(db *DB) *notifier {
	n := &notifier{
		db:   db,
		subs: make(map[string]map[uint64]*tableSub),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) markDirty(schemaIDs []string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	for _, id := range schemaIDs {
		if len(n.subs[id]) > 0 && !slices.Contains(n.dirty, id) {
			n.dirty = append(n.dirty, id)
		}
	}
	pending := len(n.dirty) > 0
	n.mu.Unlock()

	if pending {
		select {
		case n.wake <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) takeDirty() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := n.dirty
	n.dirty = nil
	return ids
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		select {
		case <-n.wake:
		case <-n.quit:
			return
		}
		for {
			ids := n.takeDirty()
			if len(ids) == 0 {
				break
			}
			for _, id := range ids {
				select {
				case <-n.quit:
					return
				default:
				}
				n.publish(id)
			}
		}
	}
}

func (n *notifier) subscribers(schemaID string) []*tableSub {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := n.subs[schemaID]
	result := make([]*tableSub, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		result = append(result, m[id])
	}
	return result
}

func (n *notifier) publish(schemaID string) {
	subs := n.subscribers(schemaID)
	if len(subs) == 0 {
		return
	}
	s := subs[0].schema
	snap, err := n.db.snapshot(s)
	if err != nil {
		n.db.logAttrs(slog.LevelError, "rtc: snapshot failed", slog.String("schema", schemaID), slog.Any("err", err))
	}
	for _, sub := range subs {
		if err != nil {
			sub.fail(&Failure{Kind: SourceFailure, Err: err})
		} else {
			sub.deliver(snap)
		}
	}
}

func (n *notifier) add(sub *tableSub) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.nextID++
	sub.id = n.nextID
	m := n.subs[sub.schema.id]
	if m == nil {
		m = make(map[uint64]*tableSub)
		n.subs[sub.schema.id] = m
	}
	m[sub.id] = sub
	n.db.metrics.streamAdded()
	return true
}

func (n *notifier) remove(sub *tableSub) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := n.subs[sub.schema.id]
	if m[sub.id] == nil {
		return
	}
	delete(m, sub.id)
	if len(m) == 0 {
		delete(n.subs, sub.schema.id)
	}
	n.db.metrics.streamRemoved()
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, m := range n.subs {
		c += len(m)
	}
	return c
}

// close stops the dispatcher and fails all subscriptions with ErrClosed.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	var all []*tableSub
	for _, m := range n.subs {
		for _, sub := range m {
			all = append(all, sub)
			n.db.metrics.streamRemoved()
		}
	}
	n.subs = nil
	n.dirty = nil
	n.mu.Unlock()

	close(n.quit)
	<-n.done

	slices.SortFunc(all, func(a, b *tableSub) int {
		return int(int64(a.id) - int64(b.id))
	})
	for _, sub := range all {
		sub.fail(&Failure{Kind: SourceFailure, Err: ErrClosed})
	}
}

type snapshot struct {
	seq     uint64
	records []*Record
}

func (db *DB) snapshot(s *Schema) (snapshot, error) {
	var snap snapshot
	err := db.View(func(tx *Tx) error {
		snap.seq = tx.Seq()
		var err error
		snap.records, err = tx.records(s)
		return err
	})
	return snap, err
}

// tableSub is one subscriber of a record stream. deliverMu serializes
// deliveries to the observer; Unsubscribe never takes it, so an observer may
// unsubscribe from inside OnNext.
type tableSub struct {
	n      *notifier
	id     uint64
	schema *Schema
	obs    rx.Observer[[]*Record]

	deliverMu sync.Mutex
	seq       uint64
	delivered bool
	cancelled atomic.Bool
}

func (sub *tableSub) deliver(snap snapshot) {
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()
	if sub.cancelled.Load() {
		return
	}
	if sub.delivered && snap.seq <= sub.seq {
		return
	}
	sub.seq = snap.seq
	sub.delivered = true
	sub.obs.OnNext(slices.Clone(snap.records))
}

func (sub *tableSub) fail(err error) {
	if sub.cancelled.Swap(true) {
		return
	}
	sub.n.remove(sub)
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()
	sub.obs.OnError(err)
}

func (sub *tableSub) Unsubscribe() {
	if sub.cancelled.Swap(true) {
		return
	}
	sub.n.remove(sub)
}
