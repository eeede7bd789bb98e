package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const trackTxns = true

// DB is the transactional table store. It implements Store.
type DB struct {
	store    storage
	registry *Registry
	logger   *slog.Logger
	verbose  bool
	strict   bool
	now      func() time.Time
	metrics  *Collector

	schemaStates map[string]*schemaState
	notifier     *notifier
	closed       atomic.Bool

	lastSize    atomic.Int64
	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
	Now       func() time.Time

	// Metrics, if set, receives store metrics. Register it with a
	// prometheus.Registerer separately.
	Metrics *Collector
}

// Open opens (or creates) a Bolt-backed store at path.
func Open(path string, reg *Registry, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("rtc: %w", err)
	}
	return open(newBoltStorage(bdb), reg, opt)
}

// OpenMemory returns a store that keeps everything in memory.
func OpenMemory(reg *Registry, opt Options) (*DB, error) {
	return open(newMemStorage(), reg, opt)
}

// OpenSQLite opens (or creates) an SQLite-backed store at path. Use
// ":memory:" for a transient database.
func OpenSQLite(path string, reg *Registry, opt Options) (*DB, error) {
	st, err := newSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("rtc: %w", err)
	}
	return open(st, reg, opt)
}

func open(st storage, reg *Registry, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	db := &DB{
		store:        st,
		registry:     reg,
		logger:       opt.Logger,
		verbose:      opt.Verbose,
		strict:       opt.IsTesting,
		now:          opt.Now,
		metrics:      opt.Metrics,
		schemaStates: make(map[string]*schemaState),
	}

	err := db.Update(func(tx *Tx) error {
		if _, err := tx.stx.CreateBucket(metaBucket, ""); err != nil {
			return err
		}
		now := db.now()
		for _, s := range reg.schemas {
			ss, err := prepareSchema(tx, s, now)
			if err != nil {
				return err
			}
			db.schemaStates[s.id] = ss
		}
		return nil
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("rtc: %w", err)
	}

	db.notifier = newNotifier(db)
	return db, nil
}

func (db *DB) Registry() *Registry {
	return db.registry
}

func (db *DB) Logger() *slog.Logger {
	return db.logger
}

// Size returns the storage size observed at the end of the last write.
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

// Close stops change notifications, fails every open record stream with
// ErrClosed and closes the storage. Further transactions fail with ErrClosed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	if db.notifier != nil {
		db.notifier.close()
	}
	err := db.store.Close()
	if err != nil {
		return fmt.Errorf("rtc: closing: %w", err)
	}
	return nil
}

func (db *DB) IsClosed() bool {
	return db.closed.Load()
}

func (db *DB) logAttrs(level slog.Level, msg string, attrs ...slog.Attr) {
	db.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms\n", ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms:\n%s", ms, tx.stack)
		}
	}

	return buf.String()
}
