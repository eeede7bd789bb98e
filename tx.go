package rtc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"time"
)

// Tx is a store transaction. A writable Tx is obtained from DB.Update or
// DB.Transact; a read-only one from DB.View or DB.Read.
type Tx struct {
	db      *DB
	stx     storageTx
	written bool
	dirty   map[string]int // schema id -> records written

	changeHandler func(chg *Change)

	startTime time.Time
	stack     []byte
}

func (db *DB) newTx(stx storageTx) *Tx {
	tx := &Tx{
		db:        db,
		stx:       stx,
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	return tx
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.stx.Writable()
}

// OnChange registers a function called after every record write made by
// this transaction. Writes that leave a record unchanged are not reported.
func (tx *Tx) OnChange(f func(chg *Change)) {
	tx.changeHandler = f
}

// Update runs f in a writable transaction. The transaction commits if f
// returns nil and rolls back otherwise; a panic in f is returned as an error.
// Committed changes are announced to record streams asynchronously.
func (db *DB) Update(f func(tx *Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	db.WriterCount.Add(1)
	defer db.WriterCount.Add(-1)
	db.WriteCount.Add(1)

	stx, err := db.store.BeginTx(true)
	if err != nil {
		return fmt.Errorf("rtc: begin: %w", err)
	}
	tx := db.newTx(stx)
	defer tx.close()

	err = safelyCall(f, tx)
	if err != nil {
		if db.verbose {
			db.logAttrs(slog.LevelDebug, "rtc: ROLLBACK", slog.Any("err", err))
		}
		return err
	}

	var seq uint64
	if len(tx.dirty) > 0 {
		seq = tx.Seq() + 1
		if err := tx.putSeq(seq); err != nil {
			return err
		}
	}
	if tx.written {
		db.lastSize.Store(stx.Size())
	}

	err = stx.Commit()
	if err != nil {
		return fmt.Errorf("rtc: commit: %w", err)
	}

	if len(tx.dirty) > 0 {
		ids := slices.Sorted(maps.Keys(tx.dirty))
		for _, id := range ids {
			db.metrics.recordsCommitted(id, tx.dirty[id])
		}
		if db.verbose {
			db.logAttrs(slog.LevelDebug, "rtc: COMMIT", slog.Uint64("seq", seq), slog.Any("schemas", ids))
		}
		if db.notifier != nil {
			db.notifier.markDirty(ids)
		}
	}
	return nil
}

// Transact implements Store.
func (db *DB) Transact(f func(tx StoreTx) error) error {
	return db.Update(func(tx *Tx) error {
		return f(tx)
	})
}

// View runs f in a read-only transaction.
func (db *DB) View(f func(tx *Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	db.ReaderCount.Add(1)
	defer db.ReaderCount.Add(-1)
	db.ReadCount.Add(1)

	stx, err := db.store.BeginTx(false)
	if err != nil {
		return fmt.Errorf("rtc: begin: %w", err)
	}
	tx := db.newTx(stx)
	defer tx.close()
	return safelyCall(f, tx)
}

// Read is like View for functions that cannot fail; it panics if the
// transaction cannot be started.
func (db *DB) Read(f func(tx *Tx)) {
	err := db.View(func(tx *Tx) error {
		f(tx)
		return nil
	})
	if err != nil {
		panic(fmt.Errorf("failed to read: %w", err))
	}
}

func (tx *Tx) close() {
	// Rollback after Commit is a no-op for every backend.
	err := tx.stx.Rollback()
	if err != nil {
		tx.db.logAttrs(slog.LevelError, "rtc: rollback failed", slog.Any("err", err))
	}
	if trackTxns {
		tx.db.removeTx(tx)
	}
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

type panicked struct {
	reason any
	stack  string
}

func (p *panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p *panicked) Unwrap() error {
	err, _ := p.reason.(error)
	return err
}

// Seq returns the commit sequence number of the data visible to tx. It grows
// by one with every committed transaction that changed at least one record.
func (tx *Tx) Seq() uint64 {
	b := tx.stx.Bucket(metaBucket, "")
	if b == nil {
		return 0
	}
	raw := b.Get(seqKey)
	if raw == nil {
		return 0
	}
	v, n := binary.Uvarint(raw)
	if n <= 0 {
		panic(dataErrf(raw, 0, nil, "invalid commit sequence"))
	}
	return v
}

func (tx *Tx) putSeq(seq uint64) error {
	b := tx.stx.Bucket(metaBucket, "")
	if b == nil {
		return fmt.Errorf("rtc: missing %s bucket", metaBucket)
	}
	return b.Put(seqKey, binary.AppendUvarint(nil, seq))
}

func (tx *Tx) schema(schemaID string) (*Schema, error) {
	s := tx.db.registry.Schema(schemaID)
	if s == nil {
		return nil, recordErrf(schemaID, "", "", ErrUnknownSchema, "")
	}
	return s, nil
}

func (tx *Tx) dataBucket(s *Schema) storageBucket {
	if tx.db.registry.Schema(s.id) != s {
		panic(recordErrf(s.id, "", "", ErrUnknownSchema, "schema belongs to another registry"))
	}
	b := tx.stx.Bucket(s.id, dataSub)
	if b == nil {
		panic(fmt.Errorf("rtc: missing data bucket for %s", s.id))
	}
	return b
}

func (tx *Tx) load(s *Schema, id string) (*Record, error) {
	raw := tx.dataBucket(s).Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	return decodeRecord(s, id, raw)
}

// Get returns the record with the given id, or nil.
func (tx *Tx) Get(s *Schema, id string) *Record {
	rec, err := tx.load(s, id)
	if err != nil {
		panic(err)
	}
	return rec
}

// Records returns all records of the table, ordered by id.
func (tx *Tx) Records(s *Schema) []*Record {
	recs, err := tx.records(s)
	if err != nil {
		panic(err)
	}
	return recs
}

func (tx *Tx) records(s *Schema) ([]*Record, error) {
	recs := []*Record{}
	c := tx.dataBucket(s).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rec, err := decodeRecord(s, string(k), v)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count returns the number of records in the table.
func (tx *Tx) Count(s *Schema) int {
	return tx.dataBucket(s).Stats().KeyN
}

// Resolve implements StoreTx. It returns a handle to the record, creating the
// record with field defaults if it does not exist yet.
func (tx *Tx) Resolve(schemaID, id string) (RecordHandle, error) {
	s, err := tx.schema(schemaID)
	if err != nil {
		return nil, err
	}
	return tx.resolve(s, id)
}

func (tx *Tx) resolve(s *Schema, id string) (*recordHandle, error) {
	if id == "" {
		return nil, recordErrf(s.id, "", "", nil, "empty record id")
	}
	rec, err := tx.load(s, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		fresh := newRecord(s, id)
		rec, err = tx.put(nil, fresh.schema, id, fresh.values)
		if err != nil {
			return nil, err
		}
	}
	return &recordHandle{tx: tx, rec: rec}, nil
}

// UpdateRecord applies upd to the record, creating it first if necessary.
func (tx *Tx) UpdateRecord(s *Schema, id string, upd RecordUpdate) error {
	h, err := tx.resolve(s, id)
	if err != nil {
		return err
	}
	return h.Update(upd)
}

// put writes values as the new content of the record. old is nil for a new
// record. Writing values equal to the current ones is a no-op.
func (tx *Tx) put(old *Record, s *Schema, id string, values map[string]any) (*Record, error) {
	if !tx.stx.Writable() {
		return nil, recordErrf(s.id, id, "", nil, "write in a read-only transaction")
	}
	data := encodeRecordValues(values)
	if tx.db.strict {
		var check map[string]any
		if err := decodeMsgpack(data, &check); err != nil {
			panic(err)
		}
		if !bytes.Equal(encodeRecordValues(check), data) {
			panic(fmt.Errorf("rtc: %s/%s: values do not survive a round trip: %s", s.id, id, loggableValues(values)))
		}
	}

	var modCount uint64 = 1
	if old != nil {
		if bytes.Equal(data, encodeRecordValues(old.values)) {
			if tx.db.verbose {
				tx.db.logAttrs(slog.LevelDebug, "rtc: NOOP", slog.String("schema", s.id), slog.String("id", id))
			}
			return old, nil
		}
		modCount = old.meta.ModCount + 1
	}

	raw := appendValue(nil, vfDefault, modCount, data)
	if err := tx.dataBucket(s).Put([]byte(id), raw); err != nil {
		return nil, recordErrf(s.id, id, "", err, "put")
	}
	tx.markDirty(s)

	rec := &Record{schema: s, id: id, values: values, meta: ValueMeta{ModCount: modCount}}
	if tx.db.verbose {
		tx.db.logAttrs(slog.LevelDebug, "rtc: PUT", slog.String("schema", s.id), slog.String("id", id), slog.Uint64("mod", modCount), slog.String("data", loggableValues(values)))
	}
	if tx.changeHandler != nil {
		op := OpUpdate
		if old == nil {
			op = OpCreate
		}
		tx.changeHandler(&Change{schema: s, op: op, record: rec, oldRecord: old})
	}
	return rec, nil
}

func (tx *Tx) markDirty(s *Schema) {
	tx.written = true
	if tx.dirty == nil {
		tx.dirty = make(map[string]int)
	}
	tx.dirty[s.id]++
}

type recordHandle struct {
	tx  *Tx
	rec *Record
}

func (h *recordHandle) ID() string {
	return h.rec.id
}

// Record returns the current content of the record.
func (h *recordHandle) Record() *Record {
	return h.rec
}

func (h *recordHandle) Update(upd RecordUpdate) error {
	if len(upd) == 0 {
		return nil
	}
	values, err := h.rec.withUpdate(upd)
	if err != nil {
		return err
	}
	rec, err := h.tx.put(h.rec, h.rec.schema, h.rec.id, values)
	if err != nil {
		return err
	}
	h.rec = rec
	return nil
}
