package rtc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// sqliteStorage keeps all buckets in a single key-value table of an SQLite
// database. Writable transactions are serialized by a mutex; readers use
// their own connections.
type sqliteStorage struct {
	db      *sql.DB
	writeMu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name TEXT NOT NULL PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS kv (
	bucket TEXT NOT NULL,
	key BLOB NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID;
`

func newSQLiteStorage(path string) (storage, error) {
	dsn := path
	if path != ":memory:" {
		// pragmas are per connection, so they go into the DSN
		dsn += "?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection would otherwise get its own private database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writeMu.Lock()
	}
	stx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		if writable {
			s.writeMu.Unlock()
		}
		return nil, err
	}
	return &sqliteTx{s: s, stx: stx, writable: writable}, nil
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	s        *sqliteStorage
	stx      *sql.Tx
	writable bool
	done     bool
}

func (tx *sqliteTx) Writable() bool { return tx.writable }

func (tx *sqliteTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.writable {
		tx.s.writeMu.Unlock()
	}
}

func (tx *sqliteTx) Bucket(name, sub string) storageBucket {
	key := memBucketKey(name, sub)
	var one int
	err := tx.stx.QueryRow("SELECT 1 FROM buckets WHERE name = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		panic(fmt.Errorf("sqlite: bucket %q: %w", key, err))
	}
	return sqliteBucket{tx: tx, name: key}
}

func (tx *sqliteTx) CreateBucket(name, sub string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	for _, key := range []string{memBucketKey(name, ""), memBucketKey(name, sub)} {
		if _, err := tx.stx.Exec("INSERT OR IGNORE INTO buckets (name) VALUES (?)", key); err != nil {
			return nil, err
		}
	}
	return sqliteBucket{tx: tx, name: memBucketKey(name, sub)}, nil
}

func (tx *sqliteTx) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	defer tx.finish()
	return tx.stx.Commit()
}

func (tx *sqliteTx) Rollback() error {
	if tx.done {
		return nil
	}
	defer tx.finish()
	err := tx.stx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (tx *sqliteTx) Size() int64 {
	var pages, pageSize int64
	if err := tx.stx.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0
	}
	if err := tx.stx.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

type sqliteBucket struct {
	tx   *sqliteTx
	name string
}

func (b sqliteBucket) Get(key []byte) []byte {
	var value []byte
	err := b.tx.stx.QueryRow("SELECT value FROM kv WHERE bucket = ? AND key = ?", b.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		panic(fmt.Errorf("sqlite: get: %w", err))
	}
	if value == nil {
		value = []byte{}
	}
	return value
}

func (b sqliteBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if value == nil {
		value = []byte{}
	}
	_, err := b.tx.stx.Exec("INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?) ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value", b.name, key, value)
	return err
}

func (b sqliteBucket) Cursor() storageCursor {
	return &sqliteCursor{b: b}
}

func (b sqliteBucket) Stats() bucketStats {
	var n, size int64
	err := b.tx.stx.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv WHERE bucket = ?", b.name).Scan(&n, &size)
	if err != nil {
		panic(fmt.Errorf("sqlite: stats: %w", err))
	}
	return bucketStats{
		KeyN:      int(n),
		LeafInuse: size,
		LeafAlloc: size,
	}
}

// sqliteCursor loads the whole bucket on First; buckets here are tables of
// records that are read in full anyway.
type sqliteCursor struct {
	b     sqliteBucket
	items []memKV
	pos   int
}

func (c *sqliteCursor) First() ([]byte, []byte) {
	c.items = c.items[:0]
	c.pos = 0
	rows, err := c.b.tx.stx.Query("SELECT key, value FROM kv WHERE bucket = ? ORDER BY key", c.b.name)
	if err != nil {
		panic(fmt.Errorf("sqlite: scan: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var kv memKV
		if err := rows.Scan(&kv.key, &kv.value); err != nil {
			panic(fmt.Errorf("sqlite: scan: %w", err))
		}
		c.items = append(c.items, kv)
	}
	if err := rows.Err(); err != nil {
		panic(fmt.Errorf("sqlite: scan: %w", err))
	}
	return c.current()
}

func (c *sqliteCursor) Next() ([]byte, []byte) {
	if c.items == nil {
		return c.First()
	}
	c.pos++
	return c.current()
}

func (c *sqliteCursor) current() ([]byte, []byte) {
	if c.pos >= len(c.items) {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.key, kv.value
}
