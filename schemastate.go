package rtc

import (
	"log/slog"
	"time"
)

const (
	metaBucket = "_meta"
	schemasSub = "schemas"
	dataSub    = "data"
)

var seqKey = []byte("seq")

// schemaState is the persisted descriptor of a table: the kinds its fields
// had when the store was last opened.
type schemaState struct {
	Fields   map[string]FieldKind `msgpack:"f"`
	LastSeen time.Time            `msgpack:"t"`

	schema *Schema `msgpack:"-"`
}

func (db *DB) schemaState(s *Schema) *schemaState {
	return db.schemaStates[s.id]
}

func prepareSchema(tx *Tx, s *Schema, now time.Time) (*schemaState, error) {
	if _, err := tx.stx.CreateBucket(s.id, dataSub); err != nil {
		return nil, err
	}
	metaB, err := tx.stx.CreateBucket(metaBucket, schemasSub)
	if err != nil {
		return nil, err
	}

	ss := new(schemaState)
	if raw := metaB.Get([]byte(s.id)); raw != nil {
		if err := decodeMsgpack(raw, ss); err != nil {
			return nil, recordErrf(s.id, "", "", err, "failed to decode schema state")
		}
	}
	ss.schema = s
	if ss.Fields == nil {
		ss.Fields = make(map[string]FieldKind)
	}

	for _, f := range s.fields {
		if stored, ok := ss.Fields[f.Name]; ok && stored != f.Kind {
			return nil, &SchemaError{Schema: s.id, Field: f.Name, Stored: stored, Declared: f.Kind}
		}
	}
	for name, kind := range ss.Fields {
		if s.fieldsByName[name] == nil {
			tx.db.logAttrs(slog.LevelInfo, "rtc: dropping field", slog.String("schema", s.id), slog.String("field", name), slog.String("kind", kind.String()))
			delete(ss.Fields, name)
		}
	}
	for _, f := range s.fields {
		if _, ok := ss.Fields[f.Name]; !ok {
			if tx.db.verbose {
				tx.db.logAttrs(slog.LevelDebug, "rtc: new field", slog.String("schema", s.id), slog.String("field", f.Name), slog.String("kind", f.Kind.String()))
			}
			ss.Fields[f.Name] = f.Kind
		}
	}
	ss.LastSeen = now

	if err := metaB.Put([]byte(s.id), encodeMsgpack(nil, ss)); err != nil {
		return nil, err
	}
	return ss, nil
}
