package rtc

import (
	"fmt"

	"github.com/jupyterlab/rtc/journal"
)

// wireChange is the journal form of a FieldChange.
type wireChange struct {
	Kind    FieldKind      `msgpack:"k"`
	Value   any            `msgpack:"v"`
	Splices []wireSplice   `msgpack:"s,omitempty"`
	Items   map[string]any `msgpack:"m,omitempty"`
}

type wireSplice struct {
	Index  int    `msgpack:"i"`
	Remove int    `msgpack:"r"`
	Values []any  `msgpack:"v,omitempty"`
	Text   string `msgpack:"t,omitempty"`
}

type wireUpdates map[string]map[string]map[string]wireChange

// EncodeUpdates returns the binary form of u that is stored in journals.
func EncodeUpdates(u DatastoreUpdates) []byte {
	w := make(wireUpdates, len(u))
	for schemaID, tu := range u {
		wt := make(map[string]map[string]wireChange, len(tu))
		for id, ru := range tu {
			wr := make(map[string]wireChange, len(ru))
			for name, chg := range ru {
				wr[name] = toWire(chg)
			}
			wt[id] = wr
		}
		w[schemaID] = wt
	}
	return encodeMsgpack(nil, w)
}

// DecodeUpdates parses data produced by EncodeUpdates.
func DecodeUpdates(data []byte) (DatastoreUpdates, error) {
	var w wireUpdates
	if err := decodeMsgpack(data, &w); err != nil {
		return nil, err
	}
	u := make(DatastoreUpdates, len(w))
	for schemaID, wt := range w {
		tu := make(TableUpdate, len(wt))
		for id, wr := range wt {
			ru := make(RecordUpdate, len(wr))
			for name, wc := range wr {
				chg, err := fromWire(wc)
				if err != nil {
					return nil, recordErrf(schemaID, id, name, err, "")
				}
				ru[name] = chg
			}
			tu[id] = ru
		}
		u[schemaID] = tu
	}
	return u, nil
}

func toWire(chg FieldChange) wireChange {
	switch c := chg.(type) {
	case RegisterChange:
		return wireChange{Kind: KindRegister, Value: c.Value}
	case ListChange:
		w := wireChange{Kind: KindList, Splices: make([]wireSplice, len(c.Splices))}
		for i, sp := range c.Splices {
			w.Splices[i] = wireSplice{Index: sp.Index, Remove: sp.Remove, Values: sp.Values}
		}
		return w
	case MapChange:
		return wireChange{Kind: KindMap, Items: c.Items}
	case TextChange:
		w := wireChange{Kind: KindText, Splices: make([]wireSplice, len(c.Splices))}
		for i, sp := range c.Splices {
			w.Splices[i] = wireSplice{Index: sp.Index, Remove: sp.Remove, Text: sp.Text}
		}
		return w
	default:
		panic(fmt.Errorf("unknown field change %T", chg))
	}
}

func fromWire(w wireChange) (FieldChange, error) {
	switch w.Kind {
	case KindRegister:
		return RegisterChange{Value: w.Value}, nil
	case KindList:
		c := ListChange{Splices: make([]ListSplice, len(w.Splices))}
		for i, sp := range w.Splices {
			c.Splices[i] = ListSplice{Index: sp.Index, Remove: sp.Remove, Values: sp.Values}
		}
		return c, nil
	case KindMap:
		return MapChange{Items: w.Items}, nil
	case KindText:
		c := TextChange{Splices: make([]TextSplice, len(w.Splices))}
		for i, sp := range w.Splices {
			c.Splices[i] = TextSplice{Index: sp.Index, Remove: sp.Remove, Text: sp.Text}
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown change kind %d", w.Kind)
	}
}

func journalUpdates(j *journal.Journal, u DatastoreUpdates) error {
	if _, err := j.Append(EncodeUpdates(u)); err != nil {
		return err
	}
	return j.Commit()
}

// Replay applies every emission recorded in j to store, one transaction per
// journal record, in journal order. It stops at the first failing record.
func Replay(j *journal.Journal, store Store) (int, error) {
	var n int
	err := j.Records(func(rec journal.Record) error {
		u, err := DecodeUpdates(rec.Data)
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		err = store.Transact(func(tx StoreTx) error {
			return applyUpdates(tx, u)
		})
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("rtc: replay: %w", err)
	}
	return n, nil
}
