package rtc

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the content of every table, in registry order.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpStats) {
		fmt.Fprintf(&buf, "seq = %d\n", tx.Seq())
	}
	for _, s := range tx.db.registry.schemas {
		tx.dumpTable(&buf, f, s)
	}
	return buf.String()
}

func (tx *Tx) dumpTable(w *strings.Builder, f DumpFlags, s *Schema) {
	st := tx.TableStats(s)

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", s.id, st.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: data_size = %d, data_alloc = %d\n", s.id, st.DataSize, st.DataAlloc)
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		c := tx.dataBucket(s).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := decodeRecord(s, string(k), v)
			if err != nil {
				fmt.Fprintf(w, "%s/%s ** ERROR: %v\n", s.id, k, err)
				continue
			}
			fmt.Fprintf(w, "%s/%s = (m%d) %s\n", s.id, k, rec.meta.ModCount, loggableValues(rec.Values()))
		}
	}
}
