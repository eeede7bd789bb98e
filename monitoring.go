package rtc

import (
	"encoding/json"
)

const maxLoggableValuesLen = 512

type TableStats struct {
	Records int

	DataSize  int64
	DataAlloc int64
}

func (tx *Tx) TableStats(s *Schema) TableStats {
	bs := tx.dataBucket(s).Stats()
	return TableStats{
		Records:   bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
}

func loggableValues(values map[string]any) string {
	raw, err := json.Marshal(values)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	if len(raw) > maxLoggableValuesLen {
		return string(raw[:maxLoggableValuesLen]) + "..."
	}
	return string(raw)
}

// Stats returns storage statistics of the table.
func (db *DB) Stats(s *Schema) TableStats {
	var st TableStats
	db.Read(func(tx *Tx) {
		st = tx.TableStats(s)
	})
	return st
}
