package rtc

import (
	"fmt"
)

type Op int

const (
	OpNone   Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
)

// Change describes one record write reported to Tx.OnChange.
type Change struct {
	schema    *Schema
	op        Op
	record    *Record
	oldRecord *Record
}

func (chg *Change) Schema() *Schema {
	return chg.schema
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) ID() string {
	return chg.record.id
}
func (chg *Change) Record() *Record {
	return chg.record
}

// OldRecord returns the content before the write, or nil for OpCreate.
func (chg *Change) OldRecord() *Record {
	return chg.oldRecord
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
