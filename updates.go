package rtc

import (
	"maps"
	"slices"
)

// RecordUpdate maps field names to changes. Fields not mentioned are left
// untouched.
type RecordUpdate map[string]FieldChange

// TableUpdate maps record ids to their changes. A record id that does not
// exist yet is created with field defaults before its changes are applied.
type TableUpdate map[string]RecordUpdate

// DatastoreUpdates maps schema ids to table updates. It is a plain value
// describing changes; nothing happens until a Connection applies it.
// Producers must treat a DatastoreUpdates as immutable once emitted.
type DatastoreUpdates map[string]TableUpdate

// Merge combines several DatastoreUpdates into one.
//
// Updates for different schemas, or for different records of one schema, are
// unioned. When two arguments change the same field of the same record, the
// later argument wins. This rule is part of the API contract and will not
// change.
//
// Merge never modifies its arguments. Merge() returns an empty value and
// Merge(u) returns u itself.
func Merge(updates ...DatastoreUpdates) DatastoreUpdates {
	switch len(updates) {
	case 0:
		return DatastoreUpdates{}
	case 1:
		return updates[0]
	}
	out := make(DatastoreUpdates)
	for _, u := range updates {
		for schemaID, tu := range u {
			dst := out[schemaID]
			if dst == nil {
				dst = make(TableUpdate, len(tu))
				out[schemaID] = dst
			}
			for id, ru := range tu {
				rec := dst[id]
				if rec == nil {
					rec = make(RecordUpdate, len(ru))
					dst[id] = rec
				}
				maps.Copy(rec, ru)
			}
		}
	}
	return out
}

// SchemaIDs returns the schema ids in sorted order.
func (u DatastoreUpdates) SchemaIDs() []string {
	return slices.Sorted(maps.Keys(u))
}

// RecordCount returns the number of record entries across all schemas.
func (u DatastoreUpdates) RecordCount() int {
	var n int
	for _, tu := range u {
		n += len(tu)
	}
	return n
}

func (u DatastoreUpdates) IsEmpty() bool {
	return u.RecordCount() == 0
}

// IDs returns the record ids in sorted order.
func (tu TableUpdate) IDs() []string {
	return slices.Sorted(maps.Keys(tu))
}

// FieldNames returns the changed field names in sorted order.
func (ru RecordUpdate) FieldNames() []string {
	return slices.Sorted(maps.Keys(ru))
}
