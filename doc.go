/*
Package rtc runs reactive pipelines over a transactional table store.

A pipeline reads record streams (snapshots of tables that are re-emitted after
every committed change) and produces a stream of DatastoreUpdates. A
Connection applies each emitted value to the store in its own transaction, and
the resulting commits feed back into the record streams.

We implement:

1. Schemas, declaring tables with typed fields (registers, lists, maps, text).

2. A store (DB) on top of a key-value backend: Bolt, SQLite or memory.

3. Record streams (DB.Observe), pipelines (NewPipeline), the Merge combinator
and the transaction applier (Connect, Apply).

4. An optional journal of applied emissions that can be replayed.

# Technical Details

**Buckets.**
Each schema gets a root bucket named after its id, with a nested "data" bucket
holding records keyed by record id. The "_meta" bucket holds the commit
sequence and one descriptor per schema (field kinds, last seen time).

**Commit sequence.**
Every committed transaction that changed at least one record increments the
sequence. Snapshots carry the sequence they were read at, so a subscriber
never receives an older snapshot after a newer one.

## Binary encoding

**Value**: value header, then encoded data.

**Value header**:
1. Flags (uvarint).
2. Modification count (uvarint).
3. Data size (uvarint).

**Value data**: msgpack of the field map, with sorted keys. Equal content always
encodes to equal bytes, which is how writes that change nothing are detected
and skipped.
*/
package rtc
