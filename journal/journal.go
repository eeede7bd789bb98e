// Package journal implements segmented append-only log files.
//
// A journal is a directory of segment files. Each segment starts with a
// fixed-size header and holds a sequence of records. Records are numbered
// sequentially across segments, starting from 1.
//
// File format:
//
//   - segment = segmentHeader record*
//   - segmentHeader = magic:64 version:8 _:8 flags:16 _:32 ordinal:32 timestamp:32 firstRecord:64 reserved:64*3 checksum:64
//   - record = size:uvarint tsDelta:uvarint bytes* checksum:64
//
// Record checksums are xxhash64 of the record's header and payload. When a
// journal is opened, a corrupted tail of the last segment (typically the
// result of a crash mid-write) is trimmed off.
//
// Segments are rotated after they reach Options.MaxFileSize.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jupyterlab/rtc/mmap"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrCorrupted          = errors.New("corrupted journal segment")
	ErrClosed             = errors.New("journal closed")
)

type Options struct {
	Context     context.Context
	FileName    string // e.g. "emissions-*.wal"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 8 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	_              uint32
	SegmentOrdinal uint32
	Timestamp      uint32
	FirstRecord    uint64
	_              [3]uint64
	Checksum       uint64
}

const timestampFmt = "20060102T150405"

// Record is a single journal entry.
type Record struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// Journal represents a set of segment files in a directory.
type Journal struct {
	context        context.Context
	maxFileSize    int64
	fileNamePrefix string
	fileNameSuffix string
	debugName      string
	dir            string
	now            func() time.Time
	logger         *slog.Logger
	verbose        bool

	writeLock sync.Mutex
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
	closed    bool
}

// Open opens the journal in dir, creating the directory if needed, and
// prepares it for appending. A corrupted tail of the last segment is trimmed.
func Open(dir string, o Options) (*Journal, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	j := &Journal{
		context:        o.Context,
		maxFileSize:    o.MaxFileSize,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		debugName:      o.DebugName,
		dir:            dir,
		now:            o.Now,
		verbose:        o.Verbose,
		logger:         o.Logger,
	}
	if err := j.recover(); err != nil {
		return nil, fmt.Errorf("%v: %w", j.debugName, err)
	}
	return j, nil
}

func (j *Journal) String() string {
	return j.debugName
}

// LastSeq returns the sequence number of the last record written.
func (j *Journal) LastSeq() uint64 {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.writeRec
}

func (j *Journal) nowUnix() uint32 {
	v := j.now().Unix()
	if v < 0 || uint64(v)&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed")
	}
	return uint32(v)
}

func (j *Journal) recover() error {
	for {
		segs, err := j.segments()
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			return nil
		}
		last := segs[len(segs)-1]

		fn := filepath.Join(j.dir, last.name)
		data, err := os.ReadFile(fn)
		if err != nil {
			return err
		}

		h, recs, goodSize, err := scanSegment(data, last.ordinal)
		if errors.Is(err, errCorruptedHeader) {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", last.name), slog.Int("size", len(data)))
			if err := os.Remove(fn); err != nil {
				return fmt.Errorf("failed to delete corrupted file: %w", err)
			}
			continue
		} else if errors.Is(err, ErrCorrupted) {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming corrupted tail", slog.String("jrnl", j.debugName), slog.String("file", last.name), slog.Int("size", len(data)), slog.Int("good", goodSize))
			if err := os.Truncate(fn, int64(goodSize)); err != nil {
				return fmt.Errorf("failed to trim corrupted file: %w", err)
			}
		} else if err != nil {
			return err
		}

		j.writeSeg = h.SegmentOrdinal
		j.writeRec = h.FirstRecord - 1 + uint64(len(recs))
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: opened", slog.String("jrnl", j.debugName), slog.Int("segments", len(segs)), slog.Uint64("last_rec", j.writeRec))
		}
		return nil
	}
}

type segmentFile struct {
	name    string
	ordinal uint32
}

func (j *Journal) segments() ([]segmentFile, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var result []segmentFile
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		inner, ok := strings.CutPrefix(name, j.fileNamePrefix)
		if !ok {
			continue
		}
		inner, ok = strings.CutSuffix(inner, j.fileNameSuffix)
		if !ok {
			continue
		}
		seq, _, _, err := parseSegmentName(inner)
		if err != nil {
			continue
		}
		result = append(result, segmentFile{name, seq})
	}
	slices.SortFunc(result, func(a, b segmentFile) int {
		return int(int64(a.ordinal) - int64(b.ordinal))
	})
	return result, nil
}

// Append writes a record and returns its sequence number. The record is not
// guaranteed to be durable until Commit.
func (j *Journal) Append(data []byte) (uint64, error) {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.closed {
		return 0, ErrClosed
	}
	if j.writeErr != nil {
		return 0, j.writeErr
	}

	ts := j.nowUnix()

	if j.segWriter != nil && j.segWriter.size >= j.maxFileSize {
		if err := j.segWriter.close(); err != nil {
			return 0, j.fail(err)
		}
		j.segWriter = nil
	}
	if j.segWriter == nil {
		sw, err := startSegment(j, j.writeSeg+1, ts, j.writeRec+1)
		if err != nil {
			return 0, j.fail(err)
		}
		j.writeSeg++
		j.segWriter = sw
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: new segment", slog.String("jrnl", j.debugName), slog.String("file", sw.name))
		}
	}

	if err := j.segWriter.writeRecord(ts, data); err != nil {
		return 0, j.fail(err)
	}
	j.writeRec++
	return j.writeRec, nil
}

// Commit flushes the current segment to stable storage.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	return j.fail(mmap.Fdatasync(j.segWriter.f))
}

// Rotate makes the next Append start a new segment.
func (j *Journal) Rotate() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.segWriter == nil {
		return nil
	}
	err := j.segWriter.close()
	j.segWriter = nil
	return j.fail(err)
}

func (j *Journal) Close() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.segWriter == nil {
		return nil
	}
	err := j.segWriter.close()
	j.segWriter = nil
	return err
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}
	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

// Records calls fn for every record in order. A corrupted tail of the last
// segment ends the iteration silently; corruption anywhere else is reported
// as ErrCorrupted. Iteration stops at the first error returned by fn.
func (j *Journal) Records(fn func(rec Record) error) error {
	j.writeLock.Lock()
	segs, err := j.segments()
	j.writeLock.Unlock()
	if err != nil {
		return err
	}

	for i, seg := range segs {
		if err := j.context.Err(); err != nil {
			return err
		}
		recs, err := j.readSegment(seg)
		if err != nil {
			if !errors.Is(err, ErrCorrupted) {
				return err
			}
			if i < len(segs)-1 {
				return fmt.Errorf("%v: %s: %w", j.debugName, seg.name, ErrCorrupted)
			}
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: ignoring corrupted tail", slog.String("jrnl", j.debugName), slog.String("file", seg.name), slog.Any("err", err))
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// readSegment returns the records of a segment, with data copied out of the
// mapping. On corruption, it returns the records before the damage too.
func (j *Journal) readSegment(seg segmentFile) ([]Record, error) {
	mf, err := mmap.Open(filepath.Join(j.dir, seg.name), mmap.SequentialAccess)
	if err != nil {
		return nil, err
	}
	defer mf.Close()

	_, recs, _, err := scanSegment(mf.Data, seg.ordinal)
	for i := range recs {
		recs[i].Data = bytes.Clone(recs[i].Data)
	}
	return recs, err
}

var errCorruptedHeader = fmt.Errorf("%w (header)", ErrCorrupted)

// scanSegment decodes a segment file. On corruption, it returns the records
// decoded so far and the size of the valid prefix.
func scanSegment(data []byte, expectedSeq uint32) (segmentHeader, []Record, int, error) {
	var h segmentHeader
	if len(data) < segmentHeaderSize {
		return h, nil, 0, errCorruptedHeader
	}
	n, err := binary.Decode(data[:segmentHeaderSize], binary.LittleEndian, &h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}
	if h.Magic != magic {
		return h, nil, 0, ErrIncompatible
	}
	if xxhash.Sum64(data[:segmentHeaderSize-8]) != h.Checksum {
		return h, nil, 0, errCorruptedHeader
	}
	if h.SegmentOrdinal != expectedSeq {
		return h, nil, 0, errCorruptedHeader
	}
	if h.Version > version0 {
		return h, nil, 0, ErrUnsupportedVersion
	}

	var recs []Record
	off := segmentHeaderSize
	ts := h.Timestamp
	seq := h.FirstRecord
	for off < len(data) {
		start := off
		size, n1 := binary.Uvarint(data[off:])
		if n1 <= 0 {
			return h, recs, start, ErrCorrupted
		}
		off += n1
		delta, n2 := binary.Uvarint(data[off:])
		if n2 <= 0 || delta > 0xFFFF_FFFF {
			return h, recs, start, ErrCorrupted
		}
		off += n2
		if size > uint64(len(data)-off) || uint64(len(data)-off)-size < 8 {
			return h, recs, start, ErrCorrupted
		}
		end := off + int(size)
		sum := binary.LittleEndian.Uint64(data[end:])
		if xxhash.Sum64(data[start:end]) != sum {
			return h, recs, start, ErrCorrupted
		}
		ts += uint32(delta)
		recs = append(recs, Record{
			Seq:       seq,
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Data:      data[off:end],
		})
		seq++
		off = end + 8
	}
	return h, recs, off, nil
}

type segmentWriter struct {
	f    *os.File
	name string
	seg  uint32
	ts   uint32
	size int64
	buf  []byte
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], seg, ts, rec)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	ok = true
	return &segmentWriter{
		f:    f,
		name: name,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}, nil
}

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}

	b := appendRecordHeader(sw.buf[:0], len(data), tsDelta)
	b = append(b, data...)
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	sw.buf = b

	n, err := sw.f.Write(b)
	sw.size += int64(n)
	return err
}

func (sw *segmentWriter) close() error {
	if sw.f == nil {
		return nil
	}
	err := sw.f.Close()
	sw.f = nil
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, seg, ts uint32, rec uint64) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
		FirstRecord:    rec,
	}

	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], xxhash.Sum64(buf[:segmentHeaderSize-8]))
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size))
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
