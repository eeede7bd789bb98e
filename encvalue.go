package rtc

import (
	"encoding/binary"
	"fmt"
)

// Stored record format: flags:uvarint modCount:uvarint dataSize:uvarint data
// where data is the msgpack-encoded map of field values.

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize       = 3
	maxValueHeaderSize = binary.MaxVarintLen64 * 3
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

type value struct {
	Flags    valueFlags
	ModCount uint64
	Data     []byte
}

// ValueMeta is the bookkeeping stored alongside each record.
type ValueMeta struct {
	// ModCount is 1 for a freshly created record and grows by one with
	// every write that changes it.
	ModCount uint64
}

func (vle value) ValueMeta() ValueMeta {
	return ValueMeta{
		ModCount: vle.ModCount,
	}
}

func appendValue(buf []byte, flags valueFlags, modCount uint64, data []byte) []byte {
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	buf = binary.AppendUvarint(buf, uint64(flags))
	buf = binary.AppendUvarint(buf, modCount)
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func (vle *value) decode(data []byte) error {
	orig := data
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags, data = valueFlags(v), data[n:]

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad mod count")
	}
	vle.ModCount, data = v, data[n:]

	dataSize, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad data size")
	}
	data = data[n:]

	if uint64(len(data)) != dataSize {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: got %d bytes for data, expected %d bytes", len(data), dataSize)
	}
	vle.Data = data
	return nil
}
