// Package mmap maps journal segment files into memory for reading and syncs
// appended data to disk.
package mmap

import (
	"fmt"
	"os"
)

type Options uint

const (
	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << iota

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Maps to MADV_RANDOM on Unix.
	RandomAccess
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Map maps the first size bytes of f read-only.
func Map(f *os.File, size int, opt Options) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}
	return mmap(f, size, opt)
}

// Unmap unmaps a slice returned by Map.
func Unmap(b []byte) error {
	return munmap(b)
}

// File is a read-only mapping of a whole file.
type File struct {
	Data []byte
	f    *os.File
}

// Open maps the file at path. An empty file yields a File with nil Data.
func Open(path string, opt Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	mf := &File{f: f}
	if st.Size() > 0 {
		mf.Data, err = Map(f, int(st.Size()), opt)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
	}
	return mf, nil
}

// Close unmaps the data and closes the file. Data must not be used afterwards.
func (mf *File) Close() error {
	var err error
	if mf.Data != nil {
		err = Unmap(mf.Data)
		mf.Data = nil
	}
	if mf.f != nil {
		if cerr := mf.f.Close(); err == nil {
			err = cerr
		}
		mf.f = nil
	}
	return err
}
