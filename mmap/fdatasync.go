package mmap

import "os"

// Fdatasync flushes the data written to f to stable storage. It may skip
// metadata such as modification times, so it can be faster than f.Sync.
//
// Errors are not recoverable: after a failed sync, the state of the data on
// disk is unknown.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
