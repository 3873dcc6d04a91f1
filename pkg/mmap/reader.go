// Package mmap provides read-only memory-mapped access to spilled archive
// entries.
package mmap

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// Reader serves byte ranges of a read-only mapping. ReadRange is safe for
// concurrent use; slices it returned are invalid after Close.
type Reader struct {
	file     *os.File
	data     []byte
	fileSize int64
	pageSize int64

	bytesRead atomic.Int64
	ranges    atomic.Int64

	mu sync.RWMutex
}

// NewReader maps filename read-only. An empty file yields a Reader with no
// mapping whose reads all fail with io.ErrUnexpectedEOF.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	r := &Reader{
		file:     file,
		fileSize: stat.Size(),
		pageSize: int64(os.Getpagesize()),
	}
	if r.fileSize == 0 {
		return r, nil
	}

	data, err := mapFile(int(file.Fd()), int(r.fileSize))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	adviseSequential(data)

	r.data = data
	return r, nil
}

// Size returns the mapped file size
func (r *Reader) Size() int64 {
	return r.fileSize
}

// ReadRange returns length bytes at offset without copying. A range past
// the end of the file returns io.ErrUnexpectedEOF together with the bytes
// that are available.
func (r *Reader) ReadRange(offset, length int64) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range [%d, +%d)", offset, length)
	}
	if length == 0 {
		return nil, nil
	}
	if r.data == nil || offset >= r.fileSize {
		return nil, io.ErrUnexpectedEOF
	}

	end := offset + length
	short := false
	if end > r.fileSize {
		end = r.fileSize
		short = true
	}

	r.willNeed(offset, end)
	r.bytesRead.Add(end - offset)
	r.ranges.Add(1)

	if short {
		return r.data[offset:end], io.ErrUnexpectedEOF
	}
	return r.data[offset:end], nil
}

// willNeed hints the page-aligned cover of [start, end).
func (r *Reader) willNeed(start, end int64) {
	from := start - start%r.pageSize
	to := min((end+r.pageSize-1)/r.pageSize*r.pageSize, r.fileSize)
	if to > from {
		adviseWillNeed(r.data[from:to])
	}
}

// Close unmaps the file and closes it
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error

	if r.data != nil {
		err = unmap(r.data)
		r.data = nil
	}

	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}

	return err
}

// Stats reports the bytes served and the number of ReadRange calls.
func (r *Reader) Stats() (bytesRead, ranges int64) {
	return r.bytesRead.Load(), r.ranges.Load()
}
