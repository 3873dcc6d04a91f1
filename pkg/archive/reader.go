package archive

import (
	"errors"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

type readResult struct {
	n   int
	err error
}

// entryReader bounds each Read of a decompressing stream by a timeout and
// maps container failures to ArchiveCorrupt. After a timeout the reader is
// unusable; the in-flight read owns an internal buffer, so the caller's
// slice is never written late.
type entryReader struct {
	name    string
	rc      io.ReadCloser
	timeout time.Duration
	offset  int64

	buf     []byte
	pending chan readResult
	broken  bool
}

func newEntryReader(name string, rc io.ReadCloser, timeout time.Duration) *entryReader {
	return &entryReader{name: name, rc: rc, timeout: timeout}
}

func (r *entryReader) Read(p []byte) (int, error) {
	if r.broken {
		return 0, plexerrors.New(plexerrors.ErrorTypeIoTimeout, "entry stream abandoned after timeout").
			WithDetail("entry", r.name).WithDetail("offset", r.offset)
	}

	var n int
	var err error
	if r.timeout <= 0 {
		n, err = r.rc.Read(p)
	} else {
		n, err = r.timedRead(p)
	}
	r.offset += int64(n)
	return n, r.mapError(err)
}

func (r *entryReader) timedRead(p []byte) (int, error) {
	if cap(r.buf) < len(p) {
		r.buf = make([]byte, len(p))
	}
	buf := r.buf[:len(p)]
	ch := make(chan readResult, 1)
	go func() {
		n, err := r.rc.Read(buf)
		ch <- readResult{n: n, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		copy(p, buf[:res.n])
		return res.n, res.err
	case <-timer.C:
		r.broken = true
		r.pending = ch
		r.buf = nil
		return 0, plexerrors.Newf(plexerrors.ErrorTypeIoTimeout, "read exceeded %s", r.timeout).
			WithDetail("entry", r.name).WithDetail("offset", r.offset)
	}
}

func (r *entryReader) mapError(err error) error {
	switch {
	case err == nil, err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return err
	}
	var pe *plexerrors.Error
	if errors.As(err, &pe) {
		return err
	}
	var corrupt flate.CorruptInputError
	if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) ||
		errors.As(err, &corrupt) || errors.Is(err, zstd.ErrMagicMismatch) {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "entry data is corrupt").
			WithDetail("entry", r.name).WithDetail("offset", r.offset)
	}
	return plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "entry read failed").
		WithDetail("entry", r.name).WithDetail("offset", r.offset)
}

// Close closes the stream. A stream abandoned by a timeout is closed once
// its in-flight read returns.
func (r *entryReader) Close() error {
	if r.pending != nil {
		pending, rc := r.pending, r.rc
		r.pending = nil
		go func() {
			<-pending
			_ = rc.Close()
		}()
		return nil
	}
	return r.rc.Close()
}
