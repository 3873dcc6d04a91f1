// Package archive reads solution archives: a zip container holding one XML
// metadata document and t_data_<period_type>.BIN series entries. A bare XML
// document is read as a metadata-only archive with a single entry.
//
// Entries are exposed as sequential streams so binary entries larger than
// memory never need to be buffered. Every read is bounded by a read timeout;
// a timeout is reported as a retryable IoTimeout.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/retry"
)

var dataEntryPattern = regexp.MustCompile(`^t_data_(\d+)\.BIN$`)

// Entry describes one archive member.
type Entry struct {
	Name             string
	UncompressedSize int64
	CompressedSize   int64
	Method           uint16
}

// DataEntry is a binary series entry and the period type it holds.
type DataEntry struct {
	Entry
	PeriodType int
}

// Options tune archive reads.
type Options struct {
	// ReadTimeout bounds each read; zero disables the bound.
	ReadTimeout time.Duration
	// Retry governs ReadAll retries after timeouts.
	Retry  *retry.Policy
	Logger *zap.Logger
}

// Archive is an open solution archive. It is safe to open several entry
// streams concurrently.
type Archive struct {
	path    string
	file    *os.File
	zr      *zip.Reader
	entries []Entry
	files   map[string]*zip.File
	// bare is true for a metadata-only XML input.
	bare bool

	readTimeout time.Duration
	retry       *retry.Policy
	logger      *zap.Logger
}

// IsXML reports whether path names a bare XML document.
func IsXML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

// Open opens the archive at path. A directory resolves to the single .zip
// file it contains.
func Open(path string, opts Options) (*Archive, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultPolicy()
	}
	if IsXML(resolved) {
		return openBare(resolved, opts)
	}

	f, err := os.Open(resolved) //nolint:gosec
	if err != nil {
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeEntryNotFound, "cannot open archive").
			WithDetail("path", resolved)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "cannot stat archive").
			WithDetail("path", resolved)
	}

	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "invalid zip central directory").
			WithDetail("path", resolved)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	a := &Archive{
		path:        resolved,
		file:        f,
		zr:          zr,
		files:       make(map[string]*zip.File, len(zr.File)),
		readTimeout: opts.ReadTimeout,
		retry:       opts.Retry,
		logger:      opts.Logger.With(zap.String("component", "archive")),
	}
	for _, zf := range zr.File {
		if _, dup := a.files[zf.Name]; dup {
			f.Close()
			return nil, plexerrors.New(plexerrors.ErrorTypeArchiveCorrupt, "duplicate entry name").
				WithDetail("entry", zf.Name)
		}
		a.files[zf.Name] = zf
		a.entries = append(a.entries, Entry{
			Name:             zf.Name,
			UncompressedSize: int64(zf.UncompressedSize64), //nolint:gosec
			CompressedSize:   int64(zf.CompressedSize64),   //nolint:gosec
			Method:           zf.Method,
		})
	}

	a.logger.Debug("archive opened",
		zap.String("path", resolved),
		zap.Int("entries", len(a.entries)))
	return a, nil
}

// openBare exposes an XML document as an archive whose only entry is the
// document itself, stored uncompressed.
func openBare(path string, opts Options) (*Archive, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeEntryNotFound, "cannot open metadata document").
			WithDetail("path", path)
	}
	a := &Archive{
		path:        path,
		bare:        true,
		entries:     []Entry{{Name: filepath.Base(path), UncompressedSize: st.Size(), CompressedSize: st.Size(), Method: zip.Store}},
		readTimeout: opts.ReadTimeout,
		retry:       opts.Retry,
		logger:      opts.Logger.With(zap.String("component", "archive")),
	}
	a.logger.Debug("metadata document opened", zap.String("path", path))
	return a, nil
}

// MetadataOnly reports whether the input is a bare XML document.
func (a *Archive) MetadataOnly() bool {
	return a.bare
}

// ResolvePath returns path itself for a file, or the single .zip inside a
// directory.
func ResolvePath(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", plexerrors.Wrap(err, plexerrors.ErrorTypeEntryNotFound, "archive not found").
			WithDetail("path", path)
	}
	if !st.IsDir() {
		return path, nil
	}

	items, err := os.ReadDir(path)
	if err != nil {
		return "", plexerrors.Wrap(err, plexerrors.ErrorTypeEntryNotFound, "cannot list directory").
			WithDetail("path", path)
	}
	var zips []string
	for _, it := range items {
		if !it.IsDir() && strings.EqualFold(filepath.Ext(it.Name()), ".zip") {
			zips = append(zips, filepath.Join(path, it.Name()))
		}
	}
	switch len(zips) {
	case 0:
		return "", plexerrors.New(plexerrors.ErrorTypeEntryNotFound, "no .zip file found in directory").
			WithDetail("path", path)
	case 1:
		return zips[0], nil
	default:
		return "", plexerrors.Newf(plexerrors.ErrorTypeEntryNotFound,
			"%d .zip files found in directory, expected one", len(zips)).WithDetail("path", path)
	}
}

// Path returns the resolved archive file path.
func (a *Archive) Path() string {
	return a.path
}

// Entries returns the archive catalog in central directory order.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Entry returns the catalog record for name.
func (a *Archive) Entry(name string) (Entry, bool) {
	if a.bare {
		if name == a.entries[0].Name {
			return a.entries[0], true
		}
		return Entry{}, false
	}
	zf, ok := a.files[name]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Name:             zf.Name,
		UncompressedSize: int64(zf.UncompressedSize64), //nolint:gosec
		CompressedSize:   int64(zf.CompressedSize64),   //nolint:gosec
		Method:           zf.Method,
	}, true
}

// Open returns a sequential stream of the decompressed entry. Each Read is
// bounded by the read timeout. Checksum or format failures while reading are
// reported as ArchiveCorrupt; a short stream yields io.ErrUnexpectedEOF.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	if a.bare {
		if name != a.entries[0].Name {
			return nil, plexerrors.New(plexerrors.ErrorTypeEntryNotFound, "entry not found in archive").
				WithDetail("entry", name)
		}
		f, err := os.Open(a.path) //nolint:gosec
		if err != nil {
			return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeEntryNotFound, "cannot open metadata document").
				WithDetail("path", a.path)
		}
		return newEntryReader(name, f, a.readTimeout), nil
	}
	zf, ok := a.files[name]
	if !ok {
		return nil, plexerrors.New(plexerrors.ErrorTypeEntryNotFound, "entry not found in archive").
			WithDetail("entry", name)
	}
	rc, err := zf.Open()
	if err != nil {
		if errors.Is(err, zip.ErrAlgorithm) {
			return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeUnsupportedCompression,
				fmt.Sprintf("compression method %d is not supported", zf.Method)).
				WithDetail("entry", name).WithDetail("method", zf.Method)
		}
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "cannot open entry").
			WithDetail("entry", name)
	}
	return newEntryReader(name, rc, a.readTimeout), nil
}

// ReadAll buffers a whole entry. Meant for the metadata document; each
// attempt is bounded by the read timeout and timeouts are retried.
func (a *Archive) ReadAll(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		rc, err := a.Open(name)
		if err != nil {
			return err
		}
		defer rc.Close()

		b, err := io.ReadAll(rc)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "entry ends early").
					WithDetail("entry", name)
			}
			return err
		}
		data = b
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DataEntries lists the BIN entries ordered by period type.
func (a *Archive) DataEntries() []DataEntry {
	var out []DataEntry
	for _, e := range a.entries {
		m := dataEntryPattern.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		pt, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, DataEntry{Entry: e, PeriodType: pt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodType < out[j].PeriodType })
	return out
}

// DataEntryName is the BIN entry name holding periodType series.
func DataEntryName(periodType int) string {
	return fmt.Sprintf("t_data_%d.BIN", periodType)
}

// Close releases the archive file.
func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}
