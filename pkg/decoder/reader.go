package decoder

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/metrics"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/retry"
)

// DefaultChunkSize bounds the values returned by one Next refill.
const DefaultChunkSize = 4096

// Source opens archive entries as sequential streams. *archive.Archive
// satisfies it.
type Source interface {
	Open(name string) (io.ReadCloser, error)
}

// Options tune a Reader.
type Options struct {
	// Retry governs reopen-and-skip after read timeouts.
	Retry *retry.Policy
	// SpillDir, when set, extracts the entry to a memory mapped temporary
	// file under it before decoding.
	SpillDir  string
	ChunkSize int
	Logger    *zap.Logger
}

// payload reads byte ranges of one entry. Offsets passed to read never
// decrease.
type payload interface {
	read(ctx context.Context, offset int64, buf []byte) error
	Close() error
}

// Reader decodes one segment. It is not safe for concurrent use.
type Reader struct {
	seg    Segment
	data   payload
	logger *zap.Logger

	series  int   // index of the current series
	value   int64 // next value within the current series
	decoded int64

	chunkSize int
	pending   Chunk
	buf       []byte
}

// OpenSeries returns a lazy reader over the values of seg.
func OpenSeries(ctx context.Context, src Source, seg Segment, opts Options) (*Reader, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	logger := opts.Logger.With(zap.String("component", "decoder"), zap.String("entry", seg.Entry))

	policy := *opts.Retry
	policy.OnRetry = func(attempt int, err error) {
		metrics.Retries.WithLabelValues("read").Inc()
		logger.Warn("entry read timed out, reopening", zap.Int("attempt", attempt), zap.Error(err))
	}

	var data payload
	if opts.SpillDir != "" {
		sp, err := spill(ctx, src, seg, opts.SpillDir, &policy, logger)
		if err != nil {
			return nil, err
		}
		data = sp
	} else {
		data = &streamPayload{src: src, entry: seg.Entry, retry: &policy}
	}

	return &Reader{
		seg:       seg,
		data:      data,
		logger:    logger,
		chunkSize: opts.ChunkSize,
	}, nil
}

// Segment returns the segment being decoded.
func (r *Reader) Segment() Segment {
	return r.seg
}

// Decoded returns the number of values decoded so far.
func (r *Reader) Decoded() int64 {
	return r.decoded
}

// NextChunk returns up to limit consecutive values of the current series.
// It returns io.EOF once every series is exhausted.
func (r *Reader) NextChunk(ctx context.Context, limit int) (Chunk, error) {
	if limit <= 0 {
		limit = r.chunkSize
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, plexerrors.Wrap(err, plexerrors.ErrorTypeCancelled, "decode cancelled").
			WithDetail("entry", r.seg.Entry)
	}

	for r.series < len(r.seg.Series) && r.value >= r.seg.Series[r.series].Length {
		r.series++
		r.value = 0
	}
	if r.series >= len(r.seg.Series) {
		return Chunk{}, io.EOF
	}

	sr := r.seg.Series[r.series]
	n := min(int64(limit), sr.Length-r.value)
	need := int(n) * ValueSize
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]

	offset := sr.Offset + r.value*ValueSize
	if err := r.data.read(ctx, offset, buf); err != nil {
		return Chunk{}, err
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*ValueSize:]))
	}
	chunk := Chunk{Key: sr.Key, FirstBlock: sr.FirstBlock + r.value, Values: values}

	r.value += n
	r.decoded += n
	metrics.PointsDecoded.WithLabelValues(r.seg.Entry).Add(float64(n))
	return chunk, nil
}

// Next returns the next value. It returns io.EOF once every series is
// exhausted.
func (r *Reader) Next(ctx context.Context) (DataPoint, error) {
	if len(r.pending.Values) == 0 {
		c, err := r.NextChunk(ctx, r.chunkSize)
		if err != nil {
			return DataPoint{}, err
		}
		r.pending = c
	}
	p := r.pending.Point(0)
	r.pending.Values = r.pending.Values[1:]
	r.pending.FirstBlock++
	return p, nil
}

// Close releases the entry stream or spill file.
func (r *Reader) Close() error {
	return r.data.Close()
}

func truncated(entry string, offset int64, err error) error {
	return plexerrors.Wrap(err, plexerrors.ErrorTypePayloadTruncated, "entry ends before the declared series").
		WithDetail("entry", entry).WithDetail("offset", offset)
}

// streamPayload reads an entry sequentially. After a timeout the entry is
// reopened and skipped forward to the wanted offset.
type streamPayload struct {
	src   Source
	entry string
	retry *retry.Policy

	rc  io.ReadCloser
	off int64
}

func (p *streamPayload) read(ctx context.Context, offset int64, buf []byte) error {
	return p.retry.Do(ctx, func(ctx context.Context) error {
		if p.rc != nil && p.off > offset {
			p.reset()
		}
		if p.rc == nil {
			rc, err := p.src.Open(p.entry)
			if err != nil {
				return err
			}
			p.rc = rc
			p.off = 0
		}

		if gap := offset - p.off; gap > 0 {
			n, err := io.CopyN(io.Discard, p.rc, gap)
			p.off += n
			if err != nil {
				return p.fail(err)
			}
		}
		n, err := io.ReadFull(p.rc, buf)
		p.off += int64(n)
		if err != nil {
			return p.fail(err)
		}
		return nil
	})
}

func (p *streamPayload) fail(err error) error {
	if plexerrors.IsRetryable(err) {
		p.reset()
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return truncated(p.entry, p.off, err)
	}
	return err
}

func (p *streamPayload) reset() {
	if p.rc != nil {
		_ = p.rc.Close()
	}
	p.rc = nil
	p.off = 0
}

func (p *streamPayload) Close() error {
	if p.rc == nil {
		return nil
	}
	err := p.rc.Close()
	p.rc = nil
	return err
}
