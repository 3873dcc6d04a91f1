package decoder

import (
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/mmap"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/pool"
	"github.com/ajitpratap0/plexload/pkg/retry"
)

// mappedPayload serves reads from an extracted, memory mapped copy of the
// entry.
type mappedPayload struct {
	entry string
	path  string
	mr    *mmap.Reader
}

func spill(ctx context.Context, src Source, seg Segment, dir string, policy *retry.Policy, logger *zap.Logger) (*mappedPayload, error) {
	var path string
	err := policy.Do(ctx, func(ctx context.Context) error {
		p, err := extract(ctx, src, seg.Entry, dir)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	mr, err := mmap.NewReader(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeInternal, "cannot map spill file").
			WithDetail("entry", seg.Entry)
	}
	logger.Debug("entry spilled to disk", zap.String("path", path), zap.Int64("bytes", mr.Size()))
	return &mappedPayload{entry: seg.Entry, path: path, mr: mr}, nil
}

func extract(ctx context.Context, src Source, entry, dir string) (path string, err error) {
	rc, err := src.Open(entry)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(dir, "plexload-*.bin")
	if err != nil {
		return "", plexerrors.Wrap(err, plexerrors.ErrorTypeInternal, "cannot create spill file").
			WithDetail("dir", dir)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	buf := pool.CopyBuffers.Get()
	defer pool.CopyBuffers.Put(buf)
	if _, err := io.CopyBuffer(struct{ io.Writer }{f}, &ctxReader{ctx: ctx, r: rc}, *buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "", plexerrors.Wrap(err, plexerrors.ErrorTypeArchiveCorrupt, "entry ends early").
				WithDetail("entry", entry)
		}
		return "", err
	}
	return f.Name(), nil
}

func (p *mappedPayload) read(_ context.Context, offset int64, buf []byte) error {
	b, err := p.mr.ReadRange(offset, int64(len(buf)))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return truncated(p.entry, offset+int64(len(b)), err)
		}
		return plexerrors.Wrap(err, plexerrors.ErrorTypeInternal, "spill read failed").
			WithDetail("entry", p.entry)
	}
	copy(buf, b)
	return nil
}

func (p *mappedPayload) Close() error {
	return multierr.Append(p.mr.Close(), os.Remove(p.path))
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, plexerrors.Wrap(err, plexerrors.ErrorTypeCancelled, "extraction cancelled")
	}
	return c.r.Read(p)
}
