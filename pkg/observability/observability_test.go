package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestTraceBatchExportsSpan(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig("test")
	cfg.Writer = &buf
	require.NoError(t, Initialize(cfg))

	err := TraceBatch(context.Background(), 3, 100, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	want := errors.New("commit failed")
	err = TraceBatch(context.Background(), 4, 100, func(ctx context.Context) error {
		return want
	})
	assert.Same(t, want, err)

	require.NoError(t, Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "loader.commit_batch")
	assert.Contains(t, buf.String(), "batch.index")
	assert.Contains(t, buf.String(), "commit failed")
}

func TestSpansWithoutInitialize(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))

	_, span := Start(context.Background(), "noop", attribute.String("k", "v"))
	span.Set(attribute.Int("n", 1))
	span.Finish(nil)
}
