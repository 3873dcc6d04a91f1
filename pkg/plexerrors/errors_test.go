package plexerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeIoTimeout, "read timed out")
	outer := Wrap(inner, ErrorTypeBatchWriteFailed, "commit failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, errors.Is(outer, inner))
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeIoTimeout, "slow disk")))
	assert.True(t, IsRetryable(fmt.Errorf("attempt: %w", New(ErrorTypeIoTimeout, "slow disk"))))
	assert.False(t, IsRetryable(New(ErrorTypePayloadTruncated, "short")))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestTypeOfAndHasType(t *testing.T) {
	err := Wrap(New(ErrorTypeIoTimeout, "deadline"), ErrorTypeBatchWriteFailed, "batch 3")

	assert.Equal(t, ErrorTypeBatchWriteFailed, TypeOf(err))
	assert.True(t, HasType(err, ErrorTypeIoTimeout))
	assert.False(t, HasType(err, ErrorTypeCancelled))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestBatchIndex(t *testing.T) {
	err := fmt.Errorf("load: %w", BatchWriteFailed(errors.New("disk full"), 4))

	idx, ok := BatchIndex(err)
	require.True(t, ok)
	assert.Equal(t, 4, idx)

	_, ok = BatchIndex(New(ErrorTypeCancelled, "stop"))
	assert.False(t, ok)
}

func TestMalformedTruncatesMessage(t *testing.T) {
	violations := make([]string, 15)
	for i := range violations {
		violations[i] = fmt.Sprintf("violation %d", i)
	}

	err := Malformed(violations)

	assert.Contains(t, err.Error(), "15 metadata violation(s)")
	assert.Contains(t, err.Error(), "... 5 more")
	assert.Len(t, Violations(err), 15)
	assert.Nil(t, Violations(New(ErrorTypeInternal, "x")))
}
