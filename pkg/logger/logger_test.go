package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	l, err = New(Config{Level: "debug", Encoding: "console", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestGetInstallsDefault(t *testing.T) {
	prev := Get()
	Set(nil)
	t.Cleanup(func() { Set(prev) })

	l := Get()
	require.NotNil(t, l)
	assert.Same(t, l, Get())
}

func TestFromContextAddsRunFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := NewContext(context.Background(), "run-1", "Model Base Solution.zip", "")

	FromContext(ctx, zap.New(core)).Info("metadata parsed")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "Model Base Solution.zip", fields["archive"])
	assert.NotContains(t, fields, "target")
}

func TestFromContextWithoutValues(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	base := zap.New(core)
	assert.Same(t, base, FromContext(context.Background(), base))
}
