package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

type fakeDriver struct {
	name   string
	suffix string
}

func (f *fakeDriver) Name() string                 { return f.name }
func (f *fakeDriver) Accepts(location string) bool { return strings.HasSuffix(location, f.suffix) }
func (f *fakeDriver) Exists(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeDriver) Remove(context.Context, string) error { return nil }
func (f *fakeDriver) Open(context.Context, string, *zap.Logger) (Engine, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeDriver{name: DefaultDriver, suffix: ".duckdb"}))
	require.NoError(t, r.Register(&fakeDriver{name: "sqlite", suffix: ".sqlite"}))

	tests := []struct {
		name     string
		location string
		kind     string
		want     string
	}{
		{"explicit kind wins", "out.sqlite", DefaultDriver, DefaultDriver},
		{"inferred from location", "out.sqlite", "", "sqlite"},
		{"falls back to default", "out", "", DefaultDriver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Resolve(tt.location, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeDriver{name: "sqlite", suffix: ".sqlite"}))

	_, err := r.Resolve("out.sqlite", "oracle")
	require.Error(t, err)
	assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "sqlite")

	_, err = r.Resolve("out.bin", "")
	assert.True(t, plexerrors.IsType(err, plexerrors.ErrorTypeConfig))
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeDriver{name: "sqlite"}))
	assert.Error(t, r.Register(&fakeDriver{name: "sqlite"}))
	assert.Equal(t, []string{"sqlite"}, r.Names())
}
