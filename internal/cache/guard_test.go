package cache

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brustt/logistics-sprawl/internal/resilience"
)

// flakyBackend fails every call with a connection reset while down is set.
type flakyBackend struct {
	Backend
	down  bool
	calls int
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.calls++
	if f.down {
		return nil, false, fmt.Errorf("read tcp: %w", syscall.ECONNRESET)
	}
	return f.Backend.Get(ctx, key)
}

func TestGuard_PassesThrough(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	exerciseBackend(t, Guard(fs, "fs", resilience.NewBreakerConfig(2, 60)))
}

func TestGuard_OpensOnRepeatedFailures(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyBackend{Backend: fs, down: true}
	g := Guard(flaky, "flaky", resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := g.Get(ctx, "zone/lyon/2013/r1000.geojson")
		assert.True(t, errors.Is(err, syscall.ECONNRESET))
	}
	_, _, err = g.Get(ctx, "zone/lyon/2013/r1000.geojson")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, flaky.calls, "open circuit does not reach the backend")

	// Writes share the same circuit.
	assert.ErrorIs(t, g.Put(ctx, "zone/lyon/2013/r1000.geojson", []byte("x")), resilience.ErrCircuitOpen)
}

func TestGuard_MissIsNotFailure(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	g := Guard(fs, "fs", resilience.BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		_, ok, err := g.Get(context.Background(), "matched/lyon/2013/r1000.geojson")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
