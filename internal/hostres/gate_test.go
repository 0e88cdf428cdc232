package hostres

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_DisabledWithoutCeiling(t *testing.T) {
	g := NewGate(0, WithUsage(func() uint64 { return 1 << 40 }))
	require.NoError(t, g.Wait(context.Background()))

	var nilGate *Gate
	require.NoError(t, nilGate.Wait(context.Background()))
}

func TestGate_PassesBelowCeiling(t *testing.T) {
	g := NewGate(1000, WithUsage(func() uint64 { return 10 }))

	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestGate_StallsUntilUsageDrops(t *testing.T) {
	var calls atomic.Int32
	usage := func() uint64 {
		if calls.Add(1) < 3 {
			return 2000
		}
		return 10
	}

	g := NewGate(1000, WithUsage(usage), WithPause(5*time.Millisecond), WithMaxStall(time.Second))
	require.NoError(t, g.Wait(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGate_ProceedsAfterMaxStall(t *testing.T) {
	g := NewGate(1000,
		WithUsage(func() uint64 { return 2000 }),
		WithPause(5*time.Millisecond),
		WithMaxStall(30*time.Millisecond),
	)

	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestGate_HonorsContext(t *testing.T) {
	g := NewGate(1000,
		WithUsage(func() uint64 { return 2000 }),
		WithPause(time.Hour),
		WithMaxStall(time.Hour),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
