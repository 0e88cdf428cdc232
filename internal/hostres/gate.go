package hostres

import (
	"context"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/metrics"
)

const (
	defaultPause    = 250 * time.Millisecond
	defaultMaxStall = 10 * time.Second
)

// Gate holds back new file work while heap usage sits above a ceiling.
// It is advisory: after MaxStall the caller proceeds anyway.
type Gate struct {
	ceiling  uint64
	usage    func() uint64
	pause    time.Duration
	maxStall time.Duration
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithUsage replaces the heap usage source.
func WithUsage(fn func() uint64) GateOption {
	return func(g *Gate) { g.usage = fn }
}

// WithPause sets the sleep between usage checks.
func WithPause(d time.Duration) GateOption {
	return func(g *Gate) { g.pause = d }
}

// WithMaxStall sets how long a caller may be held back.
func WithMaxStall(d time.Duration) GateOption {
	return func(g *Gate) { g.maxStall = d }
}

// NewGate creates a gate for ceiling bytes. A zero ceiling disables it.
func NewGate(ceiling uint64, opts ...GateOption) *Gate {
	g := &Gate{
		ceiling:  ceiling,
		usage:    heapAlloc,
		pause:    defaultPause,
		maxStall: defaultMaxStall,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Ceiling returns the configured ceiling in bytes.
func (g *Gate) Ceiling() uint64 {
	return g.ceiling
}

// Wait blocks while usage is at or above the ceiling, up to the max stall.
// It only returns an error when ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil || g.ceiling == 0 {
		return nil
	}

	used := g.usage()
	if used < g.ceiling {
		return nil
	}

	metrics.MemoryStalls.Inc()
	zlog.Logger.Warn().
		Str("used", humanize.IBytes(used)).
		Str("ceiling", humanize.IBytes(g.ceiling)).
		Msg("memory near ceiling, holding back file dispatch")

	deadline := time.Now().Add(g.maxStall)
	timer := time.NewTimer(g.pause)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if g.usage() < g.ceiling {
			return nil
		}
		if !time.Now().Before(deadline) {
			zlog.Logger.Warn().Dur("stalled", g.maxStall).Msg("memory still above ceiling, proceeding")
			return nil
		}

		timer.Reset(g.pause)
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return stats.HeapAlloc
}
