package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) GarbageCollect(ctx context.Context) (map[string]int, error) {
	c.calls.Add(1)
	return map[string]int{"authorization_codes": 1}, nil
}

func TestRunSweepsOnEveryTick(t *testing.T) {
	sweeper := &countingSweeper{}
	h := newTestServer(t, func(c *Config) {
		c.Sweeper = sweeper
		c.GCInterval = 10 * time.Millisecond
	})

	h.server.Run(context.Background())
	t.Cleanup(h.server.Shutdown)

	require.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownStopsTheSweepLoop(t *testing.T) {
	sweeper := &countingSweeper{}
	h := newTestServer(t, func(c *Config) {
		c.Sweeper = sweeper
		c.GCInterval = 5 * time.Millisecond
	})

	h.server.Run(context.Background())
	require.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	h.server.Shutdown()
	seenAtShutdown := sweeper.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, seenAtShutdown, sweeper.calls.Load(), "no further sweeps must run after Shutdown returns")
}
