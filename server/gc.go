package server

import (
	"context"
	"time"
)

// gcLoop periodically sweeps expired authorization codes and OAuth
// state, mirroring dex's ticker-driven GarbageCollect goroutine. It
// exits when ctx is cancelled (via Server.Shutdown).
func (s *Server) gcLoop(ctx context.Context) {
	defer s.wg.Done()
	if s.sweeper == nil {
		return
	}
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := s.sweeper.GarbageCollect(ctx)
			if err != nil {
				s.logger.Warn("garbage collection sweep failed", "err", err)
				continue
			}
			if len(counts) > 0 {
				s.logger.Info("garbage collection swept expired rows", "counts", counts)
			}
		}
	}
}
