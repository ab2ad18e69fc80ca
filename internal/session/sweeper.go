package session

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper runs the idle sweep on a fixed interval until ctx is
// canceled. Idle sessions are closed proactively, not left to accumulate.
func (r *Registry) StartSweeper(ctx context.Context, interval, idleTimeout time.Duration, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.SweepIdle(time.Now(), idleTimeout); n > 0 {
					logger.Info("idle sessions swept", slog.Int("count", n))
				}
			}
		}
	}()
}
