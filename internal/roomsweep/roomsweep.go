package roomsweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the part of ws.Hub that evicts idle rooms.
type Sweeper interface {
	SweepIdle(ttl time.Duration) int
}

// Run evicts rooms idle for at least ttl on every tick of interval. A zero ttl
// disables eviction and Run returns at once.
func Run(ctx context.Context, s Sweeper, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				if n := s.SweepIdle(ttl); n > 0 {
					zap.L().Debug("roomsweep.evicted", zap.Int("rooms", n))
				}
			}
		}
	}()
}
