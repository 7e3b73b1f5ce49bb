package auth

import (
	"context"
	"time"

	"accessd.org/internal/obs"
)

// DefaultSweepInterval is the sweeper period used when none is configured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically deletes session rows past their expiry. It owns its
// own store handle, shares no lock with request handlers, and a request that
// races a sweep for the same token resolves by first-deleter-wins.
type Sweeper struct {
	store    SessionStore
	interval time.Duration
	now      func() time.Time
}

// NewSweeper constructs a sweeper over the given store. A non-positive
// interval selects DefaultSweepInterval.
func NewSweeper(store SessionStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval, now: time.Now}
}

// Run sweeps on a fixed interval until ctx is cancelled. An in-flight
// iteration is allowed to finish; store errors are logged and the schedule
// continues. Intended to be started as a goroutine by the process root.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpiredBefore(ctx, s.now().UTC())
	if err != nil {
		obs.SweepCompleted(0, false)
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "session sweep failed",
			"error": err.Error(),
		})
		return
	}
	obs.SweepCompleted(deleted, true)
	if deleted > 0 {
		obs.LogRequest(map[string]any{
			"level":   "info",
			"msg":     "expired sessions reclaimed",
			"deleted": deleted,
		})
	}
}
