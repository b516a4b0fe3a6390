package worker

import (
	"fmt"
	"time"
)

// lowSpeedGuard treats a stalled transfer as a failure: if the moving
// average byte rate falls below limit for a full window, observe
// returns an error so the caller can rotate providers (spec.md §4.3,
// "Low-speed guard").
//
// x/time/rate's token bucket enforces an upper bound; this needs the
// opposite (a lower bound), so it is hand-rolled rather than borrowed —
// see DESIGN.md.
type lowSpeedGuard struct {
	limit  int64
	window time.Duration

	windowStart time.Time
	windowBytes int64
}

func newLowSpeedGuard(limit int64, window time.Duration) *lowSpeedGuard {
	return &lowSpeedGuard{limit: limit, window: window}
}

// observe records n freshly-written bytes and, once a full window has
// elapsed, checks whether the average rate over that window met the
// configured floor.
func (g *lowSpeedGuard) observe(n int64) error {
	if g.limit <= 0 || g.window <= 0 {
		return nil
	}

	now := time.Now()
	if g.windowStart.IsZero() {
		g.windowStart = now
	}
	g.windowBytes += n

	elapsed := now.Sub(g.windowStart)
	if elapsed < g.window {
		return nil
	}

	rate := float64(g.windowBytes) / elapsed.Seconds()
	g.windowStart = now
	g.windowBytes = 0

	if rate < float64(g.limit) {
		return fmt.Errorf("worker: transfer stalled below %d B/s over %s", g.limit, g.window)
	}
	return nil
}
