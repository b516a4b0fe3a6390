// Package scheduler is the top-level dispatch façade (C5): it maps an
// incoming Order to one of {Cached, AlreadyInProgress, Scheduled,
// Uncacheable}, grounded on internal/api/controllers/newznab.go's
// controller-calls-manager-then-branches-on-outcome shape.
package scheduler

import (
	"context"

	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/provider"
	"github.com/flexo-cache/flexo/internal/registry"
)

// Scheduler is a thin façade over the Job Registry and Provider Pool.
type Scheduler struct {
	registry *registry.Registry
	pool     *provider.Pool
}

// New builds a Scheduler.
func New(reg *registry.Registry, pool *provider.Pool) *Scheduler {
	return &Scheduler{registry: reg, pool: pool}
}

// Schedule classifies order.Path by the uncacheable-suffix policy before
// ever touching the Job Registry, per spec.md §4.5 ("these bypass the
// Job Registry entirely").
func (s *Scheduler) Schedule(ctx context.Context, order domain.Order) (domain.ScheduleOutcome, error) {
	if s.pool.IsUncacheable(order.Path) {
		return domain.ScheduleOutcome{Kind: domain.Uncacheable, Provider: s.pool.Primary()}, nil
	}
	return s.registry.TrySchedule(ctx, order)
}

// Subscribe re-attaches a caller to an in-flight Job, for the rare case
// a handler needs to join a Job discovered outside Schedule (not used by
// the HTTP front door today, but part of the Registry's documented
// surface per spec.md §4.4).
func (s *Scheduler) Subscribe(path string) (<-chan domain.Progress, bool) {
	return s.registry.Subscribe(path)
}
