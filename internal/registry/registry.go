// Package registry is the Job Registry (C4): the only globally shared
// mutable structure in the proxy. It guarantees at most one non-terminal
// Job per path and multiplexes worker progress to every subscriber.
//
// Grounded on internal/engine/manager.go's QueueManager: the lock is
// held only around map/slice mutation, never across worker spawn or
// blocking I/O, and the registry hands the freshly-created Job to a
// background worker after releasing the lock so a losing concurrent
// caller always observes either "not yet inserted" or "already
// inserted", never a half-registered state.
package registry

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/flexo-cache/flexo/internal/cacheobj"
	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/infra/logger"
)

// Worker is the contract the Download Worker (C3) satisfies. A Worker
// runs synchronously in its own goroutine and must publish a terminal
// message on job before returning.
type Worker func(ctx context.Context, order domain.Order, job *Job)

// Registry is the process-wide path -> Job map.
type Registry struct {
	cacheDir string
	runWork  Worker
	logger   *logger.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// New builds a Registry rooted at cacheDir. runWork is invoked in a new
// goroutine for every Scheduled outcome.
func New(cacheDir string, runWork Worker, log *logger.Logger) *Registry {
	return &Registry{
		cacheDir: cacheDir,
		runWork:  runWork,
		logger:   log,
		jobs:     make(map[string]*Job),
	}
}

// TrySchedule implements the Job Registry's core operation (spec.md
// §4.4): classify the cache, check for an in-flight Job, otherwise
// create and launch one. The registry lock is held only for the
// lookup/insert, never across the Classify filesystem call or the
// worker launch.
func (r *Registry) TrySchedule(ctx context.Context, order domain.Order) (domain.ScheduleOutcome, error) {
	abs := filepath.Join(r.cacheDir, filepath.FromSlash(order.Path))

	status, err := cacheobj.Classify(abs)
	if err != nil {
		return domain.ScheduleOutcome{}, err
	}
	if status.Kind == cacheobj.Complete {
		return domain.ScheduleOutcome{Kind: domain.Cached, CachedSize: status.Size}, nil
	}

	r.mu.Lock()
	if job, ok := r.jobs[order.Path]; ok && !job.IsTerminal() {
		r.mu.Unlock()
		return domain.ScheduleOutcome{Kind: domain.AlreadyInProgress, Subscriber: job.Subscribe()}, nil
	}

	job := newJob(order)
	r.jobs[order.Path] = job
	r.mu.Unlock()

	sub := job.Subscribe()
	go r.run(ctx, order, job)

	return domain.ScheduleOutcome{Kind: domain.Scheduled, Subscriber: sub}, nil
}

// Subscribe attaches to an existing non-terminal Job for path. It
// returns false if no such Job exists (the path is either cached,
// missing, or the Job just terminated).
func (r *Registry) Subscribe(path string) (<-chan domain.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[path]
	if !ok || job.IsTerminal() {
		return nil, false
	}
	return job.Subscribe(), true
}

func (r *Registry) run(ctx context.Context, order domain.Order, job *Job) {
	defer r.retire(order.Path, job)
	r.runWork(ctx, order, job)
}

// retire removes a terminal Job from the map. Subscriber channels are
// already closed by the time this runs (PublishTerminal closes them
// synchronously), so no subscriber can observe the Job disappear before
// it has drained its final message.
func (r *Registry) retire(path string, job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[path] == job {
		delete(r.jobs, path)
	}
}
