// Package app wires together the collaborators spec.md §6 describes as
// independently-constructed and bound at startup: Config, Logger,
// Provider Pool, Job Registry, Scheduler, and the audit Store. Grounded
// on the teacher's internal/app/context.go, which plays the same "single
// source of truth" role for the NZB engine's equivalent collaborators.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/infra/config"
	"github.com/flexo-cache/flexo/internal/infra/logger"
	"github.com/flexo-cache/flexo/internal/mirrorsource"
	"github.com/flexo-cache/flexo/internal/provider"
	"github.com/flexo-cache/flexo/internal/registry"
	"github.com/flexo-cache/flexo/internal/scheduler"
	"github.com/flexo-cache/flexo/internal/store"
	"github.com/flexo-cache/flexo/internal/worker"
)

// Context holds the proxy's shared, process-wide state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Pool      *provider.Pool
	Scheduler *scheduler.Scheduler
	Audit     *store.AuditStore
}

// httpClientTimeout bounds a single upstream round trip's header wait;
// the body itself is read in chunkSize pieces by the worker and isn't
// subject to this deadline once headers arrive.
const httpClientTimeout = 30 * time.Second

// NewContext resolves the provider list, opens the audit store, and
// wires the Provider Pool, Job Registry, and Scheduler together. The
// Registry's worker callback closes over the HTTP client and low-speed
// guard settings so every Job launched through the Scheduler runs with
// the same configuration.
func NewContext(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Context, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = httpClientTimeout
	client := &http.Client{Transport: transport}

	providers, err := mirrorsource.Resolve(ctx, cfg, client)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve providers: %w", err)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers available: cannot start")
	}

	pool := provider.NewPool(providers, cfg.UncacheableSuffixes)

	auditStore, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	workerCfg := worker.Config{
		CacheDir:       cfg.CacheDirectory,
		Client:         client,
		LowSpeedLimit:  cfg.LowSpeedLimit,
		LowSpeedWindow: cfg.LowSpeedWindow,
	}

	runWork := func(ctx context.Context, order domain.Order, job *registry.Job) {
		worker.Run(ctx, order, pool, job, workerCfg, log)
	}

	reg := registry.New(cfg.CacheDirectory, runWork, log)
	sched := scheduler.New(reg, pool)

	return &Context{
		Config:    cfg,
		Logger:    log,
		Pool:      pool,
		Scheduler: sched,
		Audit:     auditStore,
	}, nil
}

// Close releases resources held by the Context.
func (c *Context) Close() {
	c.Logger.Info("shutting down audit store...")
	if err := c.Audit.Close(); err != nil {
		c.Logger.Error("error closing audit store: %v", err)
	}
}
