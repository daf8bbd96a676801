// Package app assembles an instance from configuration and owns its
// lifecycle. Every instance is identical; a fleet shares work through the
// store and the queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/starjobs/internal/config"
	"github.com/SirClappington/starjobs/internal/domain"
	"github.com/SirClappington/starjobs/internal/httpapi"
	"github.com/SirClappington/starjobs/internal/identity"
	"github.com/SirClappington/starjobs/internal/jobs"
	"github.com/SirClappington/starjobs/internal/metrics"
	"github.com/SirClappington/starjobs/internal/recovery"
	"github.com/SirClappington/starjobs/internal/storage"
	"github.com/SirClappington/starjobs/internal/worker"
)

// Roles selects the parts an instance runs.
type Roles struct {
	HTTP     bool
	Workers  bool
	Recovery bool
}

var (
	// Full serves the API, executes jobs and sweeps for orphans.
	Full = Roles{HTTP: true, Workers: true, Recovery: true}
	// RecoveryOnly only sweeps for orphans. It needs a store and queue
	// shared with the instances that run workers.
	RecoveryOnly = Roles{Recovery: true}
)

// check rejects configurations where the sweep would republish into a queue
// that no worker reads, or scan a store that no other instance writes.
func (r Roles) check(cfg config.Config) error {
	if !r.Recovery || r.Workers {
		return nil
	}
	if cfg.QueueBackend != config.BackendRedis {
		return fmt.Errorf("recovery without workers needs a shared queue: QUEUE_BACKEND=%s", cfg.QueueBackend)
	}
	if cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("recovery without workers needs a shared store: STORE_BACKEND=%s", cfg.StoreBackend)
	}
	return nil
}

type Instance struct {
	ID string

	cfg      config.Config
	roles    Roles
	logger   *zap.Logger
	backends *backends
	registry *prometheus.Registry

	Coordinator *jobs.Coordinator
	Stars       *storage.StarStore
	pool        *worker.Pool
	scanner     *recovery.Scanner
	server      *http.Server
	listener    net.Listener

	cancel context.CancelFunc
	group  *errgroup.Group
	done   <-chan struct{}
}

// New connects the backends and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfg config.Config, roles Roles, logger *zap.Logger) (*Instance, error) {
	if err := roles.check(cfg); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("instance", id))

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ids := identity.New(b.store)
	jobStore := storage.NewJobStore(b.store)
	stars := storage.NewStarStore(b.store, ids)

	coord := jobs.New(jobStore, ids, b.queue, jobs.Options{
		LeaseDuration:    cfg.JobLease,
		RenewInterval:    cfg.JobLeaseRenew,
		MaxLeaseLifetime: cfg.JobLeaseMax,
		Retention:        cfg.JobRetention,
		Handlers: map[domain.Kind]jobs.Handler{
			domain.KindCreateStar: jobs.CreateStar(stars, cfg.StarJobDuration),
		},
		Metrics: m,
	}, logger.Named("jobs"))

	inst := &Instance{
		ID:          id,
		cfg:         cfg,
		roles:       roles,
		logger:      logger,
		backends:    b,
		registry:    reg,
		Coordinator: coord,
		Stars:       stars,
		pool:        worker.New(coord, logger.Named("worker"), worker.WithConcurrency(cfg.WorkerConcurrency)),
		scanner: recovery.New(b.store, jobStore, coord, recovery.Options{
			Interval: cfg.RecoveryInterval,
			Probe:    cfg.RecoveryProbe,
			Metrics:  m,
		}, logger.Named("recovery")),
	}
	if roles.HTTP {
		inst.server = &http.Server{
			Handler: httpapi.NewRouter(httpapi.Deps{
				Jobs:            coord,
				Stars:           stars,
				Health:          b.store,
				Gatherer:        reg,
				SubmitRateLimit: cfg.SubmitRateLimit,
				Logger:          logger.Named("http"),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return inst, nil
}

// Start launches the instance's background work and returns. The work runs
// until Shutdown, or until one of the tasks fails.
func (i *Instance) Start(ctx context.Context) error {
	if i.roles.HTTP {
		ln, err := net.Listen("tcp", i.cfg.APIAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", i.cfg.APIAddr, err)
		}
		i.listener = ln
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	i.cancel, i.group, i.done = cancel, g, gctx.Done()

	if i.server != nil {
		g.Go(func() error {
			i.logger.Info("http server listening", zap.String("addr", i.listener.Addr().String()))
			if err := i.server.Serve(i.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if i.roles.Workers {
		g.Go(func() error {
			i.pool.Run(gctx)
			return nil
		})
	}
	if i.roles.Recovery {
		g.Go(func() error {
			i.scanner.Run(gctx)
			return nil
		})
		if i.backends.purge != nil {
			g.Go(func() error {
				i.purgeLoop(gctx)
				return nil
			})
		}
	}

	i.logger.Info("instance started",
		zap.Bool("http", i.roles.HTTP),
		zap.Bool("workers", i.roles.Workers),
		zap.Bool("recovery", i.roles.Recovery))
	return nil
}

// Done is closed when the instance stops on its own because a background
// task failed, or after Shutdown.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Addr is the address the HTTP server listens on, or "" without one.
func (i *Instance) Addr() string {
	if i.listener == nil {
		return ""
	}
	return i.listener.Addr().String()
}

// Shutdown stops taking requests and messages, waits for in-flight work
// until ctx expires, then closes the backends. Jobs cut off by the deadline
// keep their lease until it expires and are picked up by recovery.
func (i *Instance) Shutdown(ctx context.Context) error {
	if i.group == nil {
		return i.backends.close()
	}
	i.logger.Info("instance shutting down")

	var errs []error
	if i.server != nil {
		if err := i.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	i.cancel()

	waited := make(chan error, 1)
	go func() { waited <- i.group.Wait() }()
	select {
	case err := <-waited:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err()))
	}

	if err := i.backends.close(); err != nil {
		errs = append(errs, fmt.Errorf("close backends: %w", err))
	}
	i.logger.Info("instance stopped")
	return errors.Join(errs...)
}

func (i *Instance) purgeLoop(ctx context.Context) {
	t := time.NewTicker(i.cfg.RecoveryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := i.backends.purge(ctx)
		if err != nil {
			if ctx.Err() == nil {
				i.logger.Warn("purge of expired records failed", zap.Error(err))
			}
			continue
		}
		if n > 0 {
			i.logger.Debug("purged expired records", zap.Int64("count", n))
		}
	}
}
