// Package jobs drives a job through Queued, Running and Complete. Any
// instance may execute any job; the job lease decides which one actually
// does, and the stored status decides whether there is anything left to do.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/domain"
	"github.com/SirClappington/starjobs/internal/identity"
	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/lease"
	"github.com/SirClappington/starjobs/internal/metrics"
	"github.com/SirClappington/starjobs/internal/queue"
	"github.com/SirClappington/starjobs/internal/storage"
)

// ErrInvalidPayload is returned by Submit for payloads that cannot run.
var ErrInvalidPayload = errors.New("invalid job payload")

// Result is the outcome of a call to Execute.
type Result int

const (
	ResultFailed Result = iota
	// ResultProcessed means this call ran the job to Complete.
	ResultProcessed
	// ResultLocked means another holder owns the job lease. Nothing was
	// read or written.
	ResultLocked
	// ResultAlreadyComplete means the job had finished before this call
	// took the lease.
	ResultAlreadyComplete
)

func (r Result) String() string {
	switch r {
	case ResultProcessed:
		return "processed"
	case ResultLocked:
		return "locked"
	case ResultAlreadyComplete:
		return "already_complete"
	}
	return "failed"
}

// Handler performs the work of one job kind. It runs while the job lease is
// held and must return promptly once ctx is done.
type Handler func(ctx context.Context, exec *Execution) error

// Execution is a job being run under its lease.
type Execution struct {
	Job *domain.Job

	jobs *storage.JobStore
}

// Checkpoint persists the job as it is now, without changing its status.
// Handlers use it to record decisions that a re-run must reuse.
func (e *Execution) Checkpoint(ctx context.Context) error {
	return e.jobs.Update(ctx, e.Job, 0)
}

type Options struct {
	LeaseDuration    time.Duration
	RenewInterval    time.Duration
	MaxLeaseLifetime time.Duration
	// Retention is how long a Complete job is kept.
	Retention time.Duration

	Handlers map[domain.Kind]Handler
	Metrics  *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		LeaseDuration:    time.Minute,
		RenewInterval:    15 * time.Second,
		MaxLeaseLifetime: time.Hour,
		Retention:        24 * time.Hour,
	}
}

type Coordinator struct {
	jobs     *storage.JobStore
	ids      *identity.Allocator
	queue    queue.Queue
	handlers map[domain.Kind]Handler
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(jobs *storage.JobStore, ids *identity.Allocator, q queue.Queue, opts Options, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		jobs:     jobs,
		ids:      ids,
		queue:    q,
		handlers: opts.Handlers,
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Submit stores a new Queued job and announces it on the queue. A failed
// announcement is logged rather than returned: the job exists and the
// recovery sweep will find it.
func (c *Coordinator) Submit(ctx context.Context, p domain.Payload) (*domain.Job, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, ok := c.handlers[p.Kind]; !ok {
		return nil, fmt.Errorf("%w: no handler for kind %q", ErrInvalidPayload, p.Kind)
	}

	id, err := c.ids.Next(ctx, domain.JobIdentity)
	if err != nil {
		return nil, fmt.Errorf("allocate job id: %w", err)
	}
	job := &domain.Job{ID: id, Status: domain.Queued, Payload: p}
	if err := c.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	c.metrics.Submitted(string(p.Kind))

	if err := c.queue.Publish(ctx, id); err != nil {
		c.logger.Warn("publish failed, job left for recovery", zap.Int64("job_id", id), zap.Error(err))
	}
	return job, nil
}

func (c *Coordinator) SubmitStar(ctx context.Context, star domain.Star) (*domain.Job, error) {
	star.ID = 0
	return c.Submit(ctx, domain.CreateStarPayload(star))
}

func (c *Coordinator) Get(ctx context.Context, id int64) (*domain.Job, error) {
	return c.jobs.Get(ctx, id)
}

func (c *Coordinator) List(ctx context.Context) ([]*domain.Job, error) {
	return c.jobs.List(ctx)
}

// Queue publishes a dispatch message for id.
func (c *Coordinator) Queue(ctx context.Context, id int64) error {
	if err := c.queue.Publish(ctx, id); err != nil {
		return fmt.Errorf("publish job %d: %w", id, err)
	}
	return nil
}

// ProcessNext waits for one dispatch message and executes the job it names.
// It returns ctx's error when ctx ends the wait.
func (c *Coordinator) ProcessNext(ctx context.Context) error {
	id, ok := c.queue.Consume(ctx)
	if !ok {
		return ctx.Err()
	}

	defer c.metrics.Track()()
	res, err := c.Execute(ctx, id)
	if err != nil {
		return fmt.Errorf("execute job %d: %w", id, err)
	}
	c.logger.Debug("dispatch handled", zap.Int64("job_id", id), zap.Stringer("result", res))
	return nil
}

// Execute runs job id if this caller can take its lease and the job is not
// already Complete. On error the lease is abandoned rather than released, so
// the job stays unavailable until the lease expires.
func (c *Coordinator) Execute(ctx context.Context, id int64) (res Result, err error) {
	defer func() { c.metrics.Executed(res.String()) }()
	logger := c.logger.With(zap.Int64("job_id", id))

	h, err := c.jobs.AcquireLease(ctx, id, lease.Options{
		Duration:      c.opts.LeaseDuration,
		RenewInterval: c.opts.RenewInterval,
		MaxLifetime:   c.opts.MaxLeaseLifetime,
		OnRenew:       c.metrics.LeaseRenewed,
	}, logger)
	if errors.Is(err, kv.ErrLeaseUnavailable) {
		logger.Debug("job locked by another holder")
		return ResultLocked, nil
	}
	if err != nil {
		return ResultFailed, fmt.Errorf("acquire lease: %w", err)
	}
	defer h.Close()

	job, err := c.jobs.Get(ctx, id)
	if err != nil {
		return ResultFailed, err
	}
	if job.Status == domain.Complete {
		c.release(ctx, h, logger)
		return ResultAlreadyComplete, nil
	}

	handler, ok := c.handlers[job.Kind]
	if !ok {
		return ResultFailed, fmt.Errorf("job %d: no handler for kind %q", id, job.Kind)
	}

	if err := c.advance(ctx, job, domain.Running, 0); err != nil {
		return ResultFailed, err
	}
	logger.Info("job running", zap.String("kind", string(job.Kind)))

	if err := handler(ctx, &Execution{Job: job, jobs: c.jobs}); err != nil {
		return ResultFailed, err
	}

	if err := c.advance(ctx, job, domain.Complete, c.opts.Retention); err != nil {
		return ResultFailed, err
	}
	logger.Info("job complete")

	c.release(ctx, h, logger)
	return ResultProcessed, nil
}

func (c *Coordinator) advance(ctx context.Context, job *domain.Job, next domain.Status, ttl time.Duration) error {
	if !job.Status.CanAdvanceTo(next) {
		return fmt.Errorf("job %d: status %s cannot move to %s", job.ID, job.Status, next)
	}
	prev := job.Status
	job.Status = next
	if err := c.jobs.Update(ctx, job, ttl); err != nil {
		job.Status = prev
		return err
	}
	return nil
}

// release hands the lease back. Failure only delays the next holder until
// the lease expires, so it is logged and otherwise ignored.
func (c *Coordinator) release(ctx context.Context, h *lease.Handle, logger *zap.Logger) {
	if err := h.Release(ctx); err != nil {
		logger.Warn("lease release failed", zap.Error(err))
	}
}
