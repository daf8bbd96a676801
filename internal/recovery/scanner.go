// Package recovery finds jobs that should be running but are not, and puts
// them back on the dispatch queue.
//
// A job is orphaned when it is not Complete and nobody holds its lease: its
// dispatch message was lost, or the instance executing it died. One
// instance at a time sweeps, guarded by a fleet-wide lease that is held for
// a whole interval and never released.
package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/lease"
	"github.com/SirClappington/starjobs/internal/metrics"
	"github.com/SirClappington/starjobs/internal/storage"
)

// SingletonKey is the lease that elects the sweeping instance.
const SingletonKey = "jobRecoveryPoller"

// Requeuer republishes a job's dispatch message.
type Requeuer interface {
	Queue(ctx context.Context, id int64) error
}

type Options struct {
	// Interval is both the pause between sweeps and how long the singleton
	// lease is held.
	Interval time.Duration
	// Probe is the lease length used to test whether a job is owned.
	Probe   time.Duration
	Metrics *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{Interval: time.Minute, Probe: time.Second}
}

type Scanner struct {
	store   kv.Store
	jobs    *storage.JobStore
	queue   Requeuer
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(store kv.Store, jobs *storage.JobStore, q Requeuer, opts Options, logger *zap.Logger) *Scanner {
	return &Scanner{
		store:   store,
		jobs:    jobs,
		queue:   q,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Run sweeps once per interval, starting one interval after it is called,
// until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		n, err := s.Sweep(ctx)
		switch {
		case err == nil:
			if n > 0 {
				s.logger.Info("requeued orphaned jobs", zap.Int("count", n))
			}
		case ctx.Err() != nil:
			return
		default:
			s.logger.Error("recovery sweep failed", zap.Error(err))
		}
	}
}

// Sweep republishes every incomplete job that has no live lease and returns
// how many it republished. It does nothing when another instance holds the
// singleton lease.
func (s *Scanner) Sweep(ctx context.Context) (int, error) {
	// Held until it expires so that no other instance sweeps again within
	// the same interval.
	_, err := s.store.AcquireLease(ctx, SingletonKey, s.opts.Interval)
	if errors.Is(err, kv.ErrLeaseUnavailable) {
		s.metrics.RecoveryCycle("skipped", 0)
		return 0, nil
	}
	if err != nil {
		s.metrics.RecoveryCycle("failed", 0)
		return 0, err
	}

	pending, err := s.jobs.ListIncomplete(ctx)
	if err != nil {
		s.metrics.RecoveryCycle("failed", 0)
		return 0, err
	}

	requeued := 0
	for _, job := range pending {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.requeueIfOrphaned(ctx, job.ID)
		if err != nil {
			s.logger.Warn("recovery probe failed", zap.Int64("job_id", job.ID), zap.Error(err))
			continue
		}
		if ok {
			requeued++
		}
	}

	s.metrics.RecoveryCycle("swept", requeued)
	return requeued, ctx.Err()
}

func (s *Scanner) requeueIfOrphaned(ctx context.Context, id int64) (bool, error) {
	h, err := s.jobs.AcquireLease(ctx, id, lease.Options{Duration: s.opts.Probe}, s.logger)
	if errors.Is(err, kv.ErrLeaseUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := h.Release(ctx); err != nil {
		s.logger.Debug("probe release failed", zap.Int64("job_id", id), zap.Error(err))
	}

	if err := s.queue.Queue(ctx, id); err != nil {
		return false, err
	}
	s.logger.Info("requeued orphaned job", zap.Int64("job_id", id))
	return true, nil
}
