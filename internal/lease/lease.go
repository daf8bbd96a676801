// Package lease turns a single kv lease into a scoped handle that keeps
// itself alive while work runs.
//
//	h, err := lease.Acquire(ctx, store, key, opts, logger)
//	if err != nil { ... }
//	defer h.Close()
//
// Renewal runs in its own goroutine from Acquire until Close or Release,
// whichever comes first, or until the maximum lifetime is reached.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/kv"
)

// Options controls lease timing.
type Options struct {
	// Duration is the initial lease length and the extension granted by
	// each renewal.
	Duration time.Duration
	// RenewInterval is the time between renewals. Zero disables renewal.
	RenewInterval time.Duration
	// MaxLifetime stops renewal this long after acquisition, after which
	// the lease lapses on its own.
	MaxLifetime time.Duration
	// OnRenew, if set, observes the outcome of every renewal attempt.
	OnRenew func(err error)
}

// Handle is a held lease with an optional renewal loop.
type Handle struct {
	lease  kv.Lease
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Acquire makes one attempt to lease key. It returns kv.ErrLeaseUnavailable
// without waiting when someone else holds it. The renewal goroutine stops
// when ctx is cancelled.
func Acquire(ctx context.Context, store kv.Store, key string, opts Options, logger *zap.Logger) (*Handle, error) {
	l, err := store.AcquireLease(ctx, key, opts.Duration)
	if err != nil {
		return nil, err
	}

	renewCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		lease:  l,
		logger: logger.With(zap.String("lease", key)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if opts.RenewInterval > 0 {
		go h.renewLoop(renewCtx, opts)
	} else {
		close(h.done)
	}
	return h, nil
}

func (h *Handle) Key() string { return h.lease.Key() }

func (h *Handle) renewLoop(ctx context.Context, opts Options) {
	defer close(h.done)

	deadline := time.Now().Add(opts.MaxLifetime)
	ticker := time.NewTicker(opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if opts.MaxLifetime > 0 && !time.Now().Before(deadline) {
			h.logger.Debug("lease reached max lifetime, renewal stopped")
			return
		}

		err := h.lease.Renew(ctx, opts.Duration)
		if opts.OnRenew != nil && ctx.Err() == nil {
			opts.OnRenew(err)
		}
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, kv.ErrLeaseLost):
			h.logger.Warn("lease lost before renewal")
			return
		default:
			// Keep trying; if the store stays unreachable the lease lapses
			// and recovery hands the job to someone else.
			h.logger.Warn("lease renewal failed", zap.Error(err))
		}
	}
}

// Close stops renewal and waits for the renewal goroutine to exit. The lease
// itself is left to expire. Close is safe to call more than once.
func (h *Handle) Close() {
	h.once.Do(h.cancel)
	<-h.done
}

// Release stops renewal and gives the lease back.
func (h *Handle) Release(ctx context.Context) error {
	h.Close()
	return h.lease.Release(ctx)
}
