// Package worker runs dispatch messages through the coordinator with a
// fixed number of concurrent slots.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of jobs an instance executes at once.
const DefaultConcurrency = 2

// Processor handles one dispatch message per call, blocking until one is
// available. It returns ctx's error once ctx is done.
type Processor interface {
	ProcessNext(ctx context.Context) error
}

type Pool struct {
	proc        Processor
	concurrency int64
	logger      *zap.Logger
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = int64(n)
		}
	}
}

func New(proc Processor, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		proc:        proc,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run takes a slot, hands it to a goroutine that processes one message, and
// repeats. A slot is only returned when its execution finishes, so at most
// the configured number of jobs run at once. Run returns after ctx is done
// and every in-flight execution has returned.
func (p *Pool) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup

	p.logger.Info("worker pool started", zap.Int64("concurrency", p.concurrency))
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			p.processOne(ctx)
		}()
	}

	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) processOne(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job execution panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	err := p.proc.ProcessNext(ctx)
	switch {
	case err == nil:
	case err == ctx.Err():
		// Cancelled while waiting for a message; no job was running.
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			p.logger.Info("job execution cancelled", zap.String("reason", fmt.Sprint(context.Cause(ctx))))
			return
		}
		p.logger.Error("job execution failed", zap.Error(err))
	default:
		p.logger.Error("job execution failed", zap.Error(err))
	}
}
