package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SirClappington/starjobs/internal/worker"
)

type processorFunc func(ctx context.Context) error

func (f processorFunc) ProcessNext(ctx context.Context) error { return f(ctx) }

func runPool(t *testing.T, p *worker.Pool) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var active, peak, total atomic.Int32
	proc := processorFunc(func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		total.Add(1)
		select {
		case <-time.After(10 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	stop := runPool(t, worker.New(proc, zaptest.NewLogger(t), worker.WithConcurrency(3)))
	require.Eventually(t, func() bool { return total.Load() >= 20 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.EqualValues(t, 3, peak.Load())
	assert.Zero(t, active.Load())
}

func TestPool_DefaultConcurrency(t *testing.T) {
	var active atomic.Int32
	release := make(chan struct{})
	proc := processorFunc(func(ctx context.Context) error {
		active.Add(1)
		defer active.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	stop := runPool(t, worker.New(proc, zaptest.NewLogger(t)))
	require.Eventually(t, func() bool { return active.Load() == worker.DefaultConcurrency }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, worker.DefaultConcurrency, active.Load())
	close(release)
	stop()
}

func TestPool_SurvivesErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	proc := processorFunc(func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("handler bug")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Millisecond)
		return nil
	})

	stop := runPool(t, worker.New(proc, zaptest.NewLogger(t), worker.WithConcurrency(1)))
	require.Eventually(t, func() bool { return calls.Load() > 5 }, time.Second, 5*time.Millisecond)
	stop()
}

func TestPool_WaitsForInFlightOnShutdown(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{}, 1)
	proc := processorFunc(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			<-ctx.Done()
			return ctx.Err()
		}
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	})

	stop := runPool(t, worker.New(proc, zaptest.NewLogger(t), worker.WithConcurrency(1)))
	<-started
	stop()
	assert.True(t, finished.Load(), "Run returned before the in-flight execution")
}

func TestPool_IdleSlotsStopQuietly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	proc := processorFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	stop := runPool(t, worker.New(proc, zap.New(core), worker.WithConcurrency(3)))
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Zero(t, logs.FilterMessage("job execution cancelled").Len())
	assert.Zero(t, logs.FilterMessage("job execution failed").Len())
}

func TestPool_LogsCancelledExecution(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var once atomic.Bool
	proc := processorFunc(func(ctx context.Context) error {
		<-ctx.Done()
		if once.CompareAndSwap(false, true) {
			return fmt.Errorf("execute job 1: %w", ctx.Err())
		}
		return ctx.Err()
	})

	stop := runPool(t, worker.New(proc, zap.New(core), worker.WithConcurrency(2)))
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Equal(t, 1, logs.FilterMessage("job execution cancelled").Len())
}
