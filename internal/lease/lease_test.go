package lease_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/kv/memory"
	"github.com/SirClappington/starjobs/internal/lease"
)

func TestAcquire_RenewalOutlivesDuration(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var renewals atomic.Int32
	h, err := lease.Acquire(ctx, store, "job-1", lease.Options{
		Duration:      100 * time.Millisecond,
		RenewInterval: 20 * time.Millisecond,
		MaxLifetime:   time.Hour,
		OnRenew: func(err error) {
			if err == nil {
				renewals.Add(1)
			}
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "job-1", h.Key())

	time.Sleep(300 * time.Millisecond)
	_, err = store.AcquireLease(ctx, "job-1", time.Second)
	require.ErrorIs(t, err, kv.ErrLeaseUnavailable)
	assert.Greater(t, renewals.Load(), int32(3))

	// Close stops renewal but leaves the lease to expire on its own.
	h.Close()
	_, err = store.AcquireLease(ctx, "job-1", time.Second)
	require.ErrorIs(t, err, kv.ErrLeaseUnavailable)

	require.Eventually(t, func() bool {
		_, err := store.AcquireLease(ctx, "job-1", time.Second)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestAcquire_StopsAtMaxLifetime(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	h, err := lease.Acquire(ctx, store, "job-1", lease.Options{
		Duration:      100 * time.Millisecond,
		RenewInterval: 20 * time.Millisecond,
		MaxLifetime:   150 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer h.Close()

	require.Eventually(t, func() bool {
		_, err := store.AcquireLease(ctx, "job-1", time.Second)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAcquire_Unavailable(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, err := store.AcquireLease(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = lease.Acquire(ctx, store, "job-1", lease.Options{Duration: time.Minute}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, kv.ErrLeaseUnavailable)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHandle_Release(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	h, err := lease.Acquire(ctx, store, "job-1", lease.Options{
		Duration:      time.Minute,
		RenewInterval: 10 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, h.Release(ctx))
	h.Close() // no-op after Release

	l, err := store.AcquireLease(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))
}

func TestHandle_CancelledContextStopsRenewal(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	var renewals atomic.Int32
	h, err := lease.Acquire(ctx, store, "job-1", lease.Options{
		Duration:      time.Minute,
		RenewInterval: 5 * time.Millisecond,
		OnRenew:       func(error) { renewals.Add(1) },
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	cancel()
	h.Close()
	n := renewals.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, renewals.Load())
}
