package breaker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/kv/breaker"
	"github.com/SirClappington/starjobs/internal/kv/kvtest"
	"github.com/SirClappington/starjobs/internal/kv/memory"
)

var errDown = errors.New("connection refused")

// flakyStore fails every Get while down is set.
type flakyStore struct {
	kv.Store
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.down.Load() {
		return nil, errDown
	}
	return f.Store.Get(ctx, key)
}

func TestStore_Conformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		return breaker.New(memory.New(), breaker.DefaultSettings(), zaptest.NewLogger(t))
	})
}

func TestStore_TripsOnStorageFailures(t *testing.T) {
	inner := &flakyStore{Store: memory.New()}
	inner.down.Store(true)
	s := breaker.New(inner, breaker.Settings{ConsecutiveFailures: 3, OpenTimeout: time.Hour}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, "open", s.State())

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 3, inner.calls.Load(), "open circuit must not reach the backend")
}

func TestStore_ExpectedOutcomesDoNotTrip(t *testing.T) {
	s := breaker.New(memory.New(), breaker.Settings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Get(ctx, "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
	}

	_, err := s.AcquireLease(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := s.AcquireLease(ctx, "job-1", time.Minute)
		require.ErrorIs(t, err, kv.ErrLeaseUnavailable)
	}
	assert.Equal(t, "closed", s.State())
}

func TestStore_CancelledCallersDoNotTrip(t *testing.T) {
	inner := &flakyStore{Store: memory.New()}
	s := breaker.New(inner, breaker.Settings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, zaptest.NewLogger(t))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel2()
	<-expired.Done()

	for i := 0; i < 5; i++ {
		_, err := s.Get(cancelled, "k")
		require.ErrorIs(t, err, context.Canceled)
		_, err = s.Get(expired, "k")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, "closed", s.State())

	_, err := s.Get(context.Background(), "k")
	require.ErrorIs(t, err, kv.ErrNotFound, "healthy callers still reach the backend")
}
