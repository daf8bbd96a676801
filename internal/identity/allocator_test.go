package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/starjobs/internal/identity"
	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/kv/memory"
)

func TestAllocator_CreatesCounterOnFirstUse(t *testing.T) {
	a := identity.New(memory.New())
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := a.Next(ctx, "jobIdentity")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Counters are independent per entity type.
	got, err := a.Next(ctx, "starIdentity")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)
}

func TestAllocator_ConcurrentInstances(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	const instances, calls = 4, 50
	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{})
		wg  sync.WaitGroup
	)
	for i := 0; i < instances; i++ {
		a := identity.New(store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				id, err := a.Next(ctx, "jobIdentity")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				_, dup := ids[id]
				ids[id] = struct{}{}
				mu.Unlock()
				assert.False(t, dup, "id %d issued twice", id)
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, instances*calls)
	for id := int64(1); id <= instances*calls; id++ {
		assert.Contains(t, ids, id)
	}
}

// racingStore loses the counter creation race once: the first Increment
// reports a missing counter, and by the time InitCounter runs another
// instance has created it.
type racingStore struct {
	kv.Store
	once sync.Once
}

func (r *racingStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	missing := false
	r.once.Do(func() {
		missing = true
		_ = r.Store.InitCounter(ctx, key, 0)
	})
	if missing {
		return 0, kv.ErrNotFound
	}
	return r.Store.Increment(ctx, key, delta)
}

func TestAllocator_LosesCreationRace(t *testing.T) {
	a := identity.New(&racingStore{Store: memory.New()})

	id, err := a.Next(context.Background(), "jobIdentity")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
}

type brokenStore struct {
	kv.Store
}

var errDisk = errors.New("disk full")

func (brokenStore) Increment(context.Context, string, int64) (int64, error) { return 0, kv.ErrNotFound }
func (brokenStore) InitCounter(context.Context, string, int64) error        { return errDisk }

func TestAllocator_CreationFailureIsFatal(t *testing.T) {
	a := identity.New(brokenStore{Store: memory.New()})

	_, err := a.Next(context.Background(), "jobIdentity")
	require.ErrorIs(t, err, errDisk)
}
