// Package kvtest holds a behavioural suite every kv.Store backend must pass.
package kvtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/starjobs/internal/kv"
)

// Factory returns an empty store. Keys used by one test never collide with
// another test's keys, so backends may share state between calls.
type Factory func(t *testing.T) kv.Store

// shortLease is long enough to outlive a round trip to a container and
// short enough to keep the suite fast.
const shortLease = 300 * time.Millisecond

// Run executes the suite against the store returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, newStore(t)) })
	t.Run("ReplaceMissing", func(t *testing.T) { testReplaceMissing(t, newStore(t)) })
	t.Run("ReplaceTTL", func(t *testing.T) { testReplaceTTL(t, newStore(t)) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, newStore(t)) })
	t.Run("Query", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("Counter", func(t *testing.T) { testCounter(t, newStore(t)) })
	t.Run("CounterConcurrent", func(t *testing.T) { testCounterConcurrent(t, newStore(t)) })
	t.Run("LeaseExclusive", func(t *testing.T) { testLeaseExclusive(t, newStore(t)) })
	t.Run("LeaseExpiry", func(t *testing.T) { testLeaseExpiry(t, newStore(t)) })
	t.Run("LeaseRenew", func(t *testing.T) { testLeaseRenew(t, newStore(t)) })
	t.Run("LeaseRace", func(t *testing.T) { testLeaseRace(t, newStore(t)) })
}

func key(t *testing.T, name string) string {
	return fmt.Sprintf("%s-%s-%d", t.Name(), name, time.Now().UnixNano())
}

func testInsertGet(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "doc")

	_, err := s.Get(ctx, k)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Insert(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{"n":1}`)}))

	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))
}

func testInsertDuplicate(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "doc")

	require.NoError(t, s.Insert(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{"n":1}`)}))
	err := s.Insert(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{"n":2}`)})
	require.ErrorIs(t, err, kv.ErrAlreadyExists)

	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))
}

func testReplaceMissing(t *testing.T, s kv.Store) {
	err := s.Replace(context.Background(), kv.Document{Key: key(t, "doc"), Type: "thing", Value: []byte(`{}`)}, 0)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func testReplaceTTL(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "doc")

	require.NoError(t, s.Insert(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{"n":1}`)}))
	require.NoError(t, s.Replace(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{"n":2}`)}, shortLease))

	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, k)
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)

	_, err = s.Get(ctx, k)
	require.ErrorIs(t, err, kv.ErrNotFound)

	// An expired key is free for a new insert.
	require.NoError(t, s.Insert(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{"n":3}`)}))
}

func testRemove(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "doc")

	require.ErrorIs(t, s.Remove(ctx, k), kv.ErrNotFound)
	require.NoError(t, s.Insert(ctx, kv.Document{Key: k, Type: "thing", Value: []byte(`{}`)}))
	require.NoError(t, s.Remove(ctx, k))

	_, err := s.Get(ctx, k)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func testQuery(t *testing.T, s kv.Store) {
	ctx := context.Background()
	docType := key(t, "type")

	var want []string
	for i := 0; i < 3; i++ {
		k := key(t, fmt.Sprintf("doc%d", i))
		want = append(want, k)
		require.NoError(t, s.Insert(ctx, kv.Document{Key: k, Type: docType, Value: []byte(fmt.Sprintf(`{"i":%d}`, i))}))
	}
	require.NoError(t, s.Insert(ctx, kv.Document{Key: key(t, "other"), Type: docType + "-other", Value: []byte(`{}`)}))

	docs, err := s.Query(ctx, docType)
	require.NoError(t, err)

	var got []string
	for _, d := range docs {
		got = append(got, d.Key)
		assert.Equal(t, docType, d.Type)
		assert.NotEmpty(t, d.Value)
	}
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)

	require.NoError(t, s.Remove(ctx, want[0]))
	docs, err = s.Query(ctx, docType)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func testCounter(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "counter")

	_, err := s.Increment(ctx, k, 1)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.InitCounter(ctx, k, 0))
	require.ErrorIs(t, s.InitCounter(ctx, k, 0), kv.ErrAlreadyExists)

	v, err := s.Increment(ctx, k, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = s.Increment(ctx, k, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)
}

func testCounterConcurrent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "counter")
	require.NoError(t, s.InitCounter(ctx, k, 0))

	const workers, each = 8, 25
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				v, err := s.Increment(ctx, k, 1)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*each)
}

func testLeaseExclusive(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "lease")

	l, err := s.AcquireLease(ctx, k, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, k, l.Key())

	start := time.Now()
	_, err = s.AcquireLease(ctx, k, time.Minute)
	require.ErrorIs(t, err, kv.ErrLeaseUnavailable)
	assert.Less(t, time.Since(start), time.Second, "acquire must not wait for the holder")

	require.NoError(t, l.Release(ctx))
	require.ErrorIs(t, l.Release(ctx), kv.ErrLeaseLost)

	l2, err := s.AcquireLease(ctx, k, time.Minute)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func testLeaseExpiry(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "lease")

	l, err := s.AcquireLease(ctx, k, shortLease)
	require.NoError(t, err)

	var l2 kv.Lease
	require.Eventually(t, func() bool {
		l2, err = s.AcquireLease(ctx, k, time.Minute)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	// The first holder no longer owns the key.
	require.ErrorIs(t, l.Renew(ctx, time.Minute), kv.ErrLeaseLost)
	require.ErrorIs(t, l.Release(ctx), kv.ErrLeaseLost)
	require.NoError(t, l2.Release(ctx))
}

func testLeaseRenew(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "lease")

	l, err := s.AcquireLease(ctx, k, shortLease)
	require.NoError(t, err)

	deadline := time.Now().Add(3 * shortLease)
	for time.Now().Before(deadline) {
		require.NoError(t, l.Renew(ctx, shortLease))
		_, err := s.AcquireLease(ctx, k, time.Minute)
		require.ErrorIs(t, err, kv.ErrLeaseUnavailable)
		time.Sleep(shortLease / 4)
	}
	require.NoError(t, l.Release(ctx))
}

func testLeaseRace(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key(t, "lease")

	const contenders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AcquireLease(ctx, k, time.Minute)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, kv.ErrLeaseUnavailable)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
