package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/starjobs/internal/queue"
)

func TestMemQ_FIFO(t *testing.T) {
	q := queue.NewMemQ(time.Second)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, q.Publish(ctx, id))
	}
	assert.Equal(t, 3, q.Len())

	for want := int64(1); want <= 3; want++ {
		got, ok := q.Consume(ctx)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestMemQ_ConsumeWakesOnPublish(t *testing.T) {
	q := queue.NewMemQ(time.Hour)

	got := make(chan int64, 1)
	go func() {
		id, _ := q.Consume(context.Background())
		got <- id
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Publish(context.Background(), 7))

	select {
	case id := <-got:
		assert.EqualValues(t, 7, id)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by publish")
	}
}

func TestMemQ_ConsumeReturnsOnCancel(t *testing.T) {
	q := queue.NewMemQ(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Consume(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("consume did not observe cancellation")
	}
}

func TestMemQ_CancelledBeforeConsume(t *testing.T) {
	q := queue.NewMemQ(time.Second)
	require.NoError(t, q.Publish(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Consume(ctx)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len(), "a cancelled consumer must not take a message")
}

func TestMemQ_ConcurrentConsumersSeeEachMessageOnce(t *testing.T) {
	q := queue.NewMemQ(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 200
	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := q.Consume(ctx)
				if !ok {
					return
				}
				mu.Lock()
				seen[id]++
				n := len(seen)
				mu.Unlock()
				if n == total {
					cancel()
				}
			}
		}()
	}

	for id := int64(1); id <= total; id++ {
		require.NoError(t, q.Publish(context.Background(), id))
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %d delivered %d times", id, n)
	}
}
