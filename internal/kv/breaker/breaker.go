// Package breaker wraps a kv.Store in a circuit breaker so that a storage
// outage fails fast instead of stacking up blocked workers. Only storage
// failures trip the circuit; the contract's expected outcomes (not found,
// already exists, lease unavailable, lease lost) pass through untouched.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/kv"
)

var _ kv.Store = (*Store)(nil)

// Settings tunes the breaker.
type Settings struct {
	// ConsecutiveFailures trips the circuit.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
}

// DefaultSettings trips after 5 consecutive failures and probes after 10s.
func DefaultSettings() Settings {
	return Settings{ConsecutiveFailures: 5, OpenTimeout: 10 * time.Second}
}

// Store decorates a kv.Store.
type Store struct {
	next kv.Store
	cb   *gobreaker.CircuitBreaker
}

// New wraps next.
func New(next kv.Store, st Settings, logger *zap.Logger) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kv",
		MaxRequests: 1,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= st.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Store{next: next, cb: cb}
}

// do runs fn through the breaker. An expected outcome, or the caller's own
// cancellation, is handed back without being reported as a failure.
func (s *Store) do(fn func() error) error {
	var expected error
	_, err := s.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && (kv.IsExpected(err) || isCancellation(err)) {
			expected = err
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return err
	}
	return expected
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.do(func() (err error) {
		out, err = s.next.Get(ctx, key)
		return err
	})
	return out, err
}

func (s *Store) Insert(ctx context.Context, doc kv.Document) error {
	return s.do(func() error { return s.next.Insert(ctx, doc) })
}

func (s *Store) Replace(ctx context.Context, doc kv.Document, ttl time.Duration) error {
	return s.do(func() error { return s.next.Replace(ctx, doc, ttl) })
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.do(func() error { return s.next.Remove(ctx, key) })
}

func (s *Store) Query(ctx context.Context, docType string) ([]kv.Document, error) {
	var out []kv.Document
	err := s.do(func() (err error) {
		out, err = s.next.Query(ctx, docType)
		return err
	})
	return out, err
}

func (s *Store) InitCounter(ctx context.Context, key string, initial int64) error {
	return s.do(func() error { return s.next.InitCounter(ctx, key, initial) })
}

func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	var out int64
	err := s.do(func() (err error) {
		out, err = s.next.Increment(ctx, key, delta)
		return err
	})
	return out, err
}

// AcquireLease goes through the breaker; renew and release on the returned
// lease talk to the backend directly so an open circuit never blocks a
// holder from giving its lease back.
func (s *Store) AcquireLease(ctx context.Context, key string, d time.Duration) (kv.Lease, error) {
	var out kv.Lease
	err := s.do(func() (err error) {
		out, err = s.next.AcquireLease(ctx, key, d)
		return err
	})
	return out, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.do(func() error { return s.next.Ping(ctx) })
}

func (s *Store) Close() error { return s.next.Close() }

// State reports the breaker state, e.g. "closed" or "open".
func (s *Store) State() string { return s.cb.State().String() }

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
