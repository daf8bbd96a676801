// Package memory is an in-process implementation of kv.Store. It is safe for
// concurrent use and is the default backend for single-instance runs and
// tests. Several coordinators sharing one Store behave like several
// instances sharing a real database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SirClappington/starjobs/internal/kv"
)

var _ kv.Store = (*Store)(nil)

type document struct {
	docType   string
	value     []byte
	expiresAt time.Time
}

type leaseEntry struct {
	token     string
	expiresAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps documents, counters and leases in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	docs     map[string]*document
	counters map[string]int64
	leases   map[string]leaseEntry
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		docs:     make(map[string]*document),
		counters: make(map[string]int64),
		leases:   make(map[string]leaseEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the document at key, dropping it if it has expired.
// Caller holds s.mu.
func (s *Store) live(key string) (*document, bool) {
	d, ok := s.docs[key]
	if !ok {
		return nil, false
	}
	if !d.expiresAt.IsZero() && !s.now().Before(d.expiresAt) {
		delete(s.docs, key)
		return nil, false
	}
	return d, true
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.live(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), d.value...), nil
}

func (s *Store) Insert(_ context.Context, doc kv.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(doc.Key); ok {
		return kv.ErrAlreadyExists
	}
	s.docs[doc.Key] = &document{
		docType: doc.Type,
		value:   append([]byte(nil), doc.Value...),
	}
	return nil
}

func (s *Store) Replace(_ context.Context, doc kv.Document, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.live(doc.Key)
	if !ok {
		return kv.ErrNotFound
	}
	d.value = append([]byte(nil), doc.Value...)
	if doc.Type != "" {
		d.docType = doc.Type
	}
	d.expiresAt = time.Time{}
	if ttl > 0 {
		d.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); !ok {
		return kv.ErrNotFound
	}
	delete(s.docs, key)
	return nil
}

func (s *Store) Query(_ context.Context, docType string) ([]kv.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []kv.Document
	for key := range s.docs {
		d, ok := s.live(key)
		if !ok || d.docType != docType {
			continue
		}
		out = append(out, kv.Document{
			Key:   key,
			Type:  d.docType,
			Value: append([]byte(nil), d.value...),
		})
	}
	return out, nil
}

func (s *Store) InitCounter(_ context.Context, key string, initial int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[key]; ok {
		return kv.ErrAlreadyExists
	}
	s.counters[key] = initial
	return nil
}

func (s *Store) Increment(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.counters[key]
	if !ok {
		return 0, kv.ErrNotFound
	}
	v += delta
	s.counters[key] = v
	return v, nil
}

func (s *Store) AcquireLease(_ context.Context, key string, d time.Duration) (kv.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.leases[key]; ok && now.Before(cur.expiresAt) {
		return nil, kv.ErrLeaseUnavailable
	}
	token := uuid.NewString()
	s.leases[key] = leaseEntry{token: token, expiresAt: now.Add(d)}
	return &lease{store: s, key: key, token: token}, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

type lease struct {
	store *Store
	key   string
	token string
}

func (l *lease) Key() string { return l.key }

func (l *lease) Renew(_ context.Context, d time.Duration) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.leases[l.key]
	if !ok || cur.token != l.token || !now.Before(cur.expiresAt) {
		return kv.ErrLeaseLost
	}
	cur.expiresAt = now.Add(d)
	s.leases[l.key] = cur
	return nil
}

func (l *lease) Release(_ context.Context) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[l.key]
	if !ok || cur.token != l.token || !s.now().Before(cur.expiresAt) {
		return kv.ErrLeaseLost
	}
	delete(s.leases, l.key)
	return nil
}
