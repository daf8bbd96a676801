// Package kv defines the document store contract the job subsystem is built
// on: keyed JSON documents with optional expiry, atomic counters and
// time-bounded leases. Backends live in the sub-packages.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("kv: not found")

	// ErrAlreadyExists is returned by Insert and InitCounter when the key is
	// already present.
	ErrAlreadyExists = errors.New("kv: already exists")

	// ErrLeaseUnavailable is returned by AcquireLease when another holder
	// owns a live lease on the key. It is an expected outcome.
	ErrLeaseUnavailable = errors.New("kv: lease unavailable")

	// ErrLeaseLost is returned by Lease.Renew and Lease.Release when the
	// lease expired or was taken over by another holder.
	ErrLeaseLost = errors.New("kv: lease lost")
)

// Document is a stored value together with its key and document type.
// Value holds JSON.
type Document struct {
	Key   string
	Type  string
	Value []byte
}

// Store is the persistence contract consumed by the job subsystem.
type Store interface {
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Insert stores a new document. It fails with ErrAlreadyExists if a live
	// document is present at the key.
	Insert(ctx context.Context, doc Document) error

	// Replace overwrites an existing document. A positive ttl makes the
	// document expire after that duration; zero clears any expiry.
	Replace(ctx context.Context, doc Document, ttl time.Duration) error

	// Remove deletes the document at key.
	Remove(ctx context.Context, key string) error

	// Query returns every live document of the given type, in no
	// particular order.
	Query(ctx context.Context, docType string) ([]Document, error)

	// InitCounter creates a counter holding initial.
	InitCounter(ctx context.Context, key string, initial int64) error

	// Increment atomically adds delta to an existing counter and returns
	// the new value. It never creates the counter.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// AcquireLease makes a single attempt to take an exclusive claim on key
	// for d. It never blocks waiting for a current holder.
	AcquireLease(ctx context.Context, key string, d time.Duration) (Lease, error)

	Ping(ctx context.Context) error
	Close() error
}

// Lease is a held, time-bounded claim on a key.
type Lease interface {
	Key() string

	// Renew pushes the expiry to now+d.
	Renew(ctx context.Context, d time.Duration) error

	// Release gives the claim up before it expires.
	Release(ctx context.Context) error
}

// IsExpected reports whether err is one of the contract's normal outcomes
// rather than a storage failure.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrLeaseUnavailable) ||
		errors.Is(err, ErrLeaseLost)
}
