// Package storage maps domain records onto kv documents.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/domain"
	"github.com/SirClappington/starjobs/internal/identity"
	"github.com/SirClappington/starjobs/internal/kv"
	"github.com/SirClappington/starjobs/internal/lease"
)

var (
	ErrNotFound      = kv.ErrNotFound
	ErrAlreadyExists = kv.ErrAlreadyExists
)

// JobStore persists job records. It never allocates IDs itself.
type JobStore struct {
	kv kv.Store
}

func NewJobStore(store kv.Store) *JobStore { return &JobStore{kv: store} }

// Create persists a new job; the caller must have assigned its ID.
func (s *JobStore) Create(ctx context.Context, j *domain.Job) error {
	if j.ID <= 0 {
		return fmt.Errorf("create job: id must be allocated, got %d", j.ID)
	}
	j.Type = domain.JobType
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %d: %w", j.ID, err)
	}
	if err := s.kv.Insert(ctx, kv.Document{Key: j.Key(), Type: domain.JobType, Value: b}); err != nil {
		return fmt.Errorf("create job %d: %w", j.ID, err)
	}
	return nil
}

// Get returns ErrNotFound when the job does not exist.
func (s *JobStore) Get(ctx context.Context, id int64) (*domain.Job, error) {
	b, err := s.kv.Get(ctx, domain.JobKey(id))
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	var j domain.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode job %d: %w", id, err)
	}
	return &j, nil
}

// List returns every job ordered by ID.
func (s *JobStore) List(ctx context.Context) ([]*domain.Job, error) {
	return s.list(ctx, func(*domain.Job) bool { return true })
}

// ListIncomplete returns the jobs that are not Complete, ordered by ID.
func (s *JobStore) ListIncomplete(ctx context.Context) ([]*domain.Job, error) {
	return s.list(ctx, func(j *domain.Job) bool { return j.Status != domain.Complete })
}

func (s *JobStore) list(ctx context.Context, keep func(*domain.Job) bool) ([]*domain.Job, error) {
	docs, err := s.kv.Query(ctx, domain.JobType)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*domain.Job, 0, len(docs))
	for _, d := range docs {
		var j domain.Job
		if err := json.Unmarshal(d.Value, &j); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Key, err)
		}
		if keep(&j) {
			jobs = append(jobs, &j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs, nil
}

// Update replaces the stored record with j. A positive ttl lets the store
// drop the record after that long.
func (s *JobStore) Update(ctx context.Context, j *domain.Job, ttl time.Duration) error {
	j.Type = domain.JobType
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %d: %w", j.ID, err)
	}
	if err := s.kv.Replace(ctx, kv.Document{Key: j.Key(), Type: domain.JobType, Value: b}, ttl); err != nil {
		return fmt.Errorf("update job %d: %w", j.ID, err)
	}
	return nil
}

// AcquireLease makes one attempt to take the lease on job id without
// touching the record. It fails with kv.ErrLeaseUnavailable while another
// holder owns it.
func (s *JobStore) AcquireLease(ctx context.Context, id int64, opts lease.Options, logger *zap.Logger) (*lease.Handle, error) {
	return lease.Acquire(ctx, s.kv, domain.JobKey(id), opts, logger)
}

// StarStore persists stars.
type StarStore struct {
	kv  kv.Store
	ids *identity.Allocator
}

func NewStarStore(store kv.Store, ids *identity.Allocator) *StarStore {
	return &StarStore{kv: store, ids: ids}
}

// AllocateID reserves the next star ID without writing a star.
func (s *StarStore) AllocateID(ctx context.Context) (int64, error) {
	return s.ids.Next(ctx, domain.StarIdentity)
}

// Create inserts star, allocating an ID first when star.ID is zero. It
// returns ErrAlreadyExists if a star with that ID is already stored.
func (s *StarStore) Create(ctx context.Context, star *domain.Star) error {
	if star.ID == 0 {
		id, err := s.AllocateID(ctx)
		if err != nil {
			return fmt.Errorf("allocate star id: %w", err)
		}
		star.ID = id
	}
	star.Type = domain.StarType
	b, err := json.Marshal(star)
	if err != nil {
		return fmt.Errorf("encode star %d: %w", star.ID, err)
	}
	if err := s.kv.Insert(ctx, kv.Document{Key: star.Key(), Type: domain.StarType, Value: b}); err != nil {
		return fmt.Errorf("create star %d: %w", star.ID, err)
	}
	return nil
}

func (s *StarStore) Get(ctx context.Context, id int64) (*domain.Star, error) {
	b, err := s.kv.Get(ctx, domain.StarKey(id))
	if err != nil {
		return nil, fmt.Errorf("get star %d: %w", id, err)
	}
	var star domain.Star
	if err := json.Unmarshal(b, &star); err != nil {
		return nil, fmt.Errorf("decode star %d: %w", id, err)
	}
	return &star, nil
}

// List returns every star ordered by name, then ID.
func (s *StarStore) List(ctx context.Context) ([]*domain.Star, error) {
	docs, err := s.kv.Query(ctx, domain.StarType)
	if err != nil {
		return nil, fmt.Errorf("list stars: %w", err)
	}
	stars := make([]*domain.Star, 0, len(docs))
	for _, d := range docs {
		var star domain.Star
		if err := json.Unmarshal(d.Value, &star); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Key, err)
		}
		stars = append(stars, &star)
	}
	sort.Slice(stars, func(a, b int) bool {
		if stars[a].Name != stars[b].Name {
			return stars[a].Name < stars[b].Name
		}
		return stars[a].ID < stars[b].ID
	})
	return stars, nil
}

// Delete removes a star. Deleting a missing star is not an error.
func (s *StarStore) Delete(ctx context.Context, id int64) error {
	err := s.kv.Remove(ctx, domain.StarKey(id))
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("delete star %d: %w", id, err)
	}
	return nil
}
