// Package identity issues sequential integer IDs per entity type from
// counter records in the shared store.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/SirClappington/starjobs/internal/kv"
)

// Allocator hands out IDs that are unique across every instance sharing the
// store.
type Allocator struct {
	store kv.Store
}

func New(store kv.Store) *Allocator {
	return &Allocator{store: store}
}

// Next returns the next ID for entity. The first call for an entity creates
// its counter; when several instances race to create it, the losers see
// ErrAlreadyExists and simply increment the winner's counter.
func (a *Allocator) Next(ctx context.Context, entity string) (int64, error) {
	for {
		id, err := a.store.Increment(ctx, entity, 1)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, kv.ErrNotFound) {
			return 0, fmt.Errorf("increment %s: %w", entity, err)
		}

		err = a.store.InitCounter(ctx, entity, 0)
		if err != nil && !errors.Is(err, kv.ErrAlreadyExists) {
			return 0, fmt.Errorf("create %s counter: %w", entity, err)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}
