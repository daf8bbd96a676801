package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SirClappington/starjobs/internal/domain"
	"github.com/SirClappington/starjobs/internal/storage"
)

// CreateStar returns the handler for createStar jobs. It simulates work
// lasting d, then stores the star. The star ID is recorded on the job before
// the star is written, so a re-run after a crash writes the same star.
func CreateStar(stars *storage.StarStore, d time.Duration) Handler {
	return func(ctx context.Context, exec *Execution) error {
		star := exec.Job.CreateStar
		if star == nil {
			return fmt.Errorf("job %d: missing createStar payload", exec.Job.ID)
		}

		if err := wait(ctx, d); err != nil {
			return err
		}

		if star.ID == 0 {
			id, err := stars.AllocateID(ctx)
			if err != nil {
				return err
			}
			star.ID = id
			if err := exec.Checkpoint(ctx); err != nil {
				return fmt.Errorf("record star id: %w", err)
			}
		}

		err := stars.Create(ctx, &domain.Star{ID: star.ID, Name: star.Name})
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil
		}
		return err
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
