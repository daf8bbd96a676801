// Package queue carries "job ready" notifications from producers
// (submission, recovery) to the worker pool. Messages hold only a job ID and
// are delivered at least once, in best-effort FIFO order, with no durability
// guarantee; the recovery sweep covers anything lost.
package queue

import (
	"context"
	"time"
)

// DefaultPollInterval bounds how long a consumer waits between checks.
const DefaultPollInterval = time.Second

// Publisher sends dispatch messages.
type Publisher interface {
	Publish(ctx context.Context, jobID int64) error
}

// Consumer receives dispatch messages.
type Consumer interface {
	// Consume blocks until a message arrives or ctx is done. ok is false
	// when it returned because of ctx.
	Consume(ctx context.Context) (jobID int64, ok bool)
}

// Queue is both ends of a dispatch channel.
type Queue interface {
	Publisher
	Consumer
}
