package domain

import (
	"fmt"
	"strconv"
)

type Status string

const (
	Queued   Status = "Queued"
	Running  Status = "Running"
	Complete Status = "Complete"
)

// rank orders statuses so transitions can be checked for regression.
func (s Status) rank() int {
	switch s {
	case Queued:
		return 1
	case Running:
		return 2
	case Complete:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Staying in the same status is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.rank() != 0 && next.rank() >= s.rank()
}

// Kind names the work a job performs.
type Kind string

const KindCreateStar Kind = "createStar"

// Payload is the data a job needs to finish. Kind selects which of the
// kind-specific fields is set.
type Payload struct {
	Kind       Kind  `json:"kind"`
	CreateStar *Star `json:"createStar,omitempty"`
}

// Validate checks that the field matching Kind is present.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindCreateStar:
		if p.CreateStar == nil {
			return fmt.Errorf("payload kind %q requires createStar", p.Kind)
		}
		return p.CreateStar.Validate()
	case "":
		return fmt.Errorf("payload kind is required")
	}
	return fmt.Errorf("unknown payload kind %q", p.Kind)
}

// CreateStarPayload builds the payload for a star creation job.
func CreateStarPayload(s Star) Payload {
	return Payload{Kind: KindCreateStar, CreateStar: &s}
}

const JobType = "job"

// Job is the persisted record of a unit of work.
type Job struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Status Status `json:"status"`
	Payload
}

// JobKey is the document key of the job with the given id. The job's lease
// is taken on the same key.
func JobKey(id int64) string { return JobType + "-" + strconv.FormatInt(id, 10) }

// Key returns the job's document key.
func (j *Job) Key() string { return JobKey(j.ID) }

const JobIdentity = "jobIdentity"
