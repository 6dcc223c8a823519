package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates supported background job categories.
type Kind string

const KindTextExtraction Kind = "text_extraction"

var validKinds = map[Kind]bool{
	KindTextExtraction: true,
}

// Status is the lifecycle state of a job. Transitions only move forward:
// pending -> in_progress -> {completed, failed, cancelled}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 2
	}
	return -1
}

// allowedTransition enforces the forward-only lifecycle.
func allowedTransition(from, to Status) bool {
	return to.rank() > from.rank()
}

// Job is one tracked unit of background work. Reason carries a
// human-readable failure cause for failed jobs.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	SourceID    uuid.UUID `json:"source_id"`
	PageID      uuid.UUID `json:"page_id,omitzero"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Cancellable bool      `json:"cancellable"`
	Reason      string    `json:"reason,omitempty"`
}

// Filter narrows List results; zero fields match everything.
type Filter struct {
	Kind     Kind
	Status   Status
	SourceID uuid.UUID
}

func (f Filter) matches(j Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.SourceID != uuid.Nil && j.SourceID != f.SourceID {
		return false
	}
	return true
}
