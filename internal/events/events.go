package events

import (
	"context"

	"memoir/internal/jobs"
)

// Publisher emits job lifecycle events for external observers. Publishing is
// best-effort; the registry never blocks on it.
type Publisher interface {
	JobChanged(ctx context.Context, job jobs.Job) error
	Close() error
}

// NoOpPublisher discards all events. Used when no broker is configured.
type NoOpPublisher struct{}

func NewNoOp() *NoOpPublisher { return &NoOpPublisher{} }

func (*NoOpPublisher) JobChanged(context.Context, jobs.Job) error { return nil }

func (*NoOpPublisher) Close() error { return nil }
