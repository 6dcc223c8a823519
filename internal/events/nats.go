package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"memoir/internal/jobs"
	"memoir/internal/retry"
)

const (
	subjectPrefix   = "jobs.events."
	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
)

// NATSPublisher publishes job lifecycle events as JSON to
// jobs.events.<status> subjects.
type NATSPublisher struct {
	log *slog.Logger
	nc  *nats.Conn
}

func NewNATS(log *slog.Logger, nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{log: log, nc: nc}
}

func (p *NATSPublisher) JobChanged(ctx context.Context, job jobs.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	subject := subjectPrefix + string(job.Status)
	for attempt := 0; ; attempt++ {
		err = p.nc.Publish(subject, body)
		if err == nil {
			return nil
		}
		if attempt == publishAttempts-1 {
			p.log.Warn("dropping job event after retries", "job_id", job.ID, "subject", subject, "err", err)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, publishBackoff, time.Second)):
		}
	}
}

func (p *NATSPublisher) Close() error {
	p.nc.Close()
	return nil
}
