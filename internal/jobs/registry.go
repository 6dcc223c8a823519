package jobs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the process-wide in-memory store of background jobs. State is
// not durable; a restart forgets all jobs, which is acceptable because the
// registry is never the system of record for page content.
//
// Cancellation is cooperative: Cancel flips a flag that pipelines poll via
// Cancelled at step boundaries. It does not interrupt in-flight calls.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	log     *slog.Logger
	notify  func(Job)
}

type entry struct {
	job       Job
	cancelled bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotify installs a hook invoked (outside the registry lock) after every
// job creation and status change. Used to publish lifecycle events.
func WithNotify(fn func(Job)) Option {
	return func(r *Registry) { r.notify = fn }
}

func NewRegistry(log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[uuid.UUID]*entry),
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a pending job. pageID may be uuid.Nil when the page does
// not exist yet.
func (r *Registry) Register(kind Kind, sourceID, pageID uuid.UUID) (Job, error) {
	if !validKinds[kind] {
		return Job{}, fmt.Errorf("unknown job kind %q", kind)
	}
	job := Job{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      StatusPending,
		SourceID:    sourceID,
		PageID:      pageID,
		ScheduledAt: time.Now().UTC(),
		Cancellable: true,
	}
	r.mu.Lock()
	r.entries[job.ID] = &entry{job: job}
	r.mu.Unlock()

	r.log.Info("registered job", "job_id", job.ID, "kind", kind, "source_id", sourceID, "page_id", pageID)
	r.emit(job)
	return job, nil
}

// SetStatus advances a job's status. Unknown ids and backward transitions are
// logged and ignored: a job can be orphaned by a cancel/delete race, and the
// pipeline must not crash over it.
func (r *Registry) SetStatus(id uuid.UUID, status Status) {
	r.setStatus(id, status, "")
}

// Fail marks a job failed with a human-readable reason.
func (r *Registry) Fail(id uuid.UUID, reason string) {
	r.setStatus(id, StatusFailed, reason)
}

func (r *Registry) setStatus(id uuid.UUID, status Status, reason string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("status update for unknown job", "job_id", id, "status", status)
		return
	}
	if !allowedTransition(e.job.Status, status) {
		from := e.job.Status
		r.mu.Unlock()
		r.log.Warn("rejected job status transition", "job_id", id, "from", from, "to", status)
		return
	}
	e.job.Status = status
	e.job.Reason = reason
	if status.Terminal() {
		e.job.Cancellable = false
	}
	job := e.job
	r.mu.Unlock()

	r.log.Info("job status changed", "job_id", id, "status", status, "reason", reason)
	r.emit(job)
}

// Get returns a job by id.
func (r *Registry) Get(id uuid.UUID) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// List returns jobs matching the filter, in no particular order; callers may
// sort by ScheduledAt.
func (r *Registry) List(f Filter) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		if f.matches(e.job) {
			out = append(out, e.job)
		}
	}
	return out
}

// Cancel marks a job cancelled and raises its cooperative cancellation flag.
// Returns false when the job is unknown or no longer cancellable.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("cancel requested for unknown job", "job_id", id)
		return false
	}
	if !e.job.Cancellable || e.job.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	e.job.Status = StatusCancelled
	e.job.Cancellable = false
	e.cancelled = true
	job := e.job
	r.mu.Unlock()

	r.log.Info("cancelled job", "job_id", id)
	r.emit(job)
	return true
}

// CancelAll cancels the given jobs, or every cancellable job when none are
// given. Returns the number cancelled.
func (r *Registry) CancelAll(ids ...uuid.UUID) int {
	if len(ids) == 0 {
		for _, j := range r.List(Filter{}) {
			ids = append(ids, j.ID)
		}
	}
	count := 0
	for _, id := range ids {
		if r.Cancel(id) {
			count++
		}
	}
	return count
}

// Cancelled reports the cooperative cancellation flag for a job. Unknown jobs
// report false; the pipeline's own status updates handle orphans.
func (r *Registry) Cancelled(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.cancelled
}

func (r *Registry) emit(job Job) {
	if r.notify != nil {
		r.notify(job)
	}
}
