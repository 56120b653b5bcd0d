// Package queue holds the authoritative collection of jobs plus the transient
// set of ids currently dispatched to the machine streamer.
//
// The queue enforces the single-resource policy: the machine executes one line
// stream at a time, so at most one job may be active. The active set is
// process-lifetime state only: it reflects a live connection to physical
// hardware and is deliberately never persisted (see snapshot.go).
//
// Queue is not safe for concurrent use. All mutation goes through the
// scheduler actor (pkg/sched), which serializes operator requests and
// streaming-pipeline events onto a single goroutine.
package queue

import (
	"github.com/millrun/millrun/pkg/job"
)

// Queue is an ordered container of jobs keyed by id.
type Queue struct {
	jobs   []*job.Job
	index  map[string]*job.Job
	active map[string]struct{}

	// maxActive caps concurrent dispatch. The machine is a single exclusive
	// resource, so this is 1.
	maxActive int
}

// New creates an empty queue with the single-resource policy.
func New() *Queue {
	return &Queue{
		index:     make(map[string]*job.Job),
		active:    make(map[string]struct{}),
		maxActive: 1,
	}
}

// Add appends a job to the queue. The job must be Pending: jobs enter the
// queue before any dispatch. No priority reordering happens here; ordering
// is computed at selection time.
func (q *Queue) Add(j *job.Job) error {
	if j.Status != job.StatusPending {
		return &job.InvalidStateError{ID: j.ID, Status: j.Status, Op: "enqueue"}
	}
	if _, exists := q.index[j.ID]; exists {
		return &AlreadyExistsError{ID: j.ID}
	}
	q.jobs = append(q.jobs, j)
	q.index[j.ID] = j
	return nil
}

// Get returns the job with the given id.
func (q *Queue) Get(id string) (*job.Job, error) {
	j, ok := q.index[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return j, nil
}

// Jobs returns a deep copy of all jobs in insertion order, for display.
func (q *Queue) Jobs() []*job.Job {
	out := make([]*job.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Len returns the number of jobs in the queue.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// NextPending returns the Pending job with the highest priority value.
// Ties resolve by earliest creation time; equal-priority jobs therefore run
// FIFO in submission order. This is a scheduling policy, not a hardware
// constraint. Returns nil if no job is Pending. Does not mutate state.
func (q *Queue) NextPending() *job.Job {
	var best *job.Job
	for _, j := range q.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if best == nil ||
			j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	return best
}

// StartJob validates that the job exists and is Pending, transitions it to
// Running and marks it active. Fails with ErrAlreadyActive if another job is
// already dispatched: the machine cannot execute two streams at once, so a
// second start fails fast rather than queueing silently.
func (q *Queue) StartJob(id string) error {
	j, ok := q.index[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if len(q.active) >= q.maxActive {
		return ErrAlreadyActive
	}
	if err := j.Start(); err != nil {
		return err
	}
	q.active[id] = struct{}{}
	return nil
}

// Activate marks a previously started job as dispatched again (resumption
// path). The same exclusivity check as StartJob applies.
func (q *Queue) Activate(id string) error {
	if _, ok := q.index[id]; !ok {
		return &NotFoundError{ID: id}
	}
	if _, already := q.active[id]; already {
		return nil
	}
	if len(q.active) >= q.maxActive {
		return ErrAlreadyActive
	}
	q.active[id] = struct{}{}
	return nil
}

// Deactivate removes the id from the active set. Removing an id that is not
// active is a no-op.
func (q *Queue) Deactivate(id string) {
	delete(q.active, id)
}

// IsActive reports whether the id is currently dispatched.
func (q *Queue) IsActive(id string) bool {
	_, ok := q.active[id]
	return ok
}

// ActiveIDs returns the ids currently dispatched to the streamer.
func (q *Queue) ActiveIDs() []string {
	ids := make([]string, 0, len(q.active))
	for id := range q.active {
		ids = append(ids, id)
	}
	return ids
}

// Remove deletes the job record from the queue. This is the only way a job
// record is destroyed; status transitions never remove it. Removing an
// active job is refused; cancel it first.
func (q *Queue) Remove(id string) error {
	if _, ok := q.index[id]; !ok {
		return &NotFoundError{ID: id}
	}
	if q.IsActive(id) {
		return ErrAlreadyActive
	}
	delete(q.index, id)
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	return nil
}
