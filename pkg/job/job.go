// Package job defines the schedulable unit of machine work and its state
// machine.
//
// A Job represents one G-code program run (a file sent by the operator or an
// operation emitted by the CAM pipeline) against the machine. Jobs are
// interruptible: when the streaming layer reports a fault mid-run, the job
// records the last line the controller confirmed and can later be resumed from
// exactly that line.
//
// The Job type itself is not safe for concurrent use. All mutation is
// serialized by the scheduler actor (see pkg/sched).
package job

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies where a job's program came from.
type Type string

// Job types.
const (
	// TypeFileRun is a G-code file submitted directly by the operator.
	TypeFileRun Type = "file_run"

	// TypeGeneratedOp is a program produced by a CAM/toolpath generator.
	TypeGeneratedOp Type = "generated_op"
)

// String returns the string representation of Type.
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the Type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeFileRun, TypeGeneratedOp:
		return true
	default:
		return false
	}
}

// Status represents the lifecycle state of a job.
type Status string

// Valid job statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the Status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused,
		StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Job is a single schedulable unit of machine work.
//
// Timestamps use the zero value for "not set". LastCompletedLine is nil until
// the job has been interrupted at least once (or has had a line confirmed);
// once set it only increases. It is the sole basis for resumption.
type Job struct {
	// ID is the unique identifier, assigned at creation, never reused.
	ID string `json:"id"`

	// Name is the operator-visible label.
	Name string `json:"name"`

	// Type indicates the program origin (file run vs. generated operation).
	Type Type `json:"job_type"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Priority orders dispatch; higher values are selected first.
	Priority int `json:"priority"`

	// Progress is the fraction of lines confirmed, in [0, 1]. Meaningful
	// while Running and after Completed (= 1.0).
	Progress float64 `json:"progress"`

	// LastCompletedLine is the index of the last line the machine confirmed.
	// Nil until at least one confirmation or interruption has been recorded.
	LastCompletedLine *int `json:"last_completed_line,omitempty"`

	// TotalLines is the number of lines in the program.
	TotalLines int `json:"total_lines"`

	// Program references the G-code program in the workspace.
	Program string `json:"program,omitempty"`

	// CreatedAt is when the job was created (UTC).
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job first transitioned to Running (UTC).
	StartedAt time.Time `json:"started_at,omitzero"`

	// CompletedAt is when the job finished (UTC). Zero if not completed.
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Duration is the wall-clock run duration in seconds, set on completion.
	Duration int `json:"actual_duration_seconds,omitempty"`

	// ErrorMessage holds fault details if the job failed.
	ErrorMessage string `json:"error_message,omitempty"`
}

// New creates a Pending job with a fresh ID and creation timestamp.
func New(name string, jobType Type, priority int) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      jobType,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// Start transitions the job from Pending to Running and records StartedAt.
// Re-entering Running from Paused goes through Resume instead, so StartedAt
// always marks the first dispatch.
func (j *Job) Start() error {
	if j.Status != StatusPending {
		return &InvalidStateError{ID: j.ID, Status: j.Status, Op: "start"}
	}
	j.Status = StatusRunning
	j.StartedAt = time.Now().UTC()
	return nil
}

// Interrupt transitions the job from Running to Paused and records the last
// line the machine confirmed. The bookmark never moves backwards: a stale
// fault report cannot undo confirmed progress.
//
// A negative line means the machine confirmed nothing before the fault. The
// bookmark is clamped to 0, so a later resume re-dispatches the program from
// the first line.
func (j *Job) Interrupt(line int) error {
	if j.Status != StatusRunning {
		return &InvalidStateError{ID: j.ID, Status: j.Status, Op: "interrupt"}
	}
	j.Status = StatusPaused
	if line < 0 {
		line = 0
	}
	if j.LastCompletedLine == nil || line > *j.LastCompletedLine {
		j.LastCompletedLine = &line
	}
	return nil
}

// Resume transitions the job from Paused back to Running, reusing the
// existing bookmark. It returns the line at which re-dispatch must begin:
// exactly the last completed line, which is re-sent rather than skipped
// (at-least-once delivery; the streaming layer treats a re-sent line as
// idempotent).
func (j *Job) Resume() (int, error) {
	if !j.CanResume() {
		return 0, &InvalidStateError{ID: j.ID, Status: j.Status, Op: "resume"}
	}
	j.Status = StatusRunning
	return *j.LastCompletedLine, nil
}

// Complete transitions the job from Running to Completed, pins progress to
// 1.0 and derives Duration from the start/completion timestamps.
func (j *Job) Complete() error {
	if j.Status != StatusRunning {
		return &InvalidStateError{ID: j.ID, Status: j.Status, Op: "complete"}
	}
	j.Status = StatusCompleted
	j.CompletedAt = time.Now().UTC()
	j.Progress = 1.0
	if !j.StartedAt.IsZero() {
		j.Duration = int(j.CompletedAt.Sub(j.StartedAt).Seconds())
	}
	return nil
}

// Cancel transitions the job to Cancelled from any non-terminal state.
func (j *Job) Cancel() error {
	if j.Status.IsTerminal() {
		return &InvalidStateError{ID: j.ID, Status: j.Status, Op: "cancel"}
	}
	j.Status = StatusCancelled
	return nil
}

// Fail transitions the job from Running or Paused to Failed, recording the
// fault message. Used when a fault is classified as non-resumable.
func (j *Job) Fail(msg string) error {
	if j.Status != StatusRunning && j.Status != StatusPaused {
		return &InvalidStateError{ID: j.ID, Status: j.Status, Op: "fail"}
	}
	j.Status = StatusFailed
	j.ErrorMessage = msg
	return nil
}

// UpdateProgress clamps value into [0, 1] and records it. Progress only has
// scheduling meaning while Running; calls in other states are tolerated and
// ignored so a late report from the streaming pipeline cannot disturb a job
// that was paused or cancelled in the meantime.
func (j *Job) UpdateProgress(value float64) {
	if j.Status != StatusRunning {
		return
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	j.Progress = value
}

// ConfirmLine records a confirmed line index, advancing the bookmark and
// progress together. Only meaningful while Running.
func (j *Job) ConfirmLine(line int) {
	if j.Status != StatusRunning {
		return
	}
	if j.LastCompletedLine == nil || line > *j.LastCompletedLine {
		l := line
		j.LastCompletedLine = &l
	}
	if j.TotalLines > 0 {
		j.UpdateProgress(float64(line+1) / float64(j.TotalLines))
	}
}

// CanResume reports whether the job is Paused with a recorded bookmark.
func (j *Job) CanResume() bool {
	return j.Status == StatusPaused && j.LastCompletedLine != nil
}

// Clone returns a deep copy of the job for read-only snapshots.
func (j *Job) Clone() *Job {
	c := *j
	if j.LastCompletedLine != nil {
		l := *j.LastCompletedLine
		c.LastCompletedLine = &l
	}
	return &c
}
