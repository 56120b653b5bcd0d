// Package sched implements the job manager: the single owner of the queue,
// mediating operator requests and machine streamer events.
//
// Two independent contexts want to mutate job state: the request side
// (CLI/HTTP callers issuing start/resume/cancel) and the streaming pipeline
// (per-line completions and faults). The manager serializes both onto one
// actor goroutine, so a resume request can never race a final progress update
// for the job being interrupted. Reads for display are answered from the same
// loop with deep-copied snapshots.
package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/queue"
	"github.com/millrun/millrun/pkg/stream"
)

// ErrStopped is returned for requests issued before Start or after Stop.
var ErrStopped = errors.New("scheduler is not running")

// ProgramSource resolves a job's program reference to its G-code lines.
// The workspace (pkg/storage) is the standard implementation.
type ProgramSource interface {
	Lines(ctx context.Context, j *job.Job) ([]string, error)
}

// Archiver records terminal jobs in the run history. Optional.
type Archiver interface {
	Record(ctx context.Context, j *job.Job) error
}

// UpdateKind classifies a job state change notification.
type UpdateKind string

// Update kinds emitted to notifiers.
const (
	UpdateAdded     UpdateKind = "added"
	UpdateStarted   UpdateKind = "started"
	UpdateProgress  UpdateKind = "progress"
	UpdatePaused    UpdateKind = "paused"
	UpdateResumed   UpdateKind = "resumed"
	UpdateCompleted UpdateKind = "completed"
	UpdateCancelled UpdateKind = "cancelled"
	UpdateFailed    UpdateKind = "failed"
	UpdateRemoved   UpdateKind = "removed"
)

// Update describes a job state change, with a snapshot of the job after the
// change. Delivered to the notifier from the actor loop; the notifier must
// not block.
type Update struct {
	Kind UpdateKind `json:"kind"`
	Job  *job.Job   `json:"job"`
}

// Options configures a Manager.
type Options struct {
	// SnapshotPath is where SaveQueue/LoadQueue and the periodic
	// checkpoint write the queue. Empty disables snapshot operations.
	SnapshotPath string

	// CheckpointInterval enables periodic queue snapshots from the actor
	// loop. Zero disables the ticker. Snapshot I/O runs between events,
	// never on the per-line dispatch path.
	CheckpointInterval time.Duration
}

// Manager owns the queue and the streamer handle and enforces the
// single-active-job policy.
type Manager struct {
	queue    *queue.Queue
	streamer stream.Streamer
	programs ProgramSource
	archive  Archiver
	notify   func(Update)
	opts     Options
	logger   zerolog.Logger

	// program line cache for the currently dispatched job, so resumption
	// does not re-read the program from disk on the event path.
	lines map[string][]string

	requests chan func()
	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

// NewManager creates a manager over the given queue and streamer.
func NewManager(q *queue.Queue, s stream.Streamer, programs ProgramSource, opts Options) *Manager {
	return &Manager{
		queue:    q,
		streamer: s,
		programs: programs,
		opts:     opts,
		logger:   log.With().Str("component", "sched").Logger(),
		lines:    make(map[string][]string),
		requests: make(chan func(), 16),
		done:     make(chan struct{}),
	}
}

// WithArchiver attaches a history archiver for terminal jobs.
func (m *Manager) WithArchiver(a Archiver) *Manager {
	m.archive = a
	return m
}

// WithNotifier attaches a callback receiving job state change updates.
// The callback runs on the actor goroutine and must return quickly.
func (m *Manager) WithNotifier(fn func(Update)) *Manager {
	m.notify = fn
	return m
}

// Start launches the actor loop. Non-blocking.
func (m *Manager) Start(ctx context.Context) error {
	if m.running {
		return errors.New("scheduler already started")
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	go m.run()
	m.logger.Info().Msg("Scheduler started")
	return nil
}

// Stop shuts the actor loop down, writing a final checkpoint if a snapshot
// path is configured. It respects ctx for the shutdown deadline.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.running = false
	m.logger.Info().Msg("Scheduler stopped")
	return nil
}

// run is the actor loop: the only goroutine permitted to touch the queue.
func (m *Manager) run() {
	defer close(m.done)

	var checkpoint <-chan time.Time
	if m.opts.CheckpointInterval > 0 && m.opts.SnapshotPath != "" {
		ticker := time.NewTicker(m.opts.CheckpointInterval)
		defer ticker.Stop()
		checkpoint = ticker.C
	}

	for {
		select {
		case <-m.runCtx.Done():
			m.finalCheckpoint()
			return
		case fn := <-m.requests:
			fn()
		case ev, ok := <-m.streamer.Events():
			if !ok {
				m.logger.Warn().Msg("Streamer event channel closed")
				m.finalCheckpoint()
				return
			}
			m.handleEvent(ev)
		case <-checkpoint:
			if err := m.queue.SaveFile(m.opts.SnapshotPath); err != nil {
				m.logger.Error().Err(err).Msg("Periodic checkpoint failed")
			} else {
				m.logger.Debug().Str("path", m.opts.SnapshotPath).Msg("Checkpoint written")
			}
		}
	}
}

func (m *Manager) finalCheckpoint() {
	if m.opts.SnapshotPath == "" {
		return
	}
	if err := m.queue.SaveFile(m.opts.SnapshotPath); err != nil {
		m.logger.Error().Err(err).Msg("Shutdown checkpoint failed")
	}
}

// do executes fn on the actor goroutine and waits for it.
func (m *Manager) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case m.requests <- wrapped:
	case <-m.done:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// AddJob enqueues a Pending job.
func (m *Manager) AddJob(j *job.Job) error {
	var opErr error
	if err := m.do(func() {
		opErr = m.queue.Add(j)
		if opErr == nil {
			m.emit(UpdateAdded, j)
		}
	}); err != nil {
		return err
	}
	return opErr
}

// StartJob transitions a Pending job to Running and dispatches its full line
// range [0, TotalLines) to the streamer.
//
// Errors: NotFoundError, InvalidStateError (not Pending), ErrAlreadyActive.
func (m *Manager) StartJob(id string) error {
	var opErr error
	if err := m.do(func() { opErr = m.startJob(id) }); err != nil {
		return err
	}
	return opErr
}

func (m *Manager) startJob(id string) error {
	j, err := m.queue.Get(id)
	if err != nil {
		return err
	}

	lines, err := m.programLines(j)
	if err != nil {
		return err
	}

	if err := m.queue.StartJob(id); err != nil {
		return err
	}

	if err := m.streamer.Dispatch(m.runCtx, id, 0, lines); err != nil {
		// The machine never saw the job; roll the start back.
		m.queue.Deactivate(id)
		_ = j.Fail(err.Error())
		jobsFailed.Inc()
		m.emit(UpdateFailed, j)
		return err
	}

	jobsStarted.Inc()
	activeJobs.Set(float64(len(m.queue.ActiveIDs())))
	m.logger.Info().Str("job_id", id).Int("lines", len(lines)).Msg("Job started")
	m.emit(UpdateStarted, j)
	return nil
}

// StartNext starts the highest-priority Pending job, if any. Returns the
// started job, or nil if the queue has no Pending jobs.
func (m *Manager) StartNext() (*job.Job, error) {
	var started *job.Job
	var opErr error
	if err := m.do(func() {
		next := m.queue.NextPending()
		if next == nil {
			return
		}
		if opErr = m.startJob(next.ID); opErr == nil {
			started = next.Clone()
		}
	}); err != nil {
		return nil, err
	}
	return started, opErr
}

// ResumeJob transitions a Paused job with a bookmark back to Running and
// re-dispatches lines [bookmark, TotalLines). It returns the resume line:
// exactly the last completed line, which is re-sent rather than skipped so
// every line is delivered at least once.
//
// Errors: NotFoundError, InvalidStateError (not Paused or no bookmark),
// ErrAlreadyActive.
func (m *Manager) ResumeJob(id string) (int, error) {
	var line int
	var opErr error
	if err := m.do(func() { line, opErr = m.resumeJob(id) }); err != nil {
		return 0, err
	}
	return line, opErr
}

func (m *Manager) resumeJob(id string) (int, error) {
	j, err := m.queue.Get(id)
	if err != nil {
		return 0, err
	}
	if !j.CanResume() {
		return 0, &job.InvalidStateError{ID: id, Status: j.Status, Op: "resume"}
	}

	lines, err := m.programLines(j)
	if err != nil {
		return 0, err
	}

	// The bookmark indexes the program about to be re-dispatched. A snapshot
	// edited or corrupted on disk can carry a bookmark past the end of the
	// program; refuse it here instead of slicing out of range on the actor
	// goroutine.
	if bm := *j.LastCompletedLine; bm < 0 || bm >= len(lines) {
		return 0, fmt.Errorf("job %s: bookmark line %d outside program of %d lines", id, bm, len(lines))
	}

	if err := m.queue.Activate(id); err != nil {
		return 0, err
	}

	resumeLine, err := j.Resume()
	if err != nil {
		m.queue.Deactivate(id)
		return 0, err
	}

	if err := m.streamer.Dispatch(m.runCtx, id, resumeLine, lines[resumeLine:]); err != nil {
		m.queue.Deactivate(id)
		_ = j.Fail(err.Error())
		jobsFailed.Inc()
		m.emit(UpdateFailed, j)
		return 0, err
	}

	activeJobs.Set(float64(len(m.queue.ActiveIDs())))
	m.logger.Info().Str("job_id", id).Int("resume_line", resumeLine).Msg("Job resumed")
	m.emit(UpdateResumed, j)
	return resumeLine, nil
}

// InterruptJob pauses a Running job at the given confirmed line and releases
// the machine. Normally driven by fault events from the streamer; also
// exposed for an operator-initiated feed hold.
func (m *Manager) InterruptJob(id string, line int) error {
	var opErr error
	if err := m.do(func() { opErr = m.interruptJob(id, line, "") }); err != nil {
		return err
	}
	return opErr
}

func (m *Manager) interruptJob(id string, line int, cause string) error {
	j, err := m.queue.Get(id)
	if err != nil {
		return err
	}
	// A confirmed line can never index past the program; a report beyond the
	// end is clamped to the final line so the bookmark stays resumable.
	if j.TotalLines > 0 && line >= j.TotalLines {
		line = j.TotalLines - 1
	}
	if err := j.Interrupt(line); err != nil {
		return err
	}
	m.queue.Deactivate(id)
	activeJobs.Set(float64(len(m.queue.ActiveIDs())))

	evt := m.logger.Info().Str("job_id", id).Int("last_completed_line", line)
	if cause != "" {
		evt = evt.Str("cause", cause)
	}
	evt.Msg("Job interrupted")
	m.emit(UpdatePaused, j)
	return nil
}

// CancelJob cancels a job from any non-terminal state and releases the
// machine if the job was active.
func (m *Manager) CancelJob(id string) error {
	var opErr error
	if err := m.do(func() { opErr = m.cancelJob(id) }); err != nil {
		return err
	}
	return opErr
}

func (m *Manager) cancelJob(id string) error {
	j, err := m.queue.Get(id)
	if err != nil {
		return err
	}
	if err := j.Cancel(); err != nil {
		return err
	}
	m.queue.Deactivate(id)
	delete(m.lines, id)
	activeJobs.Set(float64(len(m.queue.ActiveIDs())))
	m.logger.Info().Str("job_id", id).Msg("Job cancelled")
	m.emit(UpdateCancelled, j)
	m.recordTerminal(j)
	return nil
}

// RemoveJob deletes a job record from the queue. Active jobs are refused.
func (m *Manager) RemoveJob(id string) error {
	var opErr error
	if err := m.do(func() {
		var j *job.Job
		j, opErr = m.queue.Get(id)
		if opErr != nil {
			return
		}
		if opErr = m.queue.Remove(id); opErr == nil {
			delete(m.lines, id)
			m.emit(UpdateRemoved, j)
		}
	}); err != nil {
		return err
	}
	return opErr
}

// Job returns a snapshot copy of a single job.
func (m *Manager) Job(id string) (*job.Job, error) {
	var out *job.Job
	var opErr error
	if err := m.do(func() {
		var j *job.Job
		if j, opErr = m.queue.Get(id); opErr == nil {
			out = j.Clone()
		}
	}); err != nil {
		return nil, err
	}
	return out, opErr
}

// Jobs returns a snapshot copy of all jobs in insertion order.
func (m *Manager) Jobs() ([]*job.Job, error) {
	var out []*job.Job
	if err := m.do(func() { out = m.queue.Jobs() }); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveIDs returns the ids currently dispatched to the streamer.
func (m *Manager) ActiveIDs() ([]string, error) {
	var out []string
	if err := m.do(func() { out = m.queue.ActiveIDs() }); err != nil {
		return nil, err
	}
	return out, nil
}

// NextPending returns a snapshot of the job that StartNext would pick,
// without starting it.
func (m *Manager) NextPending() (*job.Job, error) {
	var out *job.Job
	if err := m.do(func() {
		if next := m.queue.NextPending(); next != nil {
			out = next.Clone()
		}
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveQueue snapshots the queue to the configured path.
func (m *Manager) SaveQueue() error {
	var opErr error
	if err := m.do(func() {
		if m.opts.SnapshotPath == "" {
			opErr = errors.New("no snapshot path configured")
			return
		}
		opErr = m.queue.SaveFile(m.opts.SnapshotPath)
	}); err != nil {
		return err
	}
	return opErr
}

// LoadQueue replaces the in-memory queue with the snapshot at the configured
// path. Refused while a job is active: the snapshot cannot describe a line
// stream the machine is currently executing. On a load failure the current
// queue is left untouched.
func (m *Manager) LoadQueue() error {
	var opErr error
	if err := m.do(func() {
		if m.opts.SnapshotPath == "" {
			opErr = errors.New("no snapshot path configured")
			return
		}
		if len(m.queue.ActiveIDs()) > 0 {
			opErr = queue.ErrAlreadyActive
			return
		}
		loaded, err := queue.LoadFile(m.opts.SnapshotPath)
		if err != nil {
			opErr = err
			return
		}
		m.queue = loaded
		m.lines = make(map[string][]string)
	}); err != nil {
		return err
	}
	return opErr
}

// handleEvent applies a streamer event on the actor loop.
func (m *Manager) handleEvent(ev stream.Event) {
	switch ev.Type {
	case stream.EventLineCompleted:
		m.handleLineCompleted(ev)
	case stream.EventFault:
		faults.Inc()
		if err := m.interruptJob(ev.JobID, ev.Line, ev.Cause); err != nil {
			// A fault for a job that was cancelled or removed in the
			// meantime; nothing to interrupt.
			m.logger.Debug().Str("job_id", ev.JobID).Err(err).Msg("Fault for inactive job ignored")
		}
	default:
		m.logger.Warn().Str("type", string(ev.Type)).Msg("Unknown streamer event")
	}
}

func (m *Manager) handleLineCompleted(ev stream.Event) {
	j, err := m.queue.Get(ev.JobID)
	if err != nil {
		m.logger.Debug().Str("job_id", ev.JobID).Msg("Completion for unknown job ignored")
		return
	}
	if !m.queue.IsActive(ev.JobID) {
		// Late report after an interrupt or cancel; progress is frozen.
		return
	}

	j.ConfirmLine(ev.Line)
	linesCompleted.Inc()
	m.emit(UpdateProgress, j)

	if j.TotalLines > 0 && ev.Line >= j.TotalLines-1 {
		if err := j.Complete(); err != nil {
			m.logger.Error().Str("job_id", ev.JobID).Err(err).Msg("Completion transition failed")
			return
		}
		m.queue.Deactivate(ev.JobID)
		delete(m.lines, ev.JobID)
		jobsCompleted.Inc()
		activeJobs.Set(float64(len(m.queue.ActiveIDs())))
		m.logger.Info().
			Str("job_id", ev.JobID).
			Int("duration_seconds", j.Duration).
			Msg("Job completed")
		m.emit(UpdateCompleted, j)
		m.recordTerminal(j)
	}
}

// programLines loads and caches the job's program lines.
func (m *Manager) programLines(j *job.Job) ([]string, error) {
	if lines, ok := m.lines[j.ID]; ok {
		return lines, nil
	}
	if m.programs == nil {
		return nil, errors.New("no program source configured")
	}
	lines, err := m.programs.Lines(m.runCtx, j)
	if err != nil {
		return nil, err
	}
	if j.TotalLines == 0 {
		j.TotalLines = len(lines)
	}
	m.lines[j.ID] = lines
	return lines, nil
}

func (m *Manager) recordTerminal(j *job.Job) {
	if m.archive == nil {
		return
	}
	if err := m.archive.Record(m.runCtx, j.Clone()); err != nil {
		m.logger.Warn().Str("job_id", j.ID).Err(err).Msg("Failed to archive job")
	}
}

func (m *Manager) emit(kind UpdateKind, j *job.Job) {
	if m.notify == nil {
		return
	}
	m.notify(Update{Kind: kind, Job: j.Clone()})
}
