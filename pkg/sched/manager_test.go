package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/queue"
	"github.com/millrun/millrun/pkg/stream"
)

// fakeStreamer records dispatches and lets the test inject events by hand,
// so every scheduler transition is driven deterministically.
type fakeStreamer struct {
	mu         sync.Mutex
	dispatches []dispatchCall
	events     chan stream.Event
	failNext   bool
}

type dispatchCall struct {
	jobID     string
	startLine int
	lines     []string
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{events: make(chan stream.Event, 64)}
}

func (f *fakeStreamer) Dispatch(_ context.Context, jobID string, startLine int, lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("port unavailable")
	}
	f.dispatches = append(f.dispatches, dispatchCall{jobID: jobID, startLine: startLine, lines: lines})
	return nil
}

func (f *fakeStreamer) Events() <-chan stream.Event { return f.events }

func (f *fakeStreamer) Close() error {
	close(f.events)
	return nil
}

func (f *fakeStreamer) lastDispatch(t *testing.T) dispatchCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.dispatches)
	return f.dispatches[len(f.dispatches)-1]
}

func (f *fakeStreamer) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatches)
}

// memPrograms serves a fixed program for every job.
type memPrograms struct {
	lines []string
}

func (p *memPrograms) Lines(context.Context, *job.Job) ([]string, error) {
	return p.lines, nil
}

func program(n int) *memPrograms {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("G1 X%d", i)
	}
	return &memPrograms{lines: lines}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeStreamer) {
	t.Helper()
	fs := newFakeStreamer()
	m := NewManager(queue.New(), fs, program(5), opts)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m, fs
}

func addJob(t *testing.T, m *Manager, name string, priority int) *job.Job {
	t.Helper()
	j := job.New(name, job.TypeFileRun, priority)
	require.NoError(t, m.AddJob(j))
	return j
}

func waitForStatus(t *testing.T, m *Manager, id string, want job.Status) *job.Job {
	t.Helper()
	var got *job.Job
	require.Eventually(t, func() bool {
		j, err := m.Job(id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func TestManager_StartJobDispatchesFullRange(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)

	require.NoError(t, m.StartJob(j.ID))

	got, err := m.Job(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, got.Status)
	require.Equal(t, 5, got.TotalLines)

	active, err := m.ActiveIDs()
	require.NoError(t, err)
	require.Equal(t, []string{j.ID}, active)

	d := fs.lastDispatch(t)
	require.Equal(t, j.ID, d.jobID)
	require.Equal(t, 0, d.startLine)
	require.Len(t, d.lines, 5)
}

func TestManager_StartJobAlreadyActive(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := addJob(t, m, "a", 0)
	b := addJob(t, m, "b", 0)

	require.NoError(t, m.StartJob(a.ID))
	require.ErrorIs(t, m.StartJob(b.ID), queue.ErrAlreadyActive)

	got, err := m.Job(b.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPending, got.Status)
}

func TestManager_StartJobInvalidState(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))
	require.NoError(t, m.InterruptJob(j.ID, 1))

	err := m.StartJob(j.ID)
	var ise *job.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestManager_StartJobNotFound(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	err := m.StartJob("nonexistent-id")
	var nf *queue.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestManager_InterruptThenResume(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))

	require.NoError(t, m.InterruptJob(j.ID, 2))

	got, err := m.Job(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPaused, got.Status)
	require.Equal(t, 2, *got.LastCompletedLine)
	require.True(t, got.CanResume())

	active, err := m.ActiveIDs()
	require.NoError(t, err)
	require.Empty(t, active)

	line, err := m.ResumeJob(j.ID)
	require.NoError(t, err)
	require.Equal(t, 2, line)

	got, err = m.Job(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, got.Status)

	// Re-dispatch starts at the bookmark: the interrupted line is re-sent.
	d := fs.lastDispatch(t)
	require.Equal(t, 2, d.startLine)
	require.Len(t, d.lines, 3)
}

func TestManager_ResumeJobNotFound(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.ResumeJob("nonexistent-id")
	var nf *queue.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestManager_ResumeJobInvalidState(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)

	_, err := m.ResumeJob(j.ID)
	var ise *job.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestManager_ResumeBlockedByActiveJob(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := addJob(t, m, "a", 0)
	b := addJob(t, m, "b", 0)

	require.NoError(t, m.StartJob(a.ID))
	require.NoError(t, m.InterruptJob(a.ID, 1))
	require.NoError(t, m.StartJob(b.ID))

	_, err := m.ResumeJob(a.ID)
	require.ErrorIs(t, err, queue.ErrAlreadyActive)
}

func TestManager_FaultEventPausesJob(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))

	fs.events <- stream.Event{Type: stream.EventFault, JobID: j.ID, Line: 3, Cause: "serial disconnect"}

	got := waitForStatus(t, m, j.ID, job.StatusPaused)
	require.Equal(t, 3, *got.LastCompletedLine)
	require.True(t, got.CanResume())
}

func TestManager_FaultBeforeFirstConfirmation(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))

	// A fault on the very first line reports -1: nothing was confirmed.
	fs.events <- stream.Event{Type: stream.EventFault, JobID: j.ID, Line: -1, Cause: "spindle stall"}

	got := waitForStatus(t, m, j.ID, job.StatusPaused)
	require.Equal(t, 0, *got.LastCompletedLine)
	require.True(t, got.CanResume())

	// Resuming re-dispatches the whole program from the top.
	line, err := m.ResumeJob(j.ID)
	require.NoError(t, err)
	require.Equal(t, 0, line)

	d := fs.lastDispatch(t)
	require.Equal(t, 0, d.startLine)
	require.Len(t, d.lines, 5)
}

func TestManager_ResumeRejectsBookmarkPastProgram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	m, _ := newTestManager(t, Options{SnapshotPath: path})

	// A snapshot edited on disk can carry a bookmark past the program end.
	bm := 999
	j := job.New("j", job.TypeFileRun, 0)
	j.Status = job.StatusPaused
	j.LastCompletedLine = &bm
	j.TotalLines = 5
	snap, err := json.Marshal(queue.Snapshot{Version: 1, SavedAt: time.Now().UTC(), Jobs: []*job.Job{j}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, snap, 0o644))

	require.NoError(t, m.LoadQueue())

	_, err = m.ResumeJob(j.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside program")

	// The job stays Paused, the machine stays free and the manager keeps
	// serving requests.
	got, err := m.Job(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPaused, got.Status)
	active, err := m.ActiveIDs()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestManager_LineCompletedDrivesProgressAndCompletion(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))

	for line := 0; line < 5; line++ {
		fs.events <- stream.Event{Type: stream.EventLineCompleted, JobID: j.ID, Line: line}
	}

	got := waitForStatus(t, m, j.ID, job.StatusCompleted)
	require.Equal(t, 1.0, got.Progress)
	require.Equal(t, 4, *got.LastCompletedLine)
	require.False(t, got.CompletedAt.IsZero())

	active, err := m.ActiveIDs()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestManager_LateCompletionAfterInterruptIgnored(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))
	require.NoError(t, m.InterruptJob(j.ID, 1))

	// A straggler confirmation from the old dispatch must not move anything.
	fs.events <- stream.Event{Type: stream.EventLineCompleted, JobID: j.ID, Line: 3}

	// Process a later request to ensure the event has been consumed.
	require.Eventually(t, func() bool {
		got, err := m.Job(j.ID)
		require.NoError(t, err)
		return got.Status == job.StatusPaused && *got.LastCompletedLine == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManager_CancelJobReleasesMachine(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	a := addJob(t, m, "a", 0)
	b := addJob(t, m, "b", 0)

	require.NoError(t, m.StartJob(a.ID))
	require.NoError(t, m.CancelJob(a.ID))

	got, err := m.Job(a.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCancelled, got.Status)

	// The machine is free again.
	require.NoError(t, m.StartJob(b.ID))
}

func TestManager_CancelTerminalJob(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	require.NoError(t, m.CancelJob(j.ID))

	err := m.CancelJob(j.ID)
	var ise *job.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestManager_StartNextPicksHighestPriority(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	addJob(t, m, "Job 1", 1)
	high := addJob(t, m, "Job 2", 10)

	started, err := m.StartNext()
	require.NoError(t, err)
	require.NotNil(t, started)
	require.Equal(t, high.ID, started.ID)
}

func TestManager_StartNextEmptyQueue(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	started, err := m.StartNext()
	require.NoError(t, err)
	require.Nil(t, started)
}

func TestManager_DispatchFailureFailsJob(t *testing.T) {
	m, fs := newTestManager(t, Options{})
	j := addJob(t, m, "j", 0)
	fs.mu.Lock()
	fs.failNext = true
	fs.mu.Unlock()

	require.Error(t, m.StartJob(j.ID))

	got, err := m.Job(j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)

	active, err := m.ActiveIDs()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestManager_SaveAndLoadQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	m, _ := newTestManager(t, Options{SnapshotPath: path})

	running := addJob(t, m, "running", 3)
	addJob(t, m, "pending", 1)
	require.NoError(t, m.StartJob(running.ID))

	require.NoError(t, m.SaveQueue())

	// Loading while a job is active is refused.
	require.ErrorIs(t, m.LoadQueue(), queue.ErrAlreadyActive)

	require.NoError(t, m.CancelJob(running.ID))
	require.NoError(t, m.LoadQueue())

	jobs, err := m.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, job.StatusPending, j.Status)
	}
	active, err := m.ActiveIDs()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestManager_StopWritesFinalCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	fs := newFakeStreamer()
	m := NewManager(queue.New(), fs, program(5), Options{SnapshotPath: path})
	require.NoError(t, m.Start(context.Background()))

	j := job.New("j", job.TypeFileRun, 0)
	require.NoError(t, m.AddJob(j))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	loaded, err := queue.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
}

func TestManager_RequestAfterStop(t *testing.T) {
	fs := newFakeStreamer()
	m := NewManager(queue.New(), fs, program(5), Options{})
	require.NoError(t, m.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	_, err := m.Jobs()
	require.ErrorIs(t, err, ErrStopped)
}

func TestManager_NotifierObservesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var kinds []UpdateKind

	fs := newFakeStreamer()
	m := NewManager(queue.New(), fs, program(2), Options{}).
		WithNotifier(func(u Update) {
			mu.Lock()
			kinds = append(kinds, u.Kind)
			mu.Unlock()
		})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})

	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))
	fs.events <- stream.Event{Type: stream.EventLineCompleted, JobID: j.ID, Line: 0}
	fs.events <- stream.Event{Type: stream.EventLineCompleted, JobID: j.ID, Line: 1}
	waitForStatus(t, m, j.ID, job.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, UpdateAdded, kinds[0])
	require.Equal(t, UpdateStarted, kinds[1])
	require.Contains(t, kinds, UpdateProgress)
	require.Equal(t, UpdateCompleted, kinds[len(kinds)-1])
}

// recorder implements Archiver.
type recorder struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (r *recorder) Record(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
	return nil
}

func TestManager_TerminalJobsArchived(t *testing.T) {
	rec := &recorder{}
	fs := newFakeStreamer()
	m := NewManager(queue.New(), fs, program(1), Options{}).WithArchiver(rec)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})

	j := addJob(t, m, "j", 0)
	require.NoError(t, m.StartJob(j.ID))
	fs.events <- stream.Event{Type: stream.EventLineCompleted, JobID: j.ID, Line: 0}
	waitForStatus(t, m, j.ID, job.StatusCompleted)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.jobs) == 1 && rec.jobs[0].Status == job.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManager_EndToEndWithSimStreamer(t *testing.T) {
	sim := stream.NewSimStreamer(0)
	m := NewManager(queue.New(), sim, program(20), Options{})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
		_ = sim.Close()
	})

	j := addJob(t, m, "j", 0)
	sim.FaultAt(j.ID, 10)

	require.NoError(t, m.StartJob(j.ID))
	got := waitForStatus(t, m, j.ID, job.StatusPaused)
	require.Equal(t, 9, *got.LastCompletedLine)

	line, err := m.ResumeJob(j.ID)
	require.NoError(t, err)
	require.Equal(t, 9, line)

	got = waitForStatus(t, m, j.ID, job.StatusCompleted)
	require.Equal(t, 1.0, got.Progress)
	require.Equal(t, 19, *got.LastCompletedLine)
}
