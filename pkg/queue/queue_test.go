package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/millrun/millrun/pkg/job"
)

func TestQueue_Add(t *testing.T) {
	q := New()
	j := job.New("part A", job.TypeFileRun, 1)

	require.NoError(t, q.Add(j))
	require.Equal(t, 1, q.Len())

	got, err := q.Get(j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
}

func TestQueue_AddRejectsNonPending(t *testing.T) {
	q := New()
	j := job.New("part A", job.TypeFileRun, 1)
	require.NoError(t, j.Start())

	err := q.Add(j)
	var ise *job.InvalidStateError
	require.ErrorAs(t, err, &ise)
	require.Zero(t, q.Len())
}

func TestQueue_AddDuplicate(t *testing.T) {
	q := New()
	j := job.New("part A", job.TypeFileRun, 1)
	require.NoError(t, q.Add(j))

	err := q.Add(j)
	var dup *AlreadyExistsError
	require.ErrorAs(t, err, &dup)
}

func TestQueue_GetNotFound(t *testing.T) {
	q := New()
	_, err := q.Get("nonexistent-id")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "nonexistent-id", nf.ID)
}

func TestQueue_NextPending_Priority(t *testing.T) {
	q := New()
	low := job.New("Job 1", job.TypeFileRun, 1)
	high := job.New("Job 2", job.TypeFileRun, 10)
	require.NoError(t, q.Add(low))
	require.NoError(t, q.Add(high))

	next := q.NextPending()
	require.NotNil(t, next)
	require.Equal(t, "Job 2", next.Name)
}

func TestQueue_NextPending_TieBreaksByCreation(t *testing.T) {
	q := New()
	first := job.New("first", job.TypeFileRun, 5)
	second := job.New("second", job.TypeFileRun, 5)
	// Force distinct creation times regardless of clock resolution.
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	require.NoError(t, q.Add(second))
	require.NoError(t, q.Add(first))

	next := q.NextPending()
	require.Equal(t, "first", next.Name)
}

func TestQueue_NextPending_SkipsNonPending(t *testing.T) {
	q := New()
	running := job.New("running", job.TypeFileRun, 10)
	pending := job.New("pending", job.TypeFileRun, 1)
	require.NoError(t, q.Add(running))
	require.NoError(t, q.Add(pending))
	require.NoError(t, q.StartJob(running.ID))

	next := q.NextPending()
	require.Equal(t, "pending", next.Name)
}

func TestQueue_NextPending_Empty(t *testing.T) {
	q := New()
	require.Nil(t, q.NextPending())
}

func TestQueue_StartJob(t *testing.T) {
	q := New()
	j := job.New("j", job.TypeFileRun, 0)
	require.NoError(t, q.Add(j))

	require.NoError(t, q.StartJob(j.ID))
	require.Equal(t, job.StatusRunning, j.Status)
	require.True(t, q.IsActive(j.ID))
	require.Equal(t, []string{j.ID}, q.ActiveIDs())
}

func TestQueue_StartJob_SingleResource(t *testing.T) {
	q := New()
	a := job.New("a", job.TypeFileRun, 0)
	b := job.New("b", job.TypeFileRun, 0)
	require.NoError(t, q.Add(a))
	require.NoError(t, q.Add(b))

	require.NoError(t, q.StartJob(a.ID))
	err := q.StartJob(b.ID)
	require.ErrorIs(t, err, ErrAlreadyActive)
	require.Equal(t, job.StatusPending, b.Status)
}

func TestQueue_StartJob_NotPending(t *testing.T) {
	q := New()
	j := job.New("j", job.TypeFileRun, 0)
	require.NoError(t, q.Add(j))
	require.NoError(t, q.StartJob(j.ID))
	q.Deactivate(j.ID)

	err := q.StartJob(j.ID)
	var ise *job.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

func TestQueue_StartJob_NotFound(t *testing.T) {
	q := New()
	err := q.StartJob("missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestQueue_ActivateDeactivate(t *testing.T) {
	q := New()
	a := job.New("a", job.TypeFileRun, 0)
	b := job.New("b", job.TypeFileRun, 0)
	require.NoError(t, q.Add(a))
	require.NoError(t, q.Add(b))

	require.NoError(t, q.Activate(a.ID))
	require.NoError(t, q.Activate(a.ID)) // idempotent
	require.ErrorIs(t, q.Activate(b.ID), ErrAlreadyActive)

	q.Deactivate(a.ID)
	require.False(t, q.IsActive(a.ID))
	require.NoError(t, q.Activate(b.ID))
}

func TestQueue_Remove(t *testing.T) {
	q := New()
	j := job.New("j", job.TypeFileRun, 0)
	require.NoError(t, q.Add(j))

	require.NoError(t, q.Remove(j.ID))
	require.Zero(t, q.Len())
	_, err := q.Get(j.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestQueue_RemoveActiveRefused(t *testing.T) {
	q := New()
	j := job.New("j", job.TypeFileRun, 0)
	require.NoError(t, q.Add(j))
	require.NoError(t, q.StartJob(j.ID))

	require.ErrorIs(t, q.Remove(j.ID), ErrAlreadyActive)
	require.Equal(t, 1, q.Len())
}

func TestQueue_JobsReturnsCopies(t *testing.T) {
	q := New()
	j := job.New("j", job.TypeFileRun, 0)
	require.NoError(t, q.Add(j))

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	jobs[0].Name = "mutated"

	got, err := q.Get(j.ID)
	require.NoError(t, err)
	require.Equal(t, "j", got.Name)
}
