package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/millrun/millrun/pkg/job"
)

// snapshotVersion identifies the on-disk snapshot format.
const snapshotVersion = 1

// Snapshot is the durable representation of a queue: the full ordered job
// list, nothing else. The active set is deliberately absent: a Running flag
// from a previous process cannot be trusted, because the machine connection
// and any truly in-flight line are gone with that process.
type Snapshot struct {
	Version int        `json:"version"`
	SavedAt time.Time  `json:"saved_at"`
	Jobs    []*job.Job `json:"jobs"`
}

// SaveFile serializes the queue to path. The write is atomic (temp file +
// rename) and guarded by a file lock so a concurrent reader never observes a
// partial snapshot.
func (q *Queue) SaveFile(path string) error {
	snap := Snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Jobs:    q.jobs,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &SnapshotError{Op: "save", Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &SnapshotError{Op: "save", Path: path, Err: err}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return &SnapshotError{Op: "save", Path: path, Err: fmt.Errorf("acquire lock: %w", err)}
	}
	defer func() { _ = lock.Unlock() }()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &SnapshotError{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &SnapshotError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// LoadFile reconstructs a queue from the snapshot at path.
//
// Sanitization on load: every job persisted as Running is rewritten to
// Pending. Its bookmark (and every other field) is preserved, so an operator
// can still re-queue and resume-equivalent from the recorded line. The active
// set always starts empty. See the package comment for why Running cannot
// survive a restart.
func LoadFile(path string) (*Queue, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, &SnapshotError{Op: "load", Path: path, Err: fmt.Errorf("acquire lock: %w", err)}
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SnapshotError{Op: "load", Path: path, Err: err}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &SnapshotError{Op: "load", Path: path, Err: err}
	}
	if snap.Version != snapshotVersion {
		return nil, &SnapshotError{
			Op:   "load",
			Path: path,
			Err:  fmt.Errorf("unsupported snapshot version %d", snap.Version),
		}
	}

	q := New()
	for _, j := range snap.Jobs {
		if j.Status == job.StatusRunning {
			j.Status = job.StatusPending
		}
		q.jobs = append(q.jobs, j)
		q.index[j.ID] = j
	}
	return q, nil
}
