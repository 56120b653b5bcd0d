// Package storage provides the file-based workspace backing the scheduler:
// G-code programs, queue snapshots and the run-history database all live
// under a single workspace root.
//
// Storage layout:
//
//	{workspace}/
//	  programs/   imported G-code files
//	  queue/      queue snapshot (queue.json)
//	  archive/    run history database (archive.db)
//	  logs/
//
// Thread-safety: program reads are guarded by file locks so an import and a
// dispatch-time read cannot interleave.
package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/millrun/millrun/pkg/job"
)

// Config holds workspace configuration.
type Config struct {
	// Root is the workspace root directory.
	Root string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("workspace root is required")
	}
	return nil
}

// DefaultConfig returns the workspace config rooted at ~/.millrun.
func DefaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Config{Root: filepath.Join(home, ".millrun")}, nil
}

// Workspace is the file-based storage backend.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace over the configured root.
func NewWorkspace(cfg *Config) (*Workspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Workspace{root: cfg.Root}, nil
}

// Initialize creates the workspace directory structure.
func (w *Workspace) Initialize(ctx context.Context) error {
	dirs := []string{
		filepath.Join(w.root, "programs"),
		filepath.Join(w.root, "queue"),
		filepath.Join(w.root, "archive"),
		filepath.Join(w.root, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// SnapshotPath returns the default queue snapshot location.
func (w *Workspace) SnapshotPath() string {
	return filepath.Join(w.root, "queue", "queue.json")
}

// ArchivePath returns the run-history database location.
func (w *Workspace) ArchivePath() string {
	return filepath.Join(w.root, "archive", "archive.db")
}

// ImportProgram copies a G-code file into the workspace and returns the
// program reference to store on the job plus its line count. Line indices
// reported by the machine refer to the file exactly as imported, so no
// normalization is applied.
func (w *Workspace) ImportProgram(ctx context.Context, srcPath string) (ref string, totalLines int, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, fmt.Errorf("open program: %w", err)
	}
	defer func() { _ = src.Close() }()

	name := filepath.Base(srcPath)
	dstPath := filepath.Join(w.root, "programs", name)

	lock := flock.New(dstPath + ".lock")
	if err := lock.Lock(); err != nil {
		return "", 0, fmt.Errorf("acquire program lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", 0, fmt.Errorf("create program copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", 0, fmt.Errorf("copy program: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", 0, fmt.Errorf("close program copy: %w", err)
	}

	lines, err := w.readLines(dstPath)
	if err != nil {
		return "", 0, err
	}
	return name, len(lines), nil
}

// Lines resolves a job's program reference and returns its lines. Implements
// the scheduler's ProgramSource. The reference is either a name inside the
// workspace programs directory or an absolute path.
func (w *Workspace) Lines(ctx context.Context, j *job.Job) ([]string, error) {
	if j.Program == "" {
		return nil, fmt.Errorf("job %s has no program reference", j.ID)
	}

	path := j.Program
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, "programs", path)
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire program lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return w.readLines(path)
}

// readLines splits a program file into lines, preserving every physical line
// (including blanks and comments) so indices match what the controller sees.
func (w *Workspace) readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read program %s: %w", path, err)
	}
	return lines, nil
}
