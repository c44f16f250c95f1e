package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/buildkite/mask-enroller/internal/osutil"
	"github.com/gofrs/flock"
)

const (
	configFileName = "config.yml"

	// How often a blocked Save retries the job's file lock.
	lockRetryDelay = 50 * time.Millisecond
)

// FileRegistry stores each job at <root>/<name>/config.yml.
//
// Job always decodes a fresh copy from disk. Save serialises writers of the
// same job with an flock, and replaces the file atomically so that readers
// never see a partial write.
type FileRegistry struct {
	root string
}

// JobInfo describes a job on disk without decoding it.
type JobInfo struct {
	Name    string
	ModTime time.Time
}

func NewFileRegistry(root string) *FileRegistry {
	return &FileRegistry{root: root}
}

// Root returns the directory jobs are stored in.
func (r *FileRegistry) Root() string {
	return r.root
}

func (r *FileRegistry) configPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobName, name)
	}
	return filepath.Join(r.root, name, configFileName), nil
}

func (r *FileRegistry) Job(_ context.Context, name string) (*Job, error) {
	path, err := r.configPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %q: %w", name, err)
	}

	job, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if job.Name != name {
		return nil, fmt.Errorf("job config at %q is named %q", path, job.Name)
	}
	return job, nil
}

func (r *FileRegistry) Save(ctx context.Context, job *Job) error {
	return r.write(ctx, job, false)
}

// Create writes a new job with no capabilities. It fails with ErrJobExists if
// the job is already there.
func (r *FileRegistry) Create(ctx context.Context, name, displayName string) (*Job, error) {
	job := NewJob(name, displayName)
	if err := r.write(ctx, job, true); err != nil {
		return nil, err
	}
	return job, nil
}

// write saves job while holding its file lock. With mustBeNew, the existence
// check happens under the same lock, so only one of several concurrent
// creates of a name succeeds.
func (r *FileRegistry) write(ctx context.Context, job *Job, mustBeNew bool) error {
	path, err := r.configPath(job.Name)
	if err != nil {
		return err
	}

	data, err := Marshal(job)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating job directory %q: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking job %q: %w", job.Name, err)
	}
	if !locked {
		return fmt.Errorf("locking job %q: lock not acquired", job.Name)
	}
	defer lock.Unlock() //nolint:errcheck // the lock is released when the fd closes anyway

	if mustBeNew && osutil.FileExists(path) {
		return fmt.Errorf("%w: %q", ErrJobExists, job.Name)
	}
	return osutil.WriteFileAtomic(path, data, 0o644)
}

// List returns every job under the root, sorted by name.
func (r *FileRegistry) List(_ context.Context) ([]JobInfo, error) {
	entries, err := os.ReadDir(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading jobs directory %q: %w", r.root, err)
	}

	var infos []JobInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := os.Stat(filepath.Join(r.root, e.Name(), configFileName))
		if err != nil {
			continue
		}
		infos = append(infos, JobInfo{Name: e.Name(), ModTime: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
