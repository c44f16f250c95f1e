package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v2"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already exists")
	ErrInvalidJobName = errors.New("invalid job name")
)

// Registry resolves jobs by name and persists them.
type Registry interface {
	// Job returns the job called name.
	Job(ctx context.Context, name string) (*Job, error)

	// Save durably writes the job's current configuration.
	Save(ctx context.Context, job *Job) error
}

// MemoryRegistry keeps jobs in memory. Job returns the same *Job on every
// call, so callers share and mutate one instance, the way a CI host shares
// its loaded job objects.
type MemoryRegistry struct {
	jobs  *xsync.MapOf[string, *Job]
	saves *xsync.MapOf[string, int]
}

func NewMemoryRegistry(jobs ...*Job) *MemoryRegistry {
	r := &MemoryRegistry{
		jobs:  xsync.NewMapOf[*Job](),
		saves: xsync.NewMapOf[int](),
	}
	for _, j := range jobs {
		r.jobs.Store(j.Name, j)
	}
	return r
}

func (r *MemoryRegistry) Job(_ context.Context, name string) (*Job, error) {
	j, ok := r.jobs.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return j, nil
}

func (r *MemoryRegistry) Save(_ context.Context, job *Job) error {
	r.jobs.Store(job.Name, job)
	r.saves.Compute(job.Name, func(n int, _ bool) (int, bool) {
		return n + 1, false
	})
	return nil
}

// SaveCount reports how many times the named job has been saved.
func (r *MemoryRegistry) SaveCount(name string) int {
	n, _ := r.saves.Load(name)
	return n
}
