// Package pipeline runs the set-up stages of a build in priority order.
//
// Each stage receives the build, its launcher and its console listener, and a
// Next function that continues the pipeline. A stage must call Next exactly
// once (or fail), and normally returns what Next returned. After the last
// stage, the build's job is resolved and its own capabilities are set up.
//
// It is intended for internal use by mask-enroller only.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/buildkite/mask-enroller/internal/jobs"
	"github.com/buildkite/mask-enroller/logger"
)

// Priority bands. Stages with a higher priority run first.
const (
	PriorityHighest = 1000
	PriorityDefault = 0
	PriorityLowest  = -1000
)

var (
	ErrNextCalledTwice = errors.New("stage continued the pipeline more than once")
	ErrNextNotCalled   = errors.New("stage returned without continuing the pipeline")
)

// Next continues the pipeline after the current stage.
type Next func(ctx context.Context, build *Build, launcher *Launcher, listener *Listener) (Environment, error)

// Stage is one step of build environment set-up.
type Stage interface {
	Name() string
	Priority() int
	SetUpEnvironment(ctx context.Context, build *Build, launcher *Launcher, listener *Listener, next Next) (Environment, error)
}

// Wrapper is implemented by capabilities that set something up for the
// duration of a build.
type Wrapper interface {
	SetUp(ctx context.Context, build *Build, launcher *Launcher, listener *Listener) (Environment, error)
}

// Pipeline holds the registered stages.
type Pipeline struct {
	jobs   jobs.Registry
	logger logger.Logger

	mu     sync.RWMutex
	stages []Stage
}

func New(reg jobs.Registry, l logger.Logger) *Pipeline {
	return &Pipeline{
		jobs:   reg,
		logger: l,
	}
}

// Register adds a stage. Stages of equal priority run in the order they were
// registered.
func (p *Pipeline) Register(s Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := len(p.stages)
	for j, existing := range p.stages {
		if s.Priority() > existing.Priority() {
			i = j
			break
		}
	}
	p.stages = slices.Insert(p.stages, i, s)
}

// Stages returns the registered stages in the order they run.
func (p *Pipeline) Stages() []Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.stages)
}

// SetUp runs every stage and then sets up the job's capabilities. Errors from
// stages are returned as they are, so the caller sees the original failure.
func (p *Pipeline) SetUp(ctx context.Context, build *Build, launcher *Launcher, listener *Listener) (Environment, error) {
	return p.next(p.Stages(), 0)(ctx, build, launcher, listener)
}

func (p *Pipeline) next(stages []Stage, i int) Next {
	if i == len(stages) {
		return p.setUpJob
	}

	return func(ctx context.Context, build *Build, launcher *Launcher, listener *Listener) (Environment, error) {
		stage := stages[i]
		p.logger.Debug("Running set-up stage %q for %s", stage.Name(), build)

		calls := 0
		rest := p.next(stages, i+1)
		next := func(ctx context.Context, build *Build, launcher *Launcher, listener *Listener) (Environment, error) {
			calls++
			if calls > 1 {
				return nil, fmt.Errorf("%q: %w", stage.Name(), ErrNextCalledTwice)
			}
			return rest(ctx, build, launcher, listener)
		}

		env, err := stage.SetUpEnvironment(ctx, build, launcher, listener, next)
		if err != nil {
			return nil, err
		}
		if calls == 0 {
			return nil, fmt.Errorf("%q: %w", stage.Name(), ErrNextNotCalled)
		}
		if env == nil {
			env = NoopEnvironment{}
		}
		return env, nil
	}
}

// setUpJob is the end of the pipeline: it applies the capabilities configured
// on the build's job.
func (p *Pipeline) setUpJob(ctx context.Context, build *Build, launcher *Launcher, listener *Listener) (Environment, error) {
	job, err := p.jobs.Job(ctx, build.JobName)
	if err != nil {
		return nil, err
	}

	var envs []Environment
	for _, c := range job.Capabilities() {
		if d, ok := c.(LogDecorator); ok {
			p.logger.Debug("Decorating console of %s with %s", build, c.Kind())
			if err := listener.Decorate(d); err != nil {
				return nil, p.abort(ctx, build, listener, envs, fmt.Errorf("decorating console with %s: %w", c.Kind(), err))
			}
		}
		if w, ok := c.(Wrapper); ok {
			env, err := w.SetUp(ctx, build, launcher, listener)
			if err != nil {
				return nil, p.abort(ctx, build, listener, envs, fmt.Errorf("setting up %s: %w", c.Kind(), err))
			}
			envs = append(envs, env)
		}
	}

	return Compose(envs...), nil
}

// abort tears down whatever was already set up before returning err.
func (p *Pipeline) abort(ctx context.Context, build *Build, listener *Listener, envs []Environment, err error) error {
	if tdErr := Compose(envs...).TearDown(ctx, build, listener); tdErr != nil {
		p.logger.Warn("Tearing down after failed set-up of %s: %v", build, tdErr)
	}
	return err
}
