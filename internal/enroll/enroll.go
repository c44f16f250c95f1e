// Package enroll provides the auto-enrollment set-up stage: when masking is
// enabled globally, it makes sure every job that starts a build has the
// mask-passwords capability, adding and saving it if it's missing.
//
// The stage is fail-secure. If the global config can't be read, the job can't
// be resolved or the job can't be saved, the error is returned unchanged and
// the build fails, rather than running with an unmasked log.
//
// It is intended for internal use by mask-enroller only.
package enroll

import (
	"context"
	"sync"

	"github.com/buildkite/mask-enroller/internal/globalconfig"
	"github.com/buildkite/mask-enroller/internal/jobs"
	"github.com/buildkite/mask-enroller/internal/masking"
	"github.com/buildkite/mask-enroller/internal/pipeline"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/puzpuzpuz/xsync/v2"
)

// StageName is the name the hook registers under.
const StageName = "mask-passwords-auto-enroll"

// Hook is the auto-enrollment pipeline stage.
type Hook struct {
	config  globalconfig.Store
	jobs    jobs.Registry
	logger  logger.Logger
	metrics *Metrics

	lockJobs bool
	jobLocks *xsync.MapOf[string, *jobLock]
}

// jobLock is a mutex shared by the builds of one job. refs counts builds
// holding or waiting for it, and is only changed inside jobLocks.Compute; the
// entry is removed when it drops to zero.
type jobLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Hook)

func WithLogger(l logger.Logger) Option {
	return func(h *Hook) { h.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hook) { h.metrics = m }
}

// WithJobLocking controls whether concurrent builds of the same job are
// serialised while the hook checks and updates the job. It is on by default.
// With it off, two builds that both find the capability missing will both
// add it and save.
func WithJobLocking(enabled bool) Option {
	return func(h *Hook) { h.lockJobs = enabled }
}

// New returns a hook reading the global switch from cfg and jobs from reg.
func New(cfg globalconfig.Store, reg jobs.Registry, opts ...Option) *Hook {
	h := &Hook{
		config:   cfg,
		jobs:     reg,
		logger:   logger.Discard,
		metrics:  DefaultMetrics,
		lockJobs: true,
		jobLocks: xsync.NewMapOf[*jobLock](),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hook) Name() string { return StageName }

// Priority puts the hook before every other set-up stage, so that a
// capability it adds is already in place when the job's own set-up runs.
func (h *Hook) Priority() int { return pipeline.PriorityHighest }

// SetUpEnvironment enrolls the build's job if needed, then continues the
// pipeline with the same arguments and returns what the rest of the pipeline
// returns.
func (h *Hook) SetUpEnvironment(ctx context.Context, build *pipeline.Build, launcher *pipeline.Launcher, listener *pipeline.Listener, next pipeline.Next) (pipeline.Environment, error) {
	enabled, err := h.config.EnabledGlobally(ctx)
	if err != nil {
		h.metrics.observe(outcomeError)
		return nil, err
	}
	if !enabled {
		h.logger.Debug("Mask passwords auto-enrollment is not enabled globally")
		h.metrics.observe(outcomeDisabled)
		return next(ctx, build, launcher, listener)
	}

	if err := h.ensureEnrolled(ctx, build); err != nil {
		h.metrics.observe(outcomeError)
		return nil, err
	}

	return next(ctx, build, launcher, listener)
}

func (h *Hook) ensureEnrolled(ctx context.Context, build *pipeline.Build) error {
	if h.lockJobs {
		unlock := h.lockJob(build.JobName)
		defer unlock()
	}

	job, err := h.jobs.Job(ctx, build.JobName)
	if err != nil {
		return err
	}

	if job.HasCapability(IsMasking) {
		h.logger.Debug("Build %s of job %s already has %s; doing nothing", build, job.FullDisplayName(), masking.Kind)
		h.metrics.observe(outcomePresent)
		return nil
	}

	h.logger.Info("Build %s of job %s does not have %s; adding it", build, job.FullDisplayName(), masking.Kind)
	job.AddCapability(masking.New(nil, nil))
	if err := h.jobs.Save(ctx, job); err != nil {
		return err
	}
	h.metrics.observe(outcomeInjected)
	return nil
}

func (h *Hook) lockJob(name string) (unlock func()) {
	l, _ := h.jobLocks.Compute(name, func(l *jobLock, loaded bool) (*jobLock, bool) {
		if !loaded {
			l = &jobLock{}
		}
		l.refs++
		return l, false
	})
	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		h.jobLocks.Compute(name, func(l *jobLock, _ bool) (*jobLock, bool) {
			l.refs--
			return l, l.refs == 0
		})
	}
}

// IsMasking reports whether c is exactly the mask-passwords capability.
// Other capabilities are not considered, even ones that also mask output.
func IsMasking(c jobs.Capability) bool {
	_, ok := c.(*masking.Capability)
	return ok
}
