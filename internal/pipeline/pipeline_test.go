package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/buildkite/mask-enroller/internal/jobs"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/google/go-cmp/cmp"
)

// recordingStage appends its name to a shared trace and continues.
type recordingStage struct {
	name     string
	priority int
	trace    *[]string
	setUp    func(ctx context.Context, b *Build, la *Launcher, li *Listener, next Next) (Environment, error)
}

func (s *recordingStage) Name() string  { return s.name }
func (s *recordingStage) Priority() int { return s.priority }

func (s *recordingStage) SetUpEnvironment(ctx context.Context, b *Build, la *Launcher, li *Listener, next Next) (Environment, error) {
	*s.trace = append(*s.trace, s.name)
	if s.setUp != nil {
		return s.setUp(ctx, b, la, li, next)
	}
	return next(ctx, b, la, li)
}

// upperCapability upper-cases the console and records set-up and tear-down.
type upperCapability struct {
	trace   *[]string
	failing bool
}

func (*upperCapability) Kind() string { return "upper" }

func (c *upperCapability) DecorateLog(w io.Writer) (io.WriteCloser, error) {
	return nopCloser{upperWriter{w}}, nil
}

func (c *upperCapability) SetUp(context.Context, *Build, *Launcher, *Listener) (Environment, error) {
	if c.failing {
		return nil, errors.New("upper exploded")
	}
	*c.trace = append(*c.trace, "upper set up")
	return EnvironmentFunc(func(context.Context, *Build, *Listener) error {
		*c.trace = append(*c.trace, "upper torn down")
		return nil
	}), nil
}

type upperWriter struct{ w io.Writer }

func (u upperWriter) Write(p []byte) (int, error) {
	return u.w.Write(bytes.ToUpper(p))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type teardownCapability struct {
	name  string
	trace *[]string
}

func (c *teardownCapability) Kind() string { return c.name }

func (c *teardownCapability) SetUp(context.Context, *Build, *Launcher, *Listener) (Environment, error) {
	*c.trace = append(*c.trace, c.name+" set up")
	return EnvironmentFunc(func(context.Context, *Build, *Listener) error {
		*c.trace = append(*c.trace, c.name+" torn down")
		return nil
	}), nil
}

func newTestPipeline(job *jobs.Job) *Pipeline {
	return New(jobs.NewMemoryRegistry(job), logger.NewBuffer())
}

func TestStagesRunInPriorityOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	p := newTestPipeline(jobs.NewJob("llamas", ""))
	p.Register(&recordingStage{name: "default-1", priority: PriorityDefault, trace: &trace})
	p.Register(&recordingStage{name: "lowest", priority: PriorityLowest, trace: &trace})
	p.Register(&recordingStage{name: "highest", priority: PriorityHighest, trace: &trace})
	p.Register(&recordingStage{name: "default-2", priority: PriorityDefault, trace: &trace})

	env, err := p.SetUp(context.Background(), NewBuild("llamas", 1), &Launcher{}, NewListener(io.Discard))
	if err != nil {
		t.Fatalf("p.SetUp() error = %v", err)
	}
	if env == nil {
		t.Fatalf("p.SetUp() env = nil")
	}

	if diff := cmp.Diff([]string{"highest", "default-1", "default-2", "lowest"}, trace); diff != "" {
		t.Errorf("stage order diff (-want +got):\n%s", diff)
	}
}

func TestStageErrorIsReturnedUnwrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var trace []string
	p := newTestPipeline(jobs.NewJob("llamas", ""))
	p.Register(&recordingStage{name: "first", priority: PriorityHighest, trace: &trace,
		setUp: func(context.Context, *Build, *Launcher, *Listener, Next) (Environment, error) {
			return nil, boom
		},
	})
	p.Register(&recordingStage{name: "second", trace: &trace})

	_, err := p.SetUp(context.Background(), NewBuild("llamas", 1), &Launcher{}, NewListener(io.Discard))
	if err != boom {
		t.Errorf("p.SetUp() error = %v, want exactly %v", err, boom)
	}
	if diff := cmp.Diff([]string{"first"}, trace); diff != "" {
		t.Errorf("stages run diff (-want +got):\n%s", diff)
	}
}

func TestStageMustContinueExactlyOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setUp func(ctx context.Context, b *Build, la *Launcher, li *Listener, next Next) (Environment, error)
		want  error
	}{
		{
			name: "never",
			setUp: func(context.Context, *Build, *Launcher, *Listener, Next) (Environment, error) {
				return NoopEnvironment{}, nil
			},
			want: ErrNextNotCalled,
		},
		{
			name: "twice",
			setUp: func(ctx context.Context, b *Build, la *Launcher, li *Listener, next Next) (Environment, error) {
				if _, err := next(ctx, b, la, li); err != nil {
					return nil, err
				}
				return next(ctx, b, la, li)
			},
			want: ErrNextCalledTwice,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			var trace []string
			p := newTestPipeline(jobs.NewJob("llamas", ""))
			p.Register(&recordingStage{name: test.name, trace: &trace, setUp: test.setUp})

			_, err := p.SetUp(context.Background(), NewBuild("llamas", 1), &Launcher{}, NewListener(io.Discard))
			if !errors.Is(err, test.want) {
				t.Errorf("p.SetUp() error = %v, want %v", err, test.want)
			}
		})
	}
}

func TestJobResolutionFailureIsReturnedAsIs(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(jobs.NewJob("llamas", ""))
	_, err := p.SetUp(context.Background(), NewBuild("alpacas", 1), &Launcher{}, NewListener(io.Discard))
	if !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("p.SetUp() error = %v, want ErrJobNotFound", err)
	}
}

func TestJobCapabilitiesAreSetUpAndTornDown(t *testing.T) {
	t.Parallel()

	var trace []string
	job := jobs.NewJob("llamas", "",
		&teardownCapability{name: "first", trace: &trace},
		&upperCapability{trace: &trace},
		&teardownCapability{name: "last", trace: &trace},
	)
	p := newTestPipeline(job)

	var console bytes.Buffer
	listener := NewListener(&console)
	build := NewBuild("llamas", 1)

	env, err := p.SetUp(context.Background(), build, &Launcher{}, listener)
	if err != nil {
		t.Fatalf("p.SetUp() error = %v", err)
	}

	listener.Printf("hello %s", "llamas")
	if got, want := console.String(), "HELLO LLAMAS\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}

	if err := env.TearDown(context.Background(), build, listener); err != nil {
		t.Fatalf("env.TearDown() error = %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("listener.Close() error = %v", err)
	}

	want := []string{
		"first set up", "upper set up", "last set up",
		"last torn down", "upper torn down", "first torn down",
	}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace diff (-want +got):\n%s", diff)
	}
}

func TestFailedCapabilitySetUpTearsDownEarlierOnes(t *testing.T) {
	t.Parallel()

	var trace []string
	job := jobs.NewJob("llamas", "",
		&teardownCapability{name: "first", trace: &trace},
		&upperCapability{trace: &trace, failing: true},
	)
	p := newTestPipeline(job)

	_, err := p.SetUp(context.Background(), NewBuild("llamas", 1), &Launcher{}, NewListener(io.Discard))
	if err == nil || !strings.Contains(err.Error(), "upper exploded") {
		t.Fatalf("p.SetUp() error = %v, want the capability's failure", err)
	}

	if diff := cmp.Diff([]string{"first set up", "first torn down"}, trace); diff != "" {
		t.Errorf("trace diff (-want +got):\n%s", diff)
	}
}

func TestComposeTearsDownEverythingInReverse(t *testing.T) {
	t.Parallel()

	var trace []string
	envFor := func(name string, err error) Environment {
		return EnvironmentFunc(func(context.Context, *Build, *Listener) error {
			trace = append(trace, name)
			return err
		})
	}

	boom := errors.New("boom")
	env := Compose(envFor("a", nil), nil, envFor("b", boom), envFor("c", nil))

	err := env.TearDown(context.Background(), NewBuild("llamas", 1), NewListener(io.Discard))
	if !errors.Is(err, boom) {
		t.Errorf("TearDown() error = %v, want %v", err, boom)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, trace); diff != "" {
		t.Errorf("trace diff (-want +got):\n%s", diff)
	}

	if _, ok := Compose().(NoopEnvironment); !ok {
		t.Errorf("Compose() = %T, want NoopEnvironment", Compose())
	}
}
