package pipeline

import (
	"context"
	"errors"
)

// Environment is what a set-up stage leaves behind for the end of the build.
type Environment interface {
	TearDown(ctx context.Context, build *Build, listener *Listener) error
}

// NoopEnvironment has nothing to tear down.
type NoopEnvironment struct{}

func (NoopEnvironment) TearDown(context.Context, *Build, *Listener) error { return nil }

// EnvironmentFunc adapts a function to an Environment.
type EnvironmentFunc func(ctx context.Context, build *Build, listener *Listener) error

func (f EnvironmentFunc) TearDown(ctx context.Context, build *Build, listener *Listener) error {
	return f(ctx, build, listener)
}

// Compose returns an Environment that tears down envs in reverse order. Every
// environment is torn down even if an earlier one fails.
func Compose(envs ...Environment) Environment {
	var nonNil []Environment
	for _, e := range envs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return NoopEnvironment{}
	case 1:
		return nonNil[0]
	}
	return composite(nonNil)
}

type composite []Environment

func (c composite) TearDown(ctx context.Context, build *Build, listener *Listener) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].TearDown(ctx, build, listener); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
