// Package globalconfig provides the process-wide switch that turns automatic
// mask-passwords enrollment on and off.
//
// It is intended for internal use by mask-enroller only.
package globalconfig

import (
	"context"
	"sync/atomic"
)

// Config is the global configuration as stored on disk.
type Config struct {
	EnabledGlobally bool `yaml:"enabled_globally"`
}

// Store answers whether masking is enabled globally. Reads have no side
// effects.
type Store interface {
	EnabledGlobally(ctx context.Context) (bool, error)
}

// Static is an in-memory Store.
type Static struct {
	enabled atomic.Bool
}

func NewStatic(enabled bool) *Static {
	s := &Static{}
	s.enabled.Store(enabled)
	return s
}

func (s *Static) EnabledGlobally(context.Context) (bool, error) {
	return s.enabled.Load(), nil
}

func (s *Static) SetEnabledGlobally(enabled bool) {
	s.enabled.Store(enabled)
}
