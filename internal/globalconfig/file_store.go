package globalconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/buildkite/mask-enroller/internal/osutil"
	"github.com/buildkite/mask-enroller/logger"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileStore keeps the global config in a YAML file and serves reads from
// memory. A missing file means the defaults (disabled).
//
// If a reload fails, EnabledGlobally returns that error until a later reload
// succeeds, so a broken config is never mistaken for "disabled".
type FileStore struct {
	path string

	mu      sync.RWMutex
	config  Config
	loadErr error
}

// Open loads the config at path.
func Open(path string) (*FileStore, error) {
	s := NewFileStore(path)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFileStore returns a store for path holding the defaults, without
// reading the file.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) EnabledGlobally(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return false, s.loadErr
	}
	return s.config.EnabledGlobally, nil
}

// Config returns the config as last loaded.
func (s *FileStore) Config() (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.loadErr
}

// Reload reads the file again. The read happens under the store's lock, so
// a reload can't replace a newer value written by SetEnabledGlobally with
// what it read before the write.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := readConfig(s.path)
	s.loadErr = err
	if err == nil {
		s.config = cfg
	}
	return err
}

// SetEnabledGlobally writes the new value to the file, then updates memory.
func (s *FileStore) SetEnabledGlobally(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.config
	cfg.EnabledGlobally = enabled

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding global config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := osutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return err
	}

	s.config = cfg
	s.loadErr = nil
	return nil
}

// Watch reloads the config whenever the file changes, until ctx is done.
// The parent directory is watched because editors and WriteFileAtomic
// replace the file rather than writing to it.
func (s *FileStore) Watch(ctx context.Context, l logger.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck // nothing useful to do with it

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %q: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if err := s.Reload(); err != nil {
				l.Error("Reloading global config %q: %v", s.path, err)
				continue
			}
			enabled, _ := s.EnabledGlobally(ctx)
			l.Info("Reloaded global config %q (enabled globally: %t)", s.path, enabled)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.Warn("Global config watcher: %v", err)
		}
	}
}

func readConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading global config %q: %w", path, err)
	}

	// Unknown keys are errors: a misspelt enabled_globally must not read as
	// disabled.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing global config %q: %w", path, err)
	}
	return cfg, nil
}
