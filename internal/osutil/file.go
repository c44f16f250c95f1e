// Package osutil provides small filesystem helpers shared by the job
// registry, the global config store and the config loader.
package osutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileExists returns whether or not a file exists on the filesystem. Any
// error from os.Stat counts as "doesn't exist".
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path. Readers see either the old or the new contents.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // the write error is more useful
		return fmt.Errorf("writing %q: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // the sync error is more useful
		return fmt.Errorf("syncing %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod %q: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %q to %q: %w", tmp.Name(), path, err)
	}
	return nil
}

// UserHomeDir is similar to os.UserHomeDir, but prefers $HOME when available.
func UserHomeDir() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	return os.UserHomeDir()
}

// NormalizeFilePath expands environment variables and a leading "~", then
// makes the path absolute. An empty path stays empty.
func NormalizeFilePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	path = os.ExpandEnv(path)

	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}

	return filepath.Abs(path)
}
