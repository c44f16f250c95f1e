package cliconfig

import (
	"fmt"

	"github.com/buildkite/mask-enroller/internal/osutil"
	"github.com/joho/godotenv"
)

// File is a key/value config file. Lines are "key=value" or "key: value";
// "#" starts a comment.
type File struct {
	// The path to the file
	Path string

	// A map of key/values that was loaded from the file
	Config map[string]string
}

func (f *File) Load() error {
	absolutePath, err := f.AbsolutePath()
	if err != nil {
		return fmt.Errorf("getting absolute path for %s: %w", f.Path, err)
	}

	config, err := godotenv.Read(absolutePath)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", f.Path, err)
	}
	f.Config = config
	return nil
}

func (f File) AbsolutePath() (string, error) {
	return osutil.NormalizeFilePath(f.Path)
}

func (f File) Exists() bool {
	absolutePath, err := f.AbsolutePath()
	if err != nil {
		return false
	}
	return osutil.FileExists(absolutePath)
}
