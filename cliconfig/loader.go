// Package cliconfig loads command configuration from CLI flags, environment
// variables and a config file, into structs tagged with `cli:"flag-name"`.
//
// Flags set on the command line or through their environment variable win
// over the config file, which wins over flag defaults.
//
// Supported tags besides `cli`:
//
//	normalize:"filepath"  expand ~ and env vars, make absolute
//	validate:"required"   error if the value is empty
//	label:"..."           name used in validation errors
//
// It is intended for internal use by mask-enroller only.
package cliconfig

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/buildkite/mask-enroller/internal/osutil"
	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
)

type Loader struct {
	// The context that is passed when using a urfave/cli action
	CLI *cli.Context

	// The struct that the config values will be loaded into
	Config any

	// A slice of paths to files that should be used as config files
	DefaultConfigFilePaths []string

	// The file that was used when loading this configuration
	File *File
}

// Load finds and reads a config file, then sets every tagged field.
func (l *Loader) Load() (warnings []string, err error) {
	if path := l.CLI.String("config"); path != "" {
		file := File{Path: path}

		// An explicitly requested file must exist.
		if !file.Exists() {
			absolutePath, _ := file.AbsolutePath()
			return warnings, fmt.Errorf("a configuration file could not be found at: %q", absolutePath)
		}
		l.File = &file
	} else {
		for _, path := range l.DefaultConfigFilePaths {
			file := File{Path: path}
			if file.Exists() {
				l.File = &file
				break
			}
		}
	}

	if l.File != nil {
		if err := l.File.Load(); err != nil {
			return warnings, fmt.Errorf("loading config file: %w", err)
		}
	}

	fields, err := reflections.FieldsDeep(l.Config)
	if err != nil {
		return warnings, fmt.Errorf("listing config fields: %w", err)
	}

	for _, fieldName := range fields {
		cliName, _ := reflections.GetFieldTag(l.Config, fieldName, "cli")
		if cliName == "" {
			continue
		}

		if err := l.setFieldValueFromCLI(fieldName, cliName); err != nil {
			return warnings, fmt.Errorf("setting config field %s: %w", fieldName, err)
		}

		if normalization, _ := reflections.GetFieldTag(l.Config, fieldName, "normalize"); normalization != "" {
			if err := l.normalizeField(fieldName, normalization); err != nil {
				return warnings, fmt.Errorf("normalizing config field %s: %w", fieldName, err)
			}
		}

		if rules, _ := reflections.GetFieldTag(l.Config, fieldName, "validate"); rules != "" {
			label, _ := reflections.GetFieldTag(l.Config, fieldName, "label")
			if label == "" {
				label = cliName
			}
			if err := l.validateField(fieldName, label, rules); err != nil {
				return warnings, err
			}
		}
	}

	if l.File != nil {
		for key := range l.File.Config {
			if !l.hasCLIName(fields, key) {
				warnings = append(warnings, fmt.Sprintf("Unknown option %q in config file %s", key, l.File.Path))
			}
		}
	}

	return warnings, nil
}

func (l Loader) hasCLIName(fields []string, name string) bool {
	for _, fieldName := range fields {
		if cliName, _ := reflections.GetFieldTag(l.Config, fieldName, "cli"); cliName == name {
			return true
		}
	}
	return false
}

func (l Loader) setFieldValueFromCLI(fieldName, cliName string) error {
	fieldKind, err := reflections.GetFieldKind(l.Config, fieldName)
	if err != nil {
		return fmt.Errorf("getting the kind of struct field %q: %w", fieldName, err)
	}

	var value any

	// Start with the config file's value, converted to the field's type.
	if l.File != nil {
		if raw, ok := l.File.Config[cliName]; ok {
			switch fieldKind {
			case reflect.String:
				value = raw
			case reflect.Slice:
				value = strings.Split(raw, ",")
			case reflect.Bool:
				b, err := strconv.ParseBool(raw)
				if err != nil {
					return fmt.Errorf("config file value %q for %s is not a bool: %w", raw, cliName, err)
				}
				value = b
			case reflect.Int:
				n, err := strconv.Atoi(raw)
				if err != nil {
					return fmt.Errorf("config file value %q for %s is not an int: %w", raw, cliName, err)
				}
				value = n
			default:
				return fmt.Errorf("unable to convert string to type %s", fieldKind)
			}
		}
	}

	// The CLI context wins if the flag was set, and provides the default if
	// the config file had nothing.
	if value == nil || l.cliValueIsSet(cliName) {
		switch fieldKind {
		case reflect.String:
			value = l.CLI.String(cliName)
		case reflect.Slice:
			value = l.CLI.StringSlice(cliName)
		case reflect.Bool:
			value = l.CLI.Bool(cliName)
		case reflect.Int:
			value = l.CLI.Int(cliName)
		default:
			return fmt.Errorf("unable to handle type: %s", fieldKind)
		}
	}

	if err := reflections.SetField(l.Config, fieldName, value); err != nil {
		return fmt.Errorf("setting value field %q to %q: %w", fieldName, value, err)
	}
	return nil
}

func (l Loader) Errorf(format string, v ...any) error {
	suffix := fmt.Sprintf(" See: `%s %s --help`", l.CLI.App.Name, l.CLI.Command.Name)
	return fmt.Errorf(format+suffix, v...)
}

func (l Loader) cliValueIsSet(cliName string) bool {
	if l.CLI.IsSet(cliName) {
		return true
	}

	// IsSet only looks at the command line, so look up the flag's EnvVar
	// and check the environment too.
	for _, flag := range l.CLI.Command.Flags {
		name, _ := reflections.GetField(flag, "Name")
		envVar, _ := reflections.GetField(flag, "EnvVar")
		if name != cliName {
			continue
		}
		if s, ok := envVar.(string); ok && s != "" {
			for _, v := range strings.Split(s, ",") {
				if os.Getenv(strings.TrimSpace(v)) != "" {
					return true
				}
			}
		}
	}
	return false
}

func (l Loader) fieldValueIsEmpty(fieldName string) bool {
	value, _ := reflections.GetField(l.Config, fieldName)
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}

func (l Loader) validateField(fieldName, label, rules string) error {
	for rule := range strings.SplitSeq(rules, ",") {
		switch rule {
		case "required":
			if l.fieldValueIsEmpty(fieldName) {
				return l.Errorf("Missing %s.", label)
			}

		default:
			return fmt.Errorf("unknown config validation rule %q", rule)
		}
	}
	return nil
}

func (l Loader) normalizeField(fieldName, normalization string) error {
	switch normalization {
	case "filepath":
		value, _ := reflections.GetField(l.Config, fieldName)
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("filepath normalization only works on string fields")
		}
		normalized, err := osutil.NormalizeFilePath(s)
		if err != nil {
			return err
		}
		return reflections.SetField(l.Config, fieldName, normalized)

	default:
		return fmt.Errorf("unknown normalization %q", normalization)
	}
}
