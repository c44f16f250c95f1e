// Package masking provides the mask-passwords capability: attached to a job,
// it filters the job's console log, replacing secret values with a mask.
//
// It is intended for internal use by mask-enroller only.
package masking

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/buildkite/mask-enroller/internal/jobs"
)

// Kind identifies the capability in job configuration.
const Kind = "mask-passwords"

// Mask replaces every secret in the console log.
const Mask = "********"

func init() {
	jobs.RegisterKind(Kind, func() jobs.Capability { return &Capability{} })
}

// VarPasswordPair is a named secret value to mask.
type VarPasswordPair struct {
	Var      string `yaml:"var"`
	Password string `yaml:"password"`
}

// VarMaskRegex masks anything matching Regex.
type VarMaskRegex struct {
	Regex string `yaml:"regex"`
}

// Capability is the mask-passwords capability. A Capability with no pairs and
// no regexes masks nothing yet, but its filter is in place and picks up
// secrets once they are configured.
type Capability struct {
	VarPasswordPairs []VarPasswordPair `yaml:"var_password_pairs,omitempty"`
	VarMaskRegexes   []VarMaskRegex    `yaml:"var_mask_regexes,omitempty"`
}

// New returns a capability with the given parameters. Both may be nil.
func New(pairs []VarPasswordPair, regexes []VarMaskRegex) *Capability {
	return &Capability{
		VarPasswordPairs: pairs,
		VarMaskRegexes:   regexes,
	}
}

func (*Capability) Kind() string { return Kind }

// Pattern compiles every non-empty password and regex into one expression.
// It returns nil when there is nothing to mask.
func (c *Capability) Pattern() (*regexp.Regexp, error) {
	var passwords []string
	for _, p := range c.VarPasswordPairs {
		if strings.TrimSpace(p.Password) != "" {
			passwords = append(passwords, p.Password)
		}
	}

	// Longer passwords first, so a password that contains another is masked
	// whole rather than leaving its tail visible.
	slices.SortStableFunc(passwords, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})

	var alts []string
	for _, p := range passwords {
		alts = append(alts, regexp.QuoteMeta(p))
	}
	for _, r := range c.VarMaskRegexes {
		if strings.TrimSpace(r.Regex) == "" {
			continue
		}
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid mask regex %q: %w", r.Regex, err)
		}
		// An empty match would put a mask between every byte of the log.
		if re.MatchString("") {
			return nil, fmt.Errorf("invalid mask regex %q: matches the empty string", r.Regex)
		}
		alts = append(alts, "(?:"+r.Regex+")")
	}

	if len(alts) == 0 {
		return nil, nil
	}
	return regexp.Compile(strings.Join(alts, "|"))
}

// maxPartialLine bounds how much output without a line break is held back.
const maxPartialLine = 64 * 1024

// DecorateLog returns a writer that masks secrets in everything written to
// it before passing it on to w, one line at a time. Both \n and \r end a
// line, so progress output isn't held back. Close flushes a trailing partial
// line.
func (c *Capability) DecorateLog(w io.Writer) (io.WriteCloser, error) {
	pattern, err := c.Pattern()
	if err != nil {
		return nil, err
	}
	return &lineFilter{dst: w, pattern: pattern}, nil
}

type lineFilter struct {
	mu      sync.Mutex
	dst     io.Writer
	pattern *regexp.Regexp
	partial []byte
}

func (f *lineFilter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.partial = append(f.partial, p...)
	end := bytes.LastIndexAny(f.partial, "\n\r")
	if end < 0 {
		if len(f.partial) < maxPartialLine {
			return len(p), nil
		}
		// A secret straddling this cut is not masked.
		end = len(f.partial) - 1
	}

	if err := f.emit(f.partial[:end+1]); err != nil {
		return 0, err
	}
	f.partial = append(f.partial[:0], f.partial[end+1:]...)
	return len(p), nil
}

func (f *lineFilter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.partial) == 0 {
		return nil
	}
	err := f.emit(f.partial)
	f.partial = f.partial[:0]
	return err
}

func (f *lineFilter) emit(lines []byte) error {
	if f.pattern != nil {
		lines = f.pattern.ReplaceAllLiteral(lines, []byte(Mask))
	}
	_, err := f.dst.Write(lines)
	return err
}
