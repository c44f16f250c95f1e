package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

type envCapability struct {
	Vars map[string]string `yaml:"vars,omitempty"`
}

func (*envCapability) Kind() string { return "test-env" }

func init() {
	RegisterKind("test-env", func() Capability { return &envCapability{} })
}

func kindsOf(caps []Capability) []string {
	var ks []string
	for _, c := range caps {
		ks = append(ks, c.Kind())
	}
	return ks
}

func TestJobCapabilitiesIsACopy(t *testing.T) {
	t.Parallel()

	j := NewJob("llamas", "")
	j.AddCapability(&envCapability{})

	caps := j.Capabilities()
	caps[0] = nil

	if got := j.Capabilities()[0]; got == nil {
		t.Errorf("mutating the returned slice changed the job")
	}
	if got, want := j.FullDisplayName(), "llamas"; got != want {
		t.Errorf("j.FullDisplayName() = %q, want %q", got, want)
	}
}

func TestJobAddCapabilityConcurrent(t *testing.T) {
	t.Parallel()

	j := NewJob("llamas", "Llamas")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.AddCapability(&envCapability{})
		}()
	}
	wg.Wait()

	if got := len(j.Capabilities()); got != 50 {
		t.Errorf("len(j.Capabilities()) = %d, want 50", got)
	}
}

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j := NewJob("llamas", "")
	r := NewMemoryRegistry(j)

	got, err := r.Job(ctx, "llamas")
	if err != nil {
		t.Fatalf("r.Job(llamas) error = %v", err)
	}
	if got != j {
		t.Errorf("r.Job(llamas) returned a different *Job")
	}

	if _, err := r.Job(ctx, "alpacas"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("r.Job(alpacas) error = %v, want ErrJobNotFound", err)
	}

	if err := r.Save(ctx, j); err != nil {
		t.Fatalf("r.Save(llamas) error = %v", err)
	}
	if err := r.Save(ctx, j); err != nil {
		t.Fatalf("r.Save(llamas) error = %v", err)
	}
	if got, want := r.SaveCount("llamas"), 2; got != want {
		t.Errorf("r.SaveCount(llamas) = %d, want %d", got, want)
	}
	if got := r.SaveCount("alpacas"); got != 0 {
		t.Errorf("r.SaveCount(alpacas) = %d, want 0", got)
	}
}

func TestMarshalUnmarshalKeepsUnknownKinds(t *testing.T) {
	t.Parallel()

	in := `name: llamas
display_name: Llamas
capabilities:
  - kind: test-env
    config:
      vars:
        FOO: bar
  - kind: timestamper
    config:
      format: "%H:%M"
      elapsed: true
`
	j, err := Unmarshal([]byte(in))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if diff := cmp.Diff([]string{"test-env", "timestamper"}, kindsOf(j.Capabilities())); diff != "" {
		t.Errorf("capability kinds diff (-want +got):\n%s", diff)
	}
	env, ok := j.Capabilities()[0].(*envCapability)
	if !ok {
		t.Fatalf("capability 0 is %T, want *envCapability", j.Capabilities()[0])
	}
	if got, want := env.Vars["FOO"], "bar"; got != want {
		t.Errorf("env.Vars[FOO] = %q, want %q", got, want)
	}
	if _, ok := j.Capabilities()[1].(*Unknown); !ok {
		t.Fatalf("capability 1 is %T, want *Unknown", j.Capabilities()[1])
	}

	out, err := Marshal(j)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{"kind: timestamper", "%H:%M", "elapsed: true", "FOO: bar"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("Marshal() output missing %q:\n%s", want, out)
		}
	}
}

func TestUnmarshalErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not yaml":       "name: [",
		"missing name":   "capabilities: []",
		"missing kind":   "name: x\ncapabilities:\n  - config: {}\n",
		"bad known kind": "name: x\ncapabilities:\n  - kind: test-env\n    config:\n      vars: [1, 2]\n",
	}
	for name, in := range tests {
		if _, err := Unmarshal([]byte(in)); err == nil {
			t.Errorf("%s: Unmarshal(%q) error = nil, want error", name, in)
		}
	}
}

func TestFileRegistryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewFileRegistry(t.TempDir())

	created, err := r.Create(ctx, "llamas", "Llamas")
	if err != nil {
		t.Fatalf("r.Create(llamas) error = %v", err)
	}
	if _, err := r.Create(ctx, "llamas", "Llamas"); !errors.Is(err, ErrJobExists) {
		t.Errorf("second r.Create(llamas) error = %v, want ErrJobExists", err)
	}

	created.AddCapability(&envCapability{Vars: map[string]string{"A": "1"}})
	if err := r.Save(ctx, created); err != nil {
		t.Fatalf("r.Save(llamas) error = %v", err)
	}

	loaded, err := r.Job(ctx, "llamas")
	if err != nil {
		t.Fatalf("r.Job(llamas) error = %v", err)
	}
	if loaded == created {
		t.Errorf("r.Job(llamas) returned the saved pointer, want a fresh decode")
	}
	if got, want := loaded.DisplayName, "Llamas"; got != want {
		t.Errorf("loaded.DisplayName = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]Capability{&envCapability{Vars: map[string]string{"A": "1"}}}, loaded.Capabilities()); diff != "" {
		t.Errorf("loaded capabilities diff (-want +got):\n%s", diff)
	}

	infos, err := r.List(ctx)
	if err != nil {
		t.Fatalf("r.List() error = %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "llamas" {
		t.Errorf("r.List() = %v, want one job named llamas", infos)
	}
}

func TestFileRegistryErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	r := NewFileRegistry(root)

	if _, err := r.Job(ctx, "ghost"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("r.Job(ghost) error = %v, want ErrJobNotFound", err)
	}

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := r.Job(ctx, name); !errors.Is(err, ErrInvalidJobName) {
			t.Errorf("r.Job(%q) error = %v, want ErrInvalidJobName", name, err)
		}
		if err := r.Save(ctx, NewJob(name, "")); !errors.Is(err, ErrInvalidJobName) {
			t.Errorf("r.Save(%q) error = %v, want ErrInvalidJobName", name, err)
		}
	}

	// A config whose name doesn't match its directory is rejected.
	dir := filepath.Join(root, "impostor")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("os.MkdirAll(%q) error = %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("name: llamas\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile error = %v", err)
	}
	if _, err := r.Job(ctx, "impostor"); err == nil {
		t.Errorf("r.Job(impostor) error = nil, want error")
	}
}

func TestFileRegistryConcurrentSaves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewFileRegistry(t.TempDir())

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			return r.Save(ctx, NewJob("llamas", "", &envCapability{}))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent r.Save() error = %v", err)
	}

	loaded, err := r.Job(ctx, "llamas")
	if err != nil {
		t.Fatalf("r.Job(llamas) error = %v", err)
	}
	if got := len(loaded.Capabilities()); got != 1 {
		t.Errorf("len(loaded.Capabilities()) = %d, want 1", got)
	}
}

func TestFileRegistryConcurrentCreates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewFileRegistry(t.TempDir())

	var (
		mu      sync.Mutex
		created []string
		g       errgroup.Group
	)
	for i := range 10 {
		display := fmt.Sprintf("Llamas %d", i)
		g.Go(func() error {
			_, err := r.Create(ctx, "llamas", display)
			if errors.Is(err, ErrJobExists) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			created = append(created, display)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent r.Create() error = %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("r.Create() succeeded %d times, want 1: %v", len(created), created)
	}

	loaded, err := r.Job(ctx, "llamas")
	if err != nil {
		t.Fatalf("r.Job(llamas) error = %v", err)
	}
	if loaded.DisplayName != created[0] {
		t.Errorf("loaded.DisplayName = %q, want the winning create's %q", loaded.DisplayName, created[0])
	}
}
