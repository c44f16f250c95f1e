package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Build is one execution of a job.
type Build struct {
	ID        string
	Number    int
	JobName   string
	StartedAt time.Time
}

// NewBuild returns build number n of the named job, with a fresh ID.
func NewBuild(jobName string, n int) *Build {
	return &Build{
		ID:        uuid.NewString(),
		Number:    n,
		JobName:   jobName,
		StartedAt: time.Now(),
	}
}

func (b *Build) String() string {
	return fmt.Sprintf("%s #%d", b.JobName, b.Number)
}

// Launcher is where the build's processes run. Stages pass it along without
// looking inside.
type Launcher struct {
	Dir string
	Env []string
}

// LogDecorator is implemented by capabilities that filter the build's
// console log.
type LogDecorator interface {
	DecorateLog(w io.Writer) (io.WriteCloser, error)
}

// Listener is the build's console log. Writes go through every decorator
// applied so far.
type Listener struct {
	mu      sync.Mutex
	out     io.Writer
	closers []io.Closer
}

func NewListener(w io.Writer) *Listener {
	return &Listener{out: w}
}

// Decorate routes the console through d from now on.
func (l *Listener) Decorate(d LogDecorator) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	wc, err := d.DecorateLog(l.out)
	if err != nil {
		return err
	}
	l.out = wc
	l.closers = append(l.closers, wc)
	return nil
}

func (l *Listener) Write(p []byte) (int, error) {
	l.mu.Lock()
	out := l.out
	l.mu.Unlock()
	return out.Write(p)
}

// Printf writes a line to the console.
func (l *Listener) Printf(format string, v ...any) {
	fmt.Fprintf(l, format+"\n", v...)
}

// Close flushes decorators, outermost first.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}
