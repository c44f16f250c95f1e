// Package logger provides the leveled, field-aware logger used across
// mask-enroller.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	nocolor   = "0"
	red       = "31"
	green     = "38;5;48"
	yellow    = "33"
	gray      = "38;5;251"
	lightgray = "38;5;243"
	cyan      = "1;36"
)

const DateFormat = "2006-01-02 15:04:05"

type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Notice(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
	Fatal(format string, v ...any)

	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	Level() Level
}

// Printer renders a single log line.
type Printer interface {
	Print(level Level, msg string, fields Fields)
}

// ConsoleLogger filters by level and hands lines to a Printer.
type ConsoleLogger struct {
	level   Level
	exitFn  func(int)
	fields  Fields
	printer Printer
}

// NewConsoleLogger returns a logger at NOTICE level. exitFn is called with 1
// after a Fatal line has been printed.
func NewConsoleLogger(printer Printer, exitFn func(int)) *ConsoleLogger {
	return &ConsoleLogger{
		level:   NOTICE,
		exitFn:  exitFn,
		printer: printer,
	}
}

// WithFields returns a copy of the logger carrying the extra fields.
func (l *ConsoleLogger) WithFields(fields ...Field) Logger {
	clone := *l
	clone.fields = append(append(Fields{}, l.fields...), fields...)
	return &clone
}

func (l *ConsoleLogger) SetLevel(level Level) {
	l.level = level
}

func (l *ConsoleLogger) Level() Level {
	return l.level
}

func (l *ConsoleLogger) Debug(format string, v ...any) {
	l.print(DEBUG, format, v...)
}

func (l *ConsoleLogger) Info(format string, v ...any) {
	l.print(INFO, format, v...)
}

func (l *ConsoleLogger) Notice(format string, v ...any) {
	l.print(NOTICE, format, v...)
}

func (l *ConsoleLogger) Warn(format string, v ...any) {
	l.print(WARN, format, v...)
}

func (l *ConsoleLogger) Error(format string, v ...any) {
	l.print(ERROR, format, v...)
}

func (l *ConsoleLogger) Fatal(format string, v ...any) {
	l.print(FATAL, format, v...)
	l.exitFn(1)
}

func (l *ConsoleLogger) print(level Level, format string, v ...any) {
	if level < l.level {
		return
	}
	l.printer.Print(level, fmt.Sprintf(format, v...), l.fields)
}

// TextPrinter writes human readable lines, colored when the output is a
// terminal.
type TextPrinter struct {
	Colors bool
	Writer io.Writer

	mu sync.Mutex
}

func NewTextPrinter(w io.Writer) *TextPrinter {
	return &TextPrinter{
		Writer: w,
		Colors: ColorsAvailable(w),
	}
}

func (p *TextPrinter) Print(level Level, msg string, fields Fields) {
	now := time.Now().Format(DateFormat)

	var b strings.Builder
	if p.Colors {
		levelColor, msgColor := green, nocolor
		switch level {
		case DEBUG:
			levelColor, msgColor = gray, gray
		case NOTICE:
			levelColor = cyan
		case WARN:
			levelColor = yellow
		case ERROR:
			levelColor = red
		case FATAL:
			levelColor, msgColor = red, red
		}
		fmt.Fprintf(&b, "\x1b[%sm%s %-6s\x1b[0m \x1b[%sm%s\x1b[0m", levelColor, now, level, msgColor, msg)
		for _, f := range fields {
			fmt.Fprintf(&b, " \x1b[%sm%s=\x1b[0m%s", lightgray, f.Key(), f.String())
		}
	} else {
		fmt.Fprintf(&b, "%s %-6s %s", now, level, msg)
		for _, f := range fields {
			fmt.Fprintf(&b, " %s=%s", f.Key(), f.String())
		}
	}
	b.WriteByte('\n')

	// One line at a time
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.Writer, b.String())
}

// JSONPrinter writes one JSON object per line.
type JSONPrinter struct {
	Writer io.Writer

	mu sync.Mutex
}

func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{Writer: w}
}

func (p *JSONPrinter) Print(level Level, msg string, fields Fields) {
	line := map[string]string{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": strings.ToLower(level.String()),
		"msg":   msg,
	}
	for _, f := range fields {
		line[f.Key()] = f.String()
	}

	b, err := json.Marshal(line)
	if err != nil {
		b = fmt.Appendf(nil, `{"level":"error","msg":%q}`, err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Writer, "%s\n", b)
}

// ColorsAvailable reports whether w is a terminal that can show colors.
func ColorsAvailable(w io.Writer) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

var Discard = NewConsoleLogger(NewTextPrinter(io.Discard), func(int) {})
