package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger writes timestamped lines to stderr and, when opened with a log
// directory, to a per-day run_YYYYMMDD.log file so scheduled runs stay
// inspectable after the fact.
type Logger struct {
	file io.WriteCloser
	errw io.Writer
}

// New creates (or appends to) today's log file under logDir. A failure
// to open the file degrades to stderr-only logging rather than aborting
// the run.
func New(logDir string) *Logger {
	l := &Logger{errw: os.Stderr}
	if logDir == "" {
		return l
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "logging: ensure log dir: %v\n", err)
		return l
	}
	name := fmt.Sprintf("run_%s.log", time.Now().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: open log file: %v\n", err)
		return l
	}
	l.file = f
	return l
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{errw: io.Discard}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Infof writes an INFO line.
func (l *Logger) Infof(format string, args ...any) { l.write("INFO", format, args...) }

// Warnf writes a WARN line.
func (l *Logger) Warnf(format string, args ...any) { l.write("WARN", format, args...) }

// Errorf writes an ERROR line.
func (l *Logger) Errorf(format string, args ...any) { l.write("ERROR", format, args...) }

func (l *Logger) write(level, format string, args ...any) {
	if l == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	stamped := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, line)
	if l.errw != nil {
		fmt.Fprint(l.errw, stamped)
	}
	if l.file != nil {
		fmt.Fprint(l.file, stamped)
	}
}
