// Package logging provides categorized file-based logging for a harvest run.
// Each run creates its own logs_<timestamp>/ directory with one file per
// category, so concurrent runs never interleave.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category selects the destination file for a log line.
type Category string

const (
	// CategoryPerformance records successful fetches and timing.
	CategoryPerformance Category = "performance"
	// CategoryDetection records anti-bot signals: missing payloads,
	// blocked pages, proxy verification outcomes.
	CategoryDetection Category = "detection"
	// CategoryErrors records transport failures and exhausted retries.
	CategoryErrors Category = "errors"
)

// Logger writes timestamped lines to a single category file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Set owns the per-run log directory and its category loggers.
type Set struct {
	dir string

	mu      sync.RWMutex
	loggers map[Category]*Logger
}

// New creates a fresh logs_<timestamp> directory under root and returns the
// logger set for it.
func New(root string) (*Set, error) {
	dir := filepath.Join(root, "logs_"+time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	return &Set{
		dir:     dir,
		loggers: make(map[Category]*Logger),
	}, nil
}

// Dir returns the run's log directory.
func (s *Set) Dir() string { return s.dir }

// Get returns (or creates) the logger for the given category. A logger whose
// file cannot be opened degrades to a no-op.
func (s *Set) Get(category Category) *Logger {
	s.mu.RLock()
	if l, ok := s.loggers[category]; ok {
		s.mu.RUnlock()
		return l
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loggers[category]; ok {
		return l
	}

	path := filepath.Join(s.dir, string(category)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		l := &Logger{}
		s.loggers[category] = l
		return l
	}

	l := &Logger{file: file}
	s.loggers[category] = l
	return l
}

// Worker logs a line attributed to a worker: "<ts> - Thread<N> - <msg>".
func (l *Logger) Worker(id int, format string, args ...interface{}) {
	l.write(fmt.Sprintf("Thread%d", id), fmt.Sprintf(format, args...))
}

// System logs a line not attributed to any worker.
func (l *Logger) System(format string, args ...interface{}) {
	l.write("System", fmt.Sprintf(format, args...))
}

func (l *Logger) write(who, msg string) {
	if l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "%s - %s - %s\n", time.Now().Format("2006-01-02T15:04:05.000"), who, msg)
}

// CloseAll closes every open log file. Call at shutdown.
func (s *Set) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	s.loggers = make(map[Category]*Logger)
}
