// Package audit records per-task outcomes as append-only JSON lines. Each
// outcome class gets its own ndjson file so post-run tooling can tail or
// replay a single class without filtering.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome selects the destination file for an entry.
type Outcome string

const (
	OutcomeSuccess   Outcome = "successes"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeExhausted Outcome = "failures_exhausted"
)

// Entry is one audited task outcome.
type Entry struct {
	Timestamp  int64  `json:"ts"` // unix milliseconds
	RunID      string `json:"run_id,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Key        string `json:"key"` // page URL or detail URL
	Attempts   int    `json:"attempts"`
	Reason     string `json:"reason,omitempty"`
	WorkerID   int    `json:"worker_id"`
	ProxyLabel string `json:"proxy,omitempty"`
	FinalSweep bool   `json:"final_sweep,omitempty"`
}

// Writer appends entries to ndjson files under a single audit directory.
type Writer struct {
	dir   string
	runID string

	mu    sync.Mutex
	files map[Outcome]*os.File
}

// NewWriter creates (if needed) dir and returns a writer for it. The run id
// is stamped onto every entry.
func NewWriter(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Writer{
		dir:   dir,
		runID: runID,
		files: make(map[Outcome]*os.File),
	}, nil
}

// Record appends one entry to the outcome's ndjson file. Failures to write
// are reported but never block the harvest.
func (w *Writer) Record(outcome Outcome, e Entry) error {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.RunID == "" {
		e.RunID = w.runID
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, ok := w.files[outcome]
	if !ok {
		path := filepath.Join(w.dir, string(outcome)+".ndjson")
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		w.files[outcome] = file
	}

	_, err = file.Write(append(data, '\n'))
	return err
}

// Success records a completed task.
func (w *Writer) Success(phase, key string, attempts, workerID int, proxyLabel string) error {
	return w.Record(OutcomeSuccess, Entry{
		Phase: phase, Key: key, Attempts: attempts,
		WorkerID: workerID, ProxyLabel: proxyLabel,
	})
}

// Deferred records a task parked for the final sweep.
func (w *Writer) Deferred(phase, key, reason string, attempts, workerID int, proxyLabel string) error {
	return w.Record(OutcomeDeferred, Entry{
		Phase: phase, Key: key, Reason: reason, Attempts: attempts,
		WorkerID: workerID, ProxyLabel: proxyLabel,
	})
}

// Exhausted records a task that failed its final-sweep attempts.
func (w *Writer) Exhausted(phase, key, reason string, attempts, workerID int, proxyLabel string) error {
	return w.Record(OutcomeExhausted, Entry{
		Phase: phase, Key: key, Reason: reason, Attempts: attempts,
		WorkerID: workerID, ProxyLabel: proxyLabel, FinalSweep: true,
	})
}

// Close closes all open audit files.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.files {
		f.Close()
	}
	w.files = make(map[Outcome]*os.File)
}
