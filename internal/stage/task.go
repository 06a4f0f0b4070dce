package stage

import "fmt"

// Phase identifies which harvest pass a task belongs to.
type Phase string

const (
	PhaseAdlist Phase = "adlist"
	PhaseAdview Phase = "adview"
)

// Task is one unit of fetch work. For the list phase it names a search-result
// page; for the detail phase it names a single listing URL.
type Task struct {
	Phase   Phase
	URL     string
	Intent  string
	Segment string

	// Page is the 1-based search-result page number (list phase only).
	Page int

	// AdID is the listing id carried over from the list phase, used for
	// raw-payload filenames when present.
	AdID string

	// Attempts counts fetch attempts over the task's whole life, final
	// sweep included.
	Attempts int

	// FinalSweep marks a task re-injected from the deferred set. It gets a
	// single extra attempt; failing it is terminal.
	FinalSweep bool
}

// Key is the task's identity for dedupe and lifecycle tracking.
func (t *Task) Key() string { return t.URL }

func (t *Task) String() string {
	if t.Phase == PhaseAdlist {
		return fmt.Sprintf("%s %s/%s page %d", t.Phase, t.Intent, t.Segment, t.Page)
	}
	return fmt.Sprintf("%s %s", t.Phase, t.URL)
}
