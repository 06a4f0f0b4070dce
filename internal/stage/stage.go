// Package stage implements the work queue a harvest phase runs on: a ready
// FIFO workers pull from, a time-ordered delayed heap for backoff retries, a
// deferred set for tasks whose retry budget ran out, and lifecycle/metrics
// bookkeeping. Every task is in exactly one of ready, delayed, deferred,
// in-flight, or done.
package stage

import (
	"container/heap"
	"sync"
	"time"
)

// Metrics is a snapshot of a stage's counters.
type Metrics struct {
	Total          int // tasks ever submitted
	Completed      int // terminal outcomes (OK + FinalExhausted)
	OK             int
	Retried        int // retry schedulings, not distinct tasks
	Deferred       int // tasks ever parked for the final sweep
	FinalExhausted int
}

type delayedEntry struct {
	readyAt time.Time
	seq     int64
	task    *Task
}

// delayedHeap orders by readiness time, sequence number as tiebreaker so
// equal-time entries keep submission order.
type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}
func (h delayedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x interface{}) { *h = append(*h, x.(*delayedEntry)) }
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Stage is the shared work queue for one harvest phase.
type Stage struct {
	name string

	mu          sync.Mutex
	ready       []*Task
	delayed     delayedHeap
	deferred    []*Task
	deferredSet map[string]bool
	submitted   map[string]bool
	inFlight    map[string]bool
	done        map[string]bool
	metrics     Metrics
	finished    bool
	seq         int64

	workersMu sync.Mutex
	workers   map[int]*WorkerStat
}

// WorkerStat is per-worker progress consumed by the status reporter.
type WorkerStat struct {
	ID         int
	Done       int
	State      string
	ProxyLabel string
}

// New creates an empty stage.
func New(name string) *Stage {
	return &Stage{
		name:        name,
		deferredSet: make(map[string]bool),
		submitted:   make(map[string]bool),
		inFlight:    make(map[string]bool),
		done:        make(map[string]bool),
		workers:     make(map[int]*WorkerStat),
	}
}

// Name returns the stage's display name.
func (s *Stage) Name() string { return s.name }

// Submit enqueues a task. A key already seen in this stage is dropped and
// Submit reports false.
func (s *Stage) Submit(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted[t.Key()] {
		return false
	}
	s.submitted[t.Key()] = true
	s.metrics.Total++
	s.ready = append(s.ready, t)
	return true
}

// Take pops the oldest ready task, marking it in-flight. It blocks up to
// timeout, polling, and reports false on expiry.
func (s *Stage) Take(timeout time.Duration) (*Task, bool) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if len(s.ready) > 0 {
			t := s.ready[0]
			s.ready = s.ready[1:]
			s.inFlight[t.Key()] = true
			s.mu.Unlock()
			return t, true
		}
		s.mu.Unlock()
		if !time.Now().Before(deadline) {
			return nil, false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ScheduleRetry moves an in-flight task to the delayed heap, to become ready
// after backoff.
func (s *Stage) ScheduleRetry(t *Task, backoff time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, t.Key())
	s.metrics.Retried++
	s.seq++
	heap.Push(&s.delayed, &delayedEntry{
		readyAt: time.Now().Add(backoff),
		seq:     s.seq,
		task:    t,
	})
}

// Requeue puts an in-flight task back at the head of the ready queue without
// counting a retry. For workers that stop mid-task on shutdown.
func (s *Stage) Requeue(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, t.Key())
	s.ready = append([]*Task{t}, s.ready...)
}

// Defer parks an in-flight task for the final sweep. A key can be parked only
// once per stage.
func (s *Stage) Defer(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, t.Key())
	if s.deferredSet[t.Key()] {
		return
	}
	s.deferredSet[t.Key()] = true
	s.deferred = append(s.deferred, t)
	s.metrics.Deferred++
}

// MarkDone records a terminal success (or a terminal non-retryable outcome
// with ok=false that still counts as completed work).
func (s *Stage) MarkDone(t *Task, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, t.Key())
	if s.done[t.Key()] {
		return
	}
	s.done[t.Key()] = true
	s.metrics.Completed++
	if ok {
		s.metrics.OK++
	}
}

// MarkFailedFinal records a final-sweep task whose retry budget ran out.
func (s *Stage) MarkFailedFinal(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, t.Key())
	if s.done[t.Key()] {
		return
	}
	s.done[t.Key()] = true
	s.metrics.Completed++
	s.metrics.FinalExhausted++
}

// DrainDeferredIntoReady re-injects every deferred task into the ready queue
// tagged as final-sweep work. The attempt count carries over; the sweep grants
// one extra attempt, not a fresh budget. Returns the number of tasks
// re-injected.
func (s *Stage) DrainDeferredIntoReady() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.deferred)
	for _, t := range s.deferred {
		t.FinalSweep = true
		s.ready = append(s.ready, t)
	}
	s.deferred = nil
	return n
}

// moveDue shifts delayed entries whose time has come into the ready queue,
// at most max per call. Returns how many moved.
func (s *Stage) moveDue(now time.Time, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for moved < max && len(s.delayed) > 0 {
		if s.delayed[0].readyAt.After(now) {
			break
		}
		e := heap.Pop(&s.delayed).(*delayedEntry)
		s.ready = append(s.ready, e.task)
		moved++
	}
	return moved
}

// RunDispatcher moves due delayed tasks into the ready queue in batches until
// the done channel closes. Call in its own goroutine.
func (s *Stage) RunDispatcher(done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s.moveDue(now, 100)
		}
	}
}

// Quiescent reports whether no work is ready, delayed, or in flight. Deferred
// tasks do not count: they wait for the final sweep.
func (s *Stage) Quiescent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) == 0 && len(s.delayed) == 0 && len(s.inFlight) == 0
}

// PendingDeferred returns the number of tasks parked for the final sweep.
func (s *Stage) PendingDeferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// SetFinished tells workers the stage will get no more work.
func (s *Stage) SetFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// Finished reports whether the stage has been closed for new work.
func (s *Stage) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Metrics returns a snapshot of the stage counters.
func (s *Stage) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// SetWorkerState updates a worker's display state and proxy label.
func (s *Stage) SetWorkerState(id int, state, proxyLabel string) {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		w = &WorkerStat{ID: id}
		s.workers[id] = w
	}
	w.State = state
	if proxyLabel != "" {
		w.ProxyLabel = proxyLabel
	}
}

// IncrWorkerDone bumps a worker's completed-task count.
func (s *Stage) IncrWorkerDone(id int) {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		w = &WorkerStat{ID: id}
		s.workers[id] = w
	}
	w.Done++
}

// WorkerStats returns a copy of all worker stats, ordered by id.
func (s *Stage) WorkerStats() []WorkerStat {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	out := make([]WorkerStat, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, *w)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
