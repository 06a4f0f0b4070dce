package stage

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func task(url string) *Task {
	return &Task{Phase: PhaseAdview, URL: url, Intent: "sale", Segment: "residential"}
}

func TestStage_SubmitDedupes(t *testing.T) {
	s := New("adview")
	if !s.Submit(task("https://example.com/a")) {
		t.Fatal("first submit rejected")
	}
	if s.Submit(task("https://example.com/a")) {
		t.Fatal("duplicate key accepted")
	}
	if got := s.Metrics().Total; got != 1 {
		t.Errorf("Total = %d, want 1", got)
	}
}

func TestStage_TakeFIFOAndTimeout(t *testing.T) {
	s := New("adview")
	s.Submit(task("https://example.com/a"))
	s.Submit(task("https://example.com/b"))

	first, ok := s.Take(time.Second)
	if !ok || first.URL != "https://example.com/a" {
		t.Fatalf("expected a first, got %v ok=%v", first, ok)
	}
	second, ok := s.Take(time.Second)
	if !ok || second.URL != "https://example.com/b" {
		t.Fatalf("expected b second, got %v ok=%v", second, ok)
	}

	start := time.Now()
	if _, ok := s.Take(100 * time.Millisecond); ok {
		t.Fatal("Take on empty stage returned a task")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("Take returned before timeout expired")
	}
}

func TestStage_RetryFlowsThroughDelayedHeap(t *testing.T) {
	s := New("adview")
	s.Submit(task("https://example.com/a"))
	tk, _ := s.Take(time.Second)

	s.ScheduleRetry(tk, 10*time.Millisecond)
	if s.Quiescent() {
		t.Fatal("stage with a delayed task reported quiescent")
	}

	// Not due yet.
	if moved := s.moveDue(time.Now(), 100); moved != 0 {
		t.Fatalf("moved %d tasks before due time", moved)
	}
	// Due now.
	if moved := s.moveDue(time.Now().Add(time.Second), 100); moved != 1 {
		t.Fatalf("moved %d tasks after due time, want 1", moved)
	}

	back, ok := s.Take(time.Second)
	if !ok || back.URL != "https://example.com/a" {
		t.Fatalf("retried task not re-served: %v ok=%v", back, ok)
	}
	if got := s.Metrics().Retried; got != 1 {
		t.Errorf("Retried = %d, want 1", got)
	}
}

func TestStage_MoveDueOrderingAndBatchCap(t *testing.T) {
	s := New("adview")
	now := time.Now()

	// Push in reverse readiness order; moveDue must serve earliest first.
	for i := 5; i >= 1; i-- {
		tk := task("https://example.com/" + string(rune('0'+i)))
		s.Submit(tk)
		got, _ := s.Take(time.Second)
		s.ScheduleRetry(got, time.Duration(i)*time.Millisecond)
	}

	if moved := s.moveDue(now.Add(time.Second), 3); moved != 3 {
		t.Fatalf("batch cap ignored: moved %d", moved)
	}
	first, _ := s.Take(time.Second)
	if first.URL != "https://example.com/1" {
		t.Errorf("expected earliest-due task first, got %s", first.URL)
	}
	if moved := s.moveDue(now.Add(time.Second), 100); moved != 2 {
		t.Fatalf("expected 2 remaining, moved %d", moved)
	}
}

func TestStage_DeferOncePerKeyAndFinalSweepReinjection(t *testing.T) {
	s := New("adview")
	s.Submit(task("https://example.com/a"))
	tk, _ := s.Take(time.Second)
	tk.Attempts = 3

	s.Defer(tk)
	s.Defer(tk) // second park of the same key is a no-op
	if got := s.Metrics().Deferred; got != 1 {
		t.Fatalf("Deferred = %d, want 1", got)
	}
	if !s.Quiescent() {
		t.Fatal("deferred-only stage should be quiescent")
	}
	if s.PendingDeferred() != 1 {
		t.Fatalf("PendingDeferred = %d", s.PendingDeferred())
	}

	if n := s.DrainDeferredIntoReady(); n != 1 {
		t.Fatalf("re-injected %d, want 1", n)
	}
	if s.PendingDeferred() != 0 {
		t.Error("deferred set not emptied by drain")
	}

	swept, ok := s.Take(time.Second)
	if !ok || !swept.FinalSweep {
		t.Errorf("re-injected task not tagged final-sweep: %+v ok=%v", swept, ok)
	}
	if swept.Attempts != 3 {
		t.Errorf("Attempts = %d after drain, want 3 carried over", swept.Attempts)
	}
}

func TestStage_RequeueLeavesCountersUntouched(t *testing.T) {
	s := New("adview")
	s.Submit(task("https://example.com/a"))
	tk, _ := s.Take(time.Second)
	tk.Attempts = 1

	s.Requeue(tk)
	if got := s.Metrics().Retried; got != 0 {
		t.Fatalf("Retried = %d after requeue, want 0", got)
	}

	back, ok := s.Take(time.Second)
	if !ok || back.Key() != tk.Key() {
		t.Fatalf("requeued task not taken back: %+v ok=%v", back, ok)
	}
	if back.Attempts != 1 {
		t.Errorf("Attempts = %d after requeue, want 1 untouched", back.Attempts)
	}
}

func TestStage_CounterIdentities(t *testing.T) {
	s := New("adview")
	urls := []string{"u1", "u2", "u3", "u4"}
	for _, u := range urls {
		s.Submit(task(u))
	}

	a, _ := s.Take(time.Second)
	s.MarkDone(a, true)

	b, _ := s.Take(time.Second)
	s.MarkFailedFinal(b)

	c, _ := s.Take(time.Second)
	s.Defer(c)

	m := s.Metrics()
	if m.Total != 4 {
		t.Errorf("Total = %d", m.Total)
	}
	if m.Completed != m.OK+m.FinalExhausted {
		t.Errorf("Completed %d != OK %d + FinalExhausted %d", m.Completed, m.OK, m.FinalExhausted)
	}
	if m.OK != 1 || m.FinalExhausted != 1 || m.Deferred != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestStage_DispatcherMovesDueTasks(t *testing.T) {
	s := New("adview")
	s.Submit(task("https://example.com/a"))
	tk, _ := s.Take(time.Second)
	s.ScheduleRetry(tk, 10*time.Millisecond)

	done := make(chan struct{})
	go s.RunDispatcher(done)
	defer close(done)

	got, ok := s.Take(3 * time.Second)
	if !ok || got.URL != "https://example.com/a" {
		t.Fatalf("dispatcher did not re-serve retried task: %v ok=%v", got, ok)
	}
}

func TestStage_FinishedFlag(t *testing.T) {
	s := New("adview")
	if s.Finished() {
		t.Fatal("new stage already finished")
	}
	s.SetFinished()
	if !s.Finished() {
		t.Fatal("SetFinished not observed")
	}
}

func TestStage_WorkerStats(t *testing.T) {
	s := New("adview")
	s.SetWorkerState(2, "fetching", "1.2.3.xxx")
	s.SetWorkerState(1, "idle", "")
	s.IncrWorkerDone(2)
	s.IncrWorkerDone(2)

	stats := s.WorkerStats()
	if len(stats) != 2 || stats[0].ID != 1 || stats[1].ID != 2 {
		t.Fatalf("stats not ordered by id: %+v", stats)
	}
	if stats[1].Done != 2 || stats[1].ProxyLabel != "1.2.3.xxx" {
		t.Errorf("worker 2 stats wrong: %+v", stats[1])
	}
}

func TestRetryPolicy_Tiers(t *testing.T) {
	p := DefaultRetryPolicy()

	for i := 0; i < 50; i++ {
		d, ok := p.Backoff(1)
		if !ok {
			t.Fatal("attempt 1 should be retryable")
		}
		if d < 60*time.Second || d > 180*time.Second {
			t.Fatalf("tier-1 backoff out of range: %v", d)
		}

		d, ok = p.Backoff(2)
		if !ok {
			t.Fatal("attempt 2 should be retryable")
		}
		if d < 600*time.Second || d > 780*time.Second {
			t.Fatalf("tier-2 backoff out of range: %v", d)
		}
	}

	if _, ok := p.Backoff(3); ok {
		t.Error("attempt 3 should exhaust the budget")
	}
}
