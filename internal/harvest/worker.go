package harvest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pgharvest/internal/fetch"
	"pgharvest/internal/logging"
	"pgharvest/internal/stage"
)

// FetcherFactory builds the fetcher a worker uses for one browser session.
// Production wires fetch.NewBrowser; tests inject fakes.
type FetcherFactory func(opts fetch.Options) fetch.Fetcher

// payloadHandler consumes a successfully fetched payload. An error makes the
// worker treat the fetch as failed, since a payload that cannot be extracted
// is indistinguishable from a soft block.
type payloadHandler func(t *stage.Task, payload string) error

// randSource is shared across workers for jitter picks.
type randSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newRandSource(seed int64) *randSource {
	return &randSource{rng: rand.New(rand.NewSource(seed))}
}

func (r *randSource) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

func (r *randSource) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rng.Int63n(int64(max-min)))
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runWorker is one long-lived worker: it owns a browser and a proxy
// reservation, pulls tasks until the stage is finished, and applies the
// tiered retry policy on failure.
func (h *Harvester) runWorker(ctx context.Context, st *stage.Stage, id int, exclude map[int]bool, handle payloadHandler) {
	// Desynchronize the initial burst.
	sleepCtx(ctx, time.Duration(id+1)*h.staggerStep)

	proxyIdx := h.pool.AssignInitial(id, exclude)
	ua := h.pickUA()
	f := h.newFetcher(h.fetchOptions(proxyIdx, ua))
	defer func() {
		_ = f.Close()
		h.pool.Release(proxyIdx)
		st.SetWorkerState(id, "stopped", "")
	}()

	proxyIdx, f = h.verifyProxy(ctx, id, proxyIdx, f)
	st.SetWorkerState(id, "idle", h.pool.Label(proxyIdx))

	for {
		if ctx.Err() != nil {
			return
		}
		t, ok := st.Take(time.Second)
		if !ok {
			if st.Finished() {
				return
			}
			continue
		}

		st.SetWorkerState(id, "fetching", "")
		payload, err := f.Fetch(ctx, t.URL)
		if err == nil {
			err = handle(t, payload)
		}

		if err == nil {
			st.MarkDone(t, true)
			st.IncrWorkerDone(id)
			st.SetWorkerState(id, "idle", "")
			_ = h.audit.Success(string(t.Phase), t.Key(), t.Attempts+1, id, h.pool.Label(proxyIdx))
			h.logs.Get(logging.CategoryPerformance).Worker(id, "[%s] OK %s", phaseTag(t.Phase), t.URL)
			sleepCtx(ctx, h.rand.Duration(h.interMin, h.interMax))
			continue
		}

		if ctx.Err() != nil {
			// Shutdown, not a site failure; put the task back untouched.
			st.Requeue(t)
			return
		}

		t.Attempts++
		kind := fetch.KindOf(err)
		h.logFailure(id, t, kind, err)

		// Recovery: fresh browser, fresh proxy, fresh user agent.
		oldLabel := h.pool.Label(proxyIdx)
		_ = f.Close()
		proxyIdx = h.pool.Rotate(proxyIdx)
		ua = h.pickUA()
		f = h.newFetcher(h.fetchOptions(proxyIdx, ua))
		newLabel := h.pool.Label(proxyIdx)
		st.SetWorkerState(id, "rotated", newLabel)

		// A final-sweep task gets exactly one extra shot; any failure here
		// is terminal.
		if t.FinalSweep {
			st.MarkFailedFinal(t)
			st.IncrWorkerDone(id)
			_ = h.audit.Exhausted(string(t.Phase), t.Key(), string(kind), t.Attempts, id, newLabel)
			h.logs.Get(logging.CategoryErrors).Worker(id, "[%s] EXHAUSTED %s after %d attempts (%s)", phaseTag(t.Phase), t.URL, t.Attempts, kind)
			h.notify.SendEvent(h.cfg.Webhooks.Exhausted,
				fmt.Sprintf("❌ Exhausted • %s • T%d\nURL: %s\nWhy: %s", phaseTag(t.Phase), id, t.URL, kind))
			continue
		}

		if backoff, retryable := h.policy.Backoff(t.Attempts); retryable {
			st.ScheduleRetry(t, backoff)
			h.notifyRetry(id, t, kind, oldLabel, newLabel, backoff)
		} else {
			st.Defer(t)
			_ = h.audit.Deferred(string(t.Phase), t.Key(), string(kind), t.Attempts, id, newLabel)
			h.logs.Get(logging.CategoryErrors).Worker(id, "[%s] DEFERRED %s after %d attempts (%s)", phaseTag(t.Phase), t.URL, t.Attempts, kind)
		}
	}
}

func phaseTag(p stage.Phase) string {
	switch p {
	case stage.PhaseAdlist:
		return "ADLIST"
	case stage.PhaseAdview:
		return "ADVIEW"
	}
	return string(p)
}

func (h *Harvester) logFailure(id int, t *stage.Task, kind fetch.Kind, err error) {
	switch kind {
	case fetch.KindMissingPayload, fetch.KindBlocked:
		h.logs.Get(logging.CategoryDetection).Worker(id, "[%s] %s %s: %v", phaseTag(t.Phase), kind, t.URL, err)
	default:
		h.logs.Get(logging.CategoryErrors).Worker(id, "[%s] %s %s: %v", phaseTag(t.Phase), kind, t.URL, err)
	}
}

func (h *Harvester) notifyRetry(id int, t *stage.Task, kind fetch.Kind, oldLabel, newLabel string, backoff time.Duration) {
	mins := int(backoff.Minutes())
	secs := int(backoff.Seconds()) % 60
	h.notify.SendEvent(h.cfg.Webhooks.Retry, fmt.Sprintf(
		"🔁 Retry %d/%d • %s • T%d\nURL: %s\nWhy: %s\nFix: Restarted + rotated proxy (%s → %s); backoff %dm%02ds → reattempt (%d/%d)",
		t.Attempts, h.policy.MaxAttempts, phaseTag(t.Phase), id,
		t.URL, kind, oldLabel, newLabel, mins, secs, t.Attempts+1, h.policy.MaxAttempts))
}

// verifyProxy checks the proxy actually changes the egress IP. When the
// probe sees the system IP, the worker rotates once and carries on either
// way; the site's behavior is the ultimate signal.
func (h *Harvester) verifyProxy(ctx context.Context, id, proxyIdx int, f fetch.Fetcher) (int, fetch.Fetcher) {
	if h.echoURL == "" {
		return proxyIdx, f
	}
	det := h.logs.Get(logging.CategoryDetection)

	systemIP, err := fetch.SystemIP(ctx, h.cfg.SystemIPOverride, h.echoURL)
	if err != nil {
		det.Worker(id, "system IP probe failed: %v", err)
		return proxyIdx, f
	}
	egress, err := fetch.VerifyProxy(ctx, h.pool.Spec(proxyIdx), h.cfg.ProxyMode, h.echoURL)
	if err != nil {
		det.Worker(id, "proxy probe failed for %s: %v", h.pool.Label(proxyIdx), err)
		return proxyIdx, f
	}
	if egress != systemIP {
		det.Worker(id, "proxy %s verified, egress %s", h.pool.Label(proxyIdx), maskIP(egress))
		return proxyIdx, f
	}

	det.Worker(id, "proxy %s not effective (egress equals system IP), rotating", h.pool.Label(proxyIdx))
	_ = f.Close()
	proxyIdx = h.pool.Rotate(proxyIdx)
	f = h.newFetcher(h.fetchOptions(proxyIdx, h.pickUA()))

	if egress, err = fetch.VerifyProxy(ctx, h.pool.Spec(proxyIdx), h.cfg.ProxyMode, h.echoURL); err == nil {
		if egress == systemIP {
			det.Worker(id, "proxy %s still not effective, proceeding anyway", h.pool.Label(proxyIdx))
		} else {
			det.Worker(id, "proxy %s verified after rotation, egress %s", h.pool.Label(proxyIdx), maskIP(egress))
		}
	}
	return proxyIdx, f
}

func maskIP(ip string) string {
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == '.' {
			return ip[:i+1] + "xxx"
		}
	}
	return ip
}

func (h *Harvester) pickUA() string {
	pool := h.cfg.UserAgentPool()
	if len(pool) == 0 {
		return ""
	}
	return pool[h.rand.Intn(len(pool))]
}

func (h *Harvester) fetchOptions(proxyIdx int, ua string) fetch.Options {
	return fetch.Options{
		Bin:                h.cfg.BrowserBin,
		Proxy:              h.pool.Spec(proxyIdx),
		ProxyMode:          h.cfg.ProxyMode,
		UserAgent:          ua,
		PageLoadTimeout:    h.cfg.PageLoadTimeout(),
		ElementWaitTimeout: h.cfg.ElementWaitTimeout(),
	}
}
