package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pgharvest/internal/archive"
	"pgharvest/internal/audit"
	"pgharvest/internal/config"
	"pgharvest/internal/extract"
	"pgharvest/internal/fetch"
	"pgharvest/internal/logging"
	"pgharvest/internal/notify"
	"pgharvest/internal/proxy"
	"pgharvest/internal/stage"
)

// Harvester owns one full two-phase run: directories, workers, buffers, and
// the final CSV assembly.
type Harvester struct {
	cfg    *config.Config
	zlog   *zap.Logger
	logs   *logging.Set
	audit  *audit.Writer
	notify *notify.Client
	pool   *proxy.Pool
	policy *stage.RetryPolicy
	schema *extract.Schema

	newFetcher FetcherFactory
	rand       *randSource

	runID     string
	ts        string
	adlistDir string
	adviewDir string

	// Pacing knobs; production values by default, near-zero in tests.
	staggerStep      time.Duration
	interMin         time.Duration
	interMax         time.Duration
	quiescencePoll   time.Duration
	dashboardMin     time.Duration
	dashboardMax     time.Duration
	echoURL          string

	listBuf   listBuffer
	detailBuf detailBuffer

	listMetrics   stage.Metrics
	detailMetrics stage.Metrics
}

// Option adjusts a Harvester; used by the CLI and by tests.
type Option func(*Harvester)

// WithFetcherFactory replaces the browser-backed fetcher.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(h *Harvester) { h.newFetcher = f }
}

// WithRetryPolicy replaces the backoff tiers.
func WithRetryPolicy(p *stage.RetryPolicy) Option {
	return func(h *Harvester) { h.policy = p }
}

// WithPacing overrides the launch stagger and inter-request sleep range.
func WithPacing(stagger, interMin, interMax time.Duration) Option {
	return func(h *Harvester) {
		h.staggerStep = stagger
		h.interMin = interMin
		h.interMax = interMax
	}
}

// WithQuiescencePoll overrides the sequencer's 1 Hz drain poll.
func WithQuiescencePoll(d time.Duration) Option {
	return func(h *Harvester) { h.quiescencePoll = d }
}

// WithIPEcho sets the IP-echo endpoint for proxy verification. Empty
// disables the probe.
func WithIPEcho(url string) Option {
	return func(h *Harvester) { h.echoURL = url }
}

// New builds a harvester over a validated config. The notify client must
// already be started.
func New(cfg *config.Config, zlog *zap.Logger, logs *logging.Set, sink *notify.Client, opts ...Option) *Harvester {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	h := &Harvester{
		cfg:    cfg,
		zlog:   zlog,
		logs:   logs,
		notify: sink,
		pool:   proxy.NewPool(cfg.Proxies, time.Now().UnixNano()),
		policy: stage.DefaultRetryPolicy(),
		schema: extract.PropertyGuru(),
		rand:   newRandSource(time.Now().UnixNano()),

		runID: uuid.NewString(),
		ts:    time.Now().Format("20060102_150405"),

		staggerStep:    cfg.LaunchStaggerStep(),
		interMin:       1600 * time.Millisecond,
		interMax:       3200 * time.Millisecond,
		quiescencePoll: time.Second,
		dashboardMin:   10 * time.Second,
		dashboardMax:   20 * time.Second,
		echoURL:        fetch.DefaultIPEcho,
	}
	h.newFetcher = func(opts fetch.Options) fetch.Fetcher { return fetch.NewBrowser(opts) }
	for _, o := range opts {
		o(h)
	}
	return h
}

// ListMetrics returns the list stage's final counters. Valid after Run.
func (h *Harvester) ListMetrics() stage.Metrics { return h.listMetrics }

// DetailMetrics returns the detail stage's final counters. Valid after Run.
func (h *Harvester) DetailMetrics() stage.Metrics { return h.detailMetrics }

// AdlistCSVPath returns the list-phase CSV location for this run.
func (h *Harvester) AdlistCSVPath() string {
	return filepath.Join(h.adlistDir, fmt.Sprintf("PG_adlist_%s.csv", h.ts))
}

// AdviewCSVPath returns the final CSV location for this run.
func (h *Harvester) AdviewCSVPath() string {
	return filepath.Join(h.adviewDir, fmt.Sprintf("PG_adview_%s.csv", h.ts))
}

// Run executes both phases to quiescence and writes the CSVs. The final
// CSVs are always produced, even when some rows are missing.
func (h *Harvester) Run(ctx context.Context) error {
	h.adlistDir = filepath.Join(h.cfg.OutputRoot, "adlist_"+h.ts)
	h.adviewDir = filepath.Join(h.cfg.OutputRoot, "adview_"+h.ts)
	for _, dir := range []string{h.adlistDir, h.adviewDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	auditW, err := audit.NewWriter(filepath.Join(h.adviewDir, "audit"), h.runID)
	if err != nil {
		return err
	}
	h.audit = auditW
	defer auditW.Close()

	h.zlog.Info("run starting", zap.String("run_id", h.runID))

	// Phase A: enumerate listings from search-result pages.
	stA := stage.New("ADLIST")
	for _, cat := range h.cfg.Categories {
		for page := 1; page <= cat.Pages; page++ {
			stA.Submit(&stage.Task{
				Phase:   stage.PhaseAdlist,
				URL:     BuildAdlistURL(cat.Intent, cat.IsCommercial, page),
				Intent:  cat.Intent,
				Segment: cat.Segment,
				Page:    page,
			})
		}
	}
	if err := h.runPhase(ctx, stA, h.cfg.AdlistWorkers, "L", nil, h.handleListPayload); err != nil {
		return err
	}
	h.listMetrics = stA.Metrics()

	listRows := h.listBuf.Rows()
	if err := WriteAdlistCSV(h.AdlistCSVPath(), listRows); err != nil {
		return err
	}
	h.zlog.Info("adlist complete",
		zap.Int("rows", len(listRows)),
		zap.Int("ok", stA.Metrics().OK),
		zap.Int("exhausted", stA.Metrics().FinalExhausted))
	archive.CompressAndUpload(h.notify, h.zlog, h.cfg.Webhooks.CSV, h.AdlistCSVPath(),
		fmt.Sprintf("ADLIST CSV • %d rows", len(listRows)))

	// Phase B: one detail task per distinct listing URL, starting on proxies
	// the list phase did not use as initial assignments.
	stB := stage.New("ADVIEW")
	seen := make(map[string]bool, len(listRows))
	for _, r := range listRows {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		stB.Submit(&stage.Task{
			Phase:   stage.PhaseAdview,
			URL:     r.URL,
			Intent:  r.Intent,
			Segment: r.Segment,
			AdID:    r.AdID,
		})
	}
	exclude := h.pool.InitialIndices()
	if len(exclude) >= h.pool.Size() {
		exclude = nil
	}
	if err := h.runPhase(ctx, stB, h.cfg.AdviewWorkers, "V", exclude, h.handleDetailPayload); err != nil {
		return err
	}
	h.detailMetrics = stB.Metrics()

	details := h.detailBuf.Rows()
	if err := WriteAdviewCSV(h.AdviewCSVPath(), details, listRows); err != nil {
		return err
	}
	h.zlog.Info("adview complete",
		zap.Int("rows", len(details)),
		zap.Int("ok", stB.Metrics().OK),
		zap.Int("exhausted", stB.Metrics().FinalExhausted))
	archive.CompressAndUpload(h.notify, h.zlog, h.cfg.Webhooks.CSV, h.AdviewCSVPath(),
		fmt.Sprintf("ADVIEW CSV • %d rows", len(details)))

	return ctx.Err()
}

// runPhase drives one stage to quiescence: dispatcher, workers, dashboard,
// primary drain, final sweep, drain again.
func (h *Harvester) runPhase(ctx context.Context, st *stage.Stage, workers int, workerPrefix string, exclude map[int]bool, handle payloadHandler) error {
	dispatcherDone := make(chan struct{})
	go st.RunDispatcher(dispatcherDone)
	defer close(dispatcherDone)

	dashDone := make(chan struct{})
	go h.dashboardLoop(dashDone, st, workers, workerPrefix)
	defer close(dashDone)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			h.runWorker(gctx, st, id, exclude, handle)
			return nil
		})
	}

	h.waitQuiescent(ctx, st)
	if n := st.DrainDeferredIntoReady(); n > 0 {
		h.logs.Get(logging.CategoryPerformance).System("[%s] final sweep over %d deferred tasks", st.Name(), n)
		h.waitQuiescent(ctx, st)
	}
	st.SetFinished()
	return g.Wait()
}

func (h *Harvester) waitQuiescent(ctx context.Context, st *stage.Stage) {
	for {
		if st.Quiescent() || ctx.Err() != nil {
			return
		}
		sleepCtx(ctx, h.quiescencePoll)
	}
}

// dashboardLoop posts a create-once-then-edit status message at a jittered
// cadence. Edits are skipped while the integer percentage is unchanged.
func (h *Harvester) dashboardLoop(done <-chan struct{}, st *stage.Stage, workers int, workerPrefix string) {
	if h.cfg.Webhooks.Dashboard == "" {
		return
	}
	started := time.Now()
	lastPct := -1
	for {
		m := st.Metrics()
		if pct := percent(m.Completed, m.Total); pct != lastPct {
			lastPct = pct
			text := renderDashboard([]stageView{{
				Name:         st.Name(),
				WorkerPrefix: workerPrefix,
				Workers:      workers,
				StartedAt:    started,
				Metrics:      m,
				WorkerStats:  st.WorkerStats(),
			}}, time.Now())
			h.notify.SetDashboard(h.cfg.Webhooks.Dashboard, text)
		}

		wait := h.rand.Duration(h.dashboardMin, h.dashboardMax)
		select {
		case <-done:
			return
		case <-time.After(wait):
		}
	}
}

// handleListPayload extracts list rows from a search-result payload, stamps
// the scrape time, buffers them, and persists the raw payload. A page past
// the end of results extracts zero rows and still counts as a success.
func (h *Harvester) handleListPayload(t *stage.Task, payload string) error {
	rows, err := extract.ExtractListRows(payload, t.Intent, t.Segment, t.Page)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for i := range rows {
		rows[i].ScrapeUnix = now
	}
	h.listBuf.Append(rows...)

	raw := filepath.Join(h.adlistDir, listRawName(t.Intent, t.Segment, t.Page))
	if err := os.WriteFile(raw, []byte(payload), 0o644); err != nil {
		h.zlog.Warn("raw payload write failed", zap.String("file", raw), zap.Error(err))
	}
	return nil
}

// handleDetailPayload extracts one detail record, buffers it, and persists
// the raw payload.
func (h *Harvester) handleDetailPayload(t *stage.Task, payload string) error {
	rec, err := h.schema.Extract(payload)
	if err != nil {
		return err
	}
	h.detailBuf.Append(detailRow{
		URL:     t.URL,
		Intent:  t.Intent,
		Segment: t.Segment,
		Record:  rec,
	})

	adID := rec["ad_id"]
	if adID == "" {
		adID = t.AdID
	}
	raw := filepath.Join(h.adviewDir, detailRawName(t.Intent, t.Segment, adID, t.URL))
	if err := os.WriteFile(raw, []byte(payload), 0o644); err != nil {
		h.zlog.Warn("raw payload write failed", zap.String("file", raw), zap.Error(err))
	}
	return nil
}
