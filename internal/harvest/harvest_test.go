package harvest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"pgharvest/internal/config"
	"pgharvest/internal/fetch"
	"pgharvest/internal/logging"
	"pgharvest/internal/notify"
	"pgharvest/internal/stage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// script decides what each fetch attempt returns, keyed by URL and 1-based
// attempt number.
type script struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(url string, attempt int) (string, error)
}

func newScript(respond func(url string, attempt int) (string, error)) *script {
	return &script{calls: make(map[string]int), respond: respond}
}

func (s *script) fetch(url string) (string, error) {
	s.mu.Lock()
	s.calls[url]++
	n := s.calls[url]
	s.mu.Unlock()
	return s.respond(url, n)
}

func (s *script) attempts(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type scriptedFetcher struct{ s *script }

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (string, error) { return f.s.fetch(url) }
func (f *scriptedFetcher) Close() error                                        { return nil }

func (s *script) factory() FetcherFactory {
	return func(fetch.Options) fetch.Fetcher { return &scriptedFetcher{s: s} }
}

// listPayload renders a search-result payload holding the given listing URLs.
func listPayload(urls ...string) string {
	items := make([]map[string]interface{}, 0, len(urls))
	for i, u := range urls {
		items = append(items, map[string]interface{}{
			"listingData": map[string]interface{}{
				"id":             fmt.Sprintf("id-%s", SafeName(u)),
				"url":            u,
				"localizedTitle": fmt.Sprintf("Listing %d", i+1),
				"postedOn":       map[string]interface{}{"unix": 1755678400},
				"agent":          map[string]interface{}{"name": "Amin", "id": "9001"},
			},
		})
	}
	doc := map[string]interface{}{
		"props": map[string]interface{}{"pageProps": map[string]interface{}{"pageData": map[string]interface{}{"data": map[string]interface{}{
			"listingsData": items,
		}}}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// detailPayload renders a minimal detail payload for one listing.
func detailPayload(url, title string) string {
	doc := map[string]interface{}{
		"props": map[string]interface{}{"pageProps": map[string]interface{}{"pageData": map[string]interface{}{"data": map[string]interface{}{
			"listingData": map[string]interface{}{
				"id":             "id-" + SafeName(url),
				"url":            url,
				"localizedTitle": title,
				"price":          850000,
			},
			"propertyOverviewData": map[string]interface{}{"propertyInfo": map[string]interface{}{
				"fullAddress": "Jalan Ampang, Kuala Lumpur",
				"bedrooms":    "3",
				"bathrooms":   "2",
			}},
		}}}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func fastPolicy() *stage.RetryPolicy {
	return &stage.RetryPolicy{
		Tier1Min: time.Millisecond, Tier1Max: 2 * time.Millisecond,
		Tier2Min: time.Millisecond, Tier2Max: 2 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func testConfig(t *testing.T, pages int, workers, proxies int) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AdlistWorkers = workers
	cfg.AdviewWorkers = workers
	cfg.OutputRoot = t.TempDir()
	cfg.Categories = []config.CategorySpec{
		{Intent: "sale", Segment: "residential", IsCommercial: false, Pages: pages},
	}
	for i := 0; i < proxies; i++ {
		cfg.Proxies = append(cfg.Proxies, config.ProxySpec{Server: fmt.Sprintf("proxy-%d:8080", i)})
	}
	return cfg
}

func newTestHarvester(t *testing.T, cfg *config.Config, s *script) (*Harvester, *notify.Client) {
	t.Helper()
	logs, err := logging.New(cfg.OutputRoot)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(logs.CloseAll)

	sink := notify.New(nil)
	sink.Pace = time.Millisecond
	sink.Start()

	h := New(cfg, nil, logs, sink,
		WithFetcherFactory(s.factory()),
		WithRetryPolicy(fastPolicy()),
		WithPacing(0, 0, 0),
		WithQuiescencePoll(5*time.Millisecond),
		WithIPEcho(""),
	)
	return h, sink
}

func detailURL(n int) string {
	return fmt.Sprintf("https://www.propertyguru.com.my/listing-%d", n)
}

func TestRun_HappyPath(t *testing.T) {
	// Two list pages of 20 listings each, everything succeeds first try.
	var urls []string
	for i := 0; i < 40; i++ {
		urls = append(urls, detailURL(i))
	}
	s := newScript(func(url string, attempt int) (string, error) {
		if strings.Contains(url, "property-for-sale") {
			if strings.Contains(url, "page=1") {
				return listPayload(urls[:20]...), nil
			}
			return listPayload(urls[20:]...), nil
		}
		return detailPayload(url, "Condo"), nil
	})

	cfg := testConfig(t, 2, 3, 5)
	h, sink := newTestHarvester(t, cfg, s)
	defer sink.Stop()

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lm := h.ListMetrics()
	if lm.Total != 2 || lm.Completed != 2 || lm.OK != 2 {
		t.Errorf("list metrics = %+v", lm)
	}
	dm := h.DetailMetrics()
	if dm.Total != 40 || dm.OK != 40 {
		t.Errorf("detail metrics = %+v", dm)
	}

	if rows := readCSV(t, h.AdlistCSVPath()); len(rows) != 41 {
		t.Errorf("adlist CSV has %d lines, want 41", len(rows))
	}
	if rows := readCSV(t, h.AdviewCSVPath()); len(rows) != 41 {
		t.Errorf("adview CSV has %d lines, want 41", len(rows))
	}

	// Raw payloads are persisted for both phases.
	if _, err := os.Stat(filepath.Join(filepath.Dir(h.AdlistCSVPath()), "sale_residential_page_1.json")); err != nil {
		t.Errorf("missing raw list payload: %v", err)
	}
}

func TestRun_RetriesThenSuccess(t *testing.T) {
	// The single list page fails twice, then succeeds on attempt 3.
	s := newScript(func(url string, attempt int) (string, error) {
		if strings.Contains(url, "property-for-sale") {
			if attempt <= 2 {
				return "", &fetch.Error{Kind: fetch.KindTimeout, URL: url}
			}
			return listPayload(detailURL(1)), nil
		}
		return detailPayload(url, "Condo"), nil
	})

	var retryEvents int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		retryEvents++
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := testConfig(t, 1, 2, 4)
	cfg.Webhooks.Retry = srv.URL
	h, sink := newTestHarvester(t, cfg, s)

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sink.Stop()

	lm := h.ListMetrics()
	if lm.Retried != 2 || lm.OK != 1 || lm.Completed != 1 {
		t.Errorf("list metrics = %+v", lm)
	}
	mu.Lock()
	defer mu.Unlock()
	if retryEvents != 2 {
		t.Errorf("retry webhook got %d events, want 2", retryEvents)
	}
}

func readAudit(t *testing.T, h *Harvester, name string) []map[string]interface{} {
	t.Helper()
	path := filepath.Join(filepath.Dir(h.AdviewCSVPath()), "audit", name)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer f.Close()
	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestRun_ExhaustedAfterFinalSweep(t *testing.T) {
	// One detail URL fails every attempt: deferred in the primary pass, then
	// exhausted during the final sweep.
	bad := detailURL(13)
	s := newScript(func(url string, attempt int) (string, error) {
		if strings.Contains(url, "property-for-sale") {
			return listPayload(bad, detailURL(2)), nil
		}
		if url == bad {
			return "", &fetch.Error{Kind: fetch.KindBlocked, URL: url}
		}
		return detailPayload(url, "Condo"), nil
	})

	cfg := testConfig(t, 1, 2, 4)
	h, sink := newTestHarvester(t, cfg, s)
	defer sink.Stop()

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dm := h.DetailMetrics()
	if dm.Total != 2 || dm.OK != 1 || dm.FinalExhausted != 1 || dm.Deferred != 1 {
		t.Errorf("detail metrics = %+v", dm)
	}
	if dm.Completed != dm.OK+dm.FinalExhausted {
		t.Errorf("completed %d != ok %d + exhausted %d", dm.Completed, dm.OK, dm.FinalExhausted)
	}
	// 3 primary attempts plus the single final-sweep shot.
	if got := s.attempts(bad); got != 4 {
		t.Errorf("bad URL fetched %d times, want 4", got)
	}
	// Only the two primary backoff tiers ever schedule a retry.
	if dm.Retried != 2 {
		t.Errorf("retried = %d, want 2", dm.Retried)
	}

	exhausted := readAudit(t, h, "failures_exhausted.ndjson")
	if len(exhausted) != 1 {
		t.Fatalf("got %d exhausted audit lines, want 1", len(exhausted))
	}
	if exhausted[0]["key"] != bad || exhausted[0]["final_sweep"] != true {
		t.Errorf("unexpected audit entry: %v", exhausted[0])
	}
}

func TestRun_MoreWorkersThanProxies(t *testing.T) {
	// 3 workers per phase over 2 proxies forces index sharing; the run must
	// still complete every task.
	var urls []string
	for i := 0; i < 9; i++ {
		urls = append(urls, detailURL(i))
	}
	s := newScript(func(url string, attempt int) (string, error) {
		if strings.Contains(url, "property-for-sale") {
			return listPayload(urls...), nil
		}
		return detailPayload(url, "Condo"), nil
	})

	cfg := testConfig(t, 1, 3, 2)
	h, sink := newTestHarvester(t, cfg, s)
	defer sink.Stop()

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	dm := h.DetailMetrics()
	if dm.Total != 9 || dm.OK != 9 {
		t.Errorf("detail metrics = %+v", dm)
	}
}

func TestRun_FinalCSVJoin(t *testing.T) {
	// Every detail row whose URL appeared in the list phase carries the list
	// row's timing and identity columns.
	s := newScript(func(url string, attempt int) (string, error) {
		if strings.Contains(url, "property-for-sale") {
			return listPayload(detailURL(1), detailURL(2)), nil
		}
		return detailPayload(url, "Condo"), nil
	})

	cfg := testConfig(t, 1, 2, 4)
	h, sink := newTestHarvester(t, cfg, s)
	defer sink.Stop()

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := readCSV(t, h.AdviewCSVPath())
	if len(rows) != 3 {
		t.Fatalf("adview CSV has %d lines, want 3", len(rows))
	}
	header := rows[0]
	idx := make(map[string]int, len(header))
	for i, hname := range header {
		idx[hname] = i
	}
	for _, row := range rows[1:] {
		if row[idx["updated_date"]] == "" || row[idx["scrape_date"]] == "" || row[idx["agent_id"]] != "9001" {
			t.Errorf("join columns not folded in: %v", row)
		}
		if row[idx["ad_id"]] == "" {
			t.Errorf("ad_id missing: %v", row)
		}
	}
}
