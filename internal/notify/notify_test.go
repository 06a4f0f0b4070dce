package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type capture struct {
	mu       sync.Mutex
	requests []recorded
}

type recorded struct {
	method  string
	path    string
	query   string
	content string
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var msg struct {
				Content string `json:"content"`
			}
			_ = json.Unmarshal(body, &msg)
			rec.content = msg.Content
		} else {
			rec.content = string(body)
		}
		c.mu.Lock()
		c.requests = append(c.requests, rec)
		c.mu.Unlock()

		if r.URL.Query().Get("wait") == "true" {
			fmt.Fprint(w, `{"id":"msg-1"}`)
		}
	}
}

func (c *capture) all() []recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recorded, len(c.requests))
	copy(out, c.requests)
	return out
}

func newTestClient() *Client {
	c := New(nil)
	c.Pace = time.Millisecond
	c.Start()
	return c
}

func TestClient_SendEvent(t *testing.T) {
	var calls capture
	srv := httptest.NewServer(calls.handler(t))
	defer srv.Close()

	c := newTestClient()
	c.SendEvent(srv.URL, "hello")
	c.SendEvent(srv.URL, "world")
	c.SendEvent("", "ignored")
	c.Stop()

	got := calls.all()
	if len(got) != 2 {
		t.Fatalf("got %d requests, want 2", len(got))
	}
	if got[0].content != "hello" || got[1].content != "world" {
		t.Errorf("unexpected contents: %+v", got)
	}
}

func TestClient_SetDashboardCreatesThenEdits(t *testing.T) {
	var calls capture
	srv := httptest.NewServer(calls.handler(t))
	defer srv.Close()

	c := newTestClient()
	c.SetDashboard(srv.URL, "first")
	c.SetDashboard(srv.URL, "second")
	c.SetDashboard(srv.URL, "third")
	c.Stop()

	got := calls.all()
	if len(got) != 3 {
		t.Fatalf("got %d requests, want 3", len(got))
	}
	if got[0].method != http.MethodPost || got[0].query != "wait=true" {
		t.Errorf("first request should create with wait=true: %+v", got[0])
	}
	for _, r := range got[1:] {
		if r.method != http.MethodPatch || !strings.HasSuffix(r.path, "/messages/msg-1") {
			t.Errorf("expected edit of msg-1, got %+v", r)
		}
	}
	if got[2].content != "third" {
		t.Errorf("last edit content = %q", got[2].content)
	}
}

func TestClient_SetDashboardRecreatesAfter404(t *testing.T) {
	var mu sync.Mutex
	var creates, edits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPatch {
			edits++
			w.WriteHeader(http.StatusNotFound)
			return
		}
		creates++
		fmt.Fprintf(w, `{"id":"msg-%d"}`, creates)
	}))
	defer srv.Close()

	c := newTestClient()
	c.SetDashboard(srv.URL, "a") // create
	c.SetDashboard(srv.URL, "b") // edit -> 404, id dropped
	c.SetDashboard(srv.URL, "c") // create again
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	if creates != 2 || edits != 1 {
		t.Errorf("creates=%d edits=%d, want 2/1", creates, edits)
	}
}

func TestClient_SendFile(t *testing.T) {
	var gotName string
	var gotComment string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotComment = r.FormValue("payload_json")
		if _, hdr, err := r.FormFile("file"); err == nil {
			gotName = hdr.Filename
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "adlist.csv")
	if err := os.WriteFile(path, []byte("a,b,c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient()
	if err := c.SendFile(srv.URL, path, "run complete"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	c.Stop()

	if gotName != "adlist.csv" {
		t.Errorf("filename = %q", gotName)
	}
	if !strings.Contains(gotComment, "run complete") {
		t.Errorf("payload_json = %q", gotComment)
	}
}

func TestClient_SendFileRejectsOversize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxUploadBytes + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	c := newTestClient()
	defer c.Stop()
	if err := c.SendFile("http://unused.invalid/", path, ""); err == nil {
		t.Error("oversize file must be rejected")
	}
}

func TestClient_DeadWebhookDoesNotBlock(t *testing.T) {
	c := newTestClient()
	done := make(chan struct{})
	go func() {
		c.SendEvent("http://127.0.0.1:1/nope", "x")
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(35 * time.Second):
		t.Fatal("delivery to a dead webhook blocked the caller")
	}
}
