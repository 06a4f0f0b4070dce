package archive

import (
	"archive/zip"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgharvest/internal/notify"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestZip_RoundTrip(t *testing.T) {
	src := writeCSV(t, t.TempDir(), "rows.csv", "url,title\n/a,First\n")

	zipPath, err := Zip(src)
	if err != nil {
		t.Fatalf("Zip: %v", err)
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()

	if len(r.File) != 1 || r.File[0].Name != "rows.csv" {
		t.Fatalf("unexpected entries: %+v", r.File)
	}
	rc, err := r.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "url,title\n/a,First\n" {
		t.Errorf("round trip mismatch: %q", data)
	}
}

func TestGzip_RoundTrip(t *testing.T) {
	src := writeCSV(t, t.TempDir(), "rows.csv", "url,title\n/a,First\n")

	gzPath, err := Gzip(src)
	if err != nil {
		t.Fatalf("Gzip: %v", err)
	}

	f, err := os.Open(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer gr.Close()
	data, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "url,title\n/a,First\n" {
		t.Errorf("round trip mismatch: %q", data)
	}
}

func TestCompressAndUpload_SendsZip(t *testing.T) {
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return
		}
		if _, hdr, err := r.FormFile("file"); err == nil {
			gotName = hdr.Filename
		}
	}))
	defer srv.Close()

	src := writeCSV(t, t.TempDir(), "adview.csv", strings.Repeat("row,data\n", 100))

	client := notify.New(nil)
	client.Pace = time.Millisecond
	client.Start()
	CompressAndUpload(client, nil, srv.URL, src, "done")
	client.Stop()

	if gotName != "adview.csv.zip" {
		t.Errorf("uploaded %q, want the zip archive", gotName)
	}
}

func TestCompressAndUpload_NoWebhookIsNoop(t *testing.T) {
	src := writeCSV(t, t.TempDir(), "adview.csv", "a\n")

	client := notify.New(nil)
	client.Pace = time.Millisecond
	client.Start()
	CompressAndUpload(client, nil, "", src, "")
	client.Stop()

	if _, err := os.Stat(src + ".zip"); !os.IsNotExist(err) {
		t.Error("no archive should be produced without a webhook")
	}
}
