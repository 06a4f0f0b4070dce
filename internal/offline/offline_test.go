package offline

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func pgPayload(url, title string) string {
	doc := map[string]interface{}{
		"props": map[string]interface{}{"pageProps": map[string]interface{}{"pageData": map[string]interface{}{"data": map[string]interface{}{
			"listingData": map[string]interface{}{
				"id":             "41234567",
				"url":            url,
				"localizedTitle": title,
				"price":          500000,
			},
			"propertyOverviewData": map[string]interface{}{"propertyInfo": map[string]interface{}{
				"fullAddress": "Jalan Tun Razak, Kuala Lumpur",
				"bedrooms":    "3",
				"bathrooms":   "2",
			}},
		}}}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func writeGzip(t *testing.T, path, text string) {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, text := range members {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(text)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readOut(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("CSV is missing the UTF-8 BOM")
	}
	rows, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestRun_WalksAllCaptureKinds(t *testing.T) {
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "adview_1.json"), []byte(pgPayload("https://x/1", "Plain")), 0o644); err != nil {
		t.Fatal(err)
	}
	writeGzip(t, filepath.Join(root, "adview_2.json.gz"), pgPayload("https://x/2", "Gzipped"))

	sub := filepath.Join(root, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeZip(t, filepath.Join(sub, "batch.zip"), map[string]string{
		"adview_3.json": pgPayload("https://x/3", "Zipped"),
		"notes.txt":     "not a capture",
	})

	// Invalid JSON is logged and skipped, never fatal.
	if err := os.WriteFile(filepath.Join(root, "broken.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, n, err := Run(nil, root, "propertyguru")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d rows, want 3", n)
	}
	if filepath.Base(out) != "propertyguru_extract.csv" {
		t.Errorf("output name = %q", filepath.Base(out))
	}

	rows := readOut(t, out)
	if len(rows) != 4 {
		t.Fatalf("got %d CSV lines, want 4", len(rows))
	}
	header := rows[0]
	if header[0] != "file" || header[1] != "url" {
		t.Errorf("unexpected header start: %v", header[:2])
	}

	urls := map[string]bool{}
	for _, row := range rows[1:] {
		urls[row[1]] = true
		if row[0] == "" {
			t.Errorf("file column empty: %v", row)
		}
	}
	for _, want := range []string{"https://x/1", "https://x/2", "https://x/3"} {
		if !urls[want] {
			t.Errorf("missing row for %s", want)
		}
	}
}

func TestRun_ZipMemberNameCarriesArchivePath(t *testing.T) {
	root := t.TempDir()
	writeZip(t, filepath.Join(root, "batch.zip"), map[string]string{
		"inner.json": pgPayload("https://x/9", "Zipped"),
	})

	out, _, err := Run(nil, root, "pg")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows := readOut(t, out)
	if len(rows) != 2 {
		t.Fatalf("got %d CSV lines, want 2", len(rows))
	}
	want := fmt.Sprintf("%s|inner.json", filepath.Join(root, "batch.zip"))
	if rows[1][0] != want {
		t.Errorf("file column = %q, want %q", rows[1][0], want)
	}
}

func TestRun_IPropertySite(t *testing.T) {
	root := t.TempDir()
	doc := map[string]interface{}{
		"props": map[string]interface{}{"pageProps": map[string]interface{}{"pageData": map[string]interface{}{"data": map[string]interface{}{
			"listingData": map[string]interface{}{
				"shareLink": "https://www.iproperty.com.my/property/sale/1",
			},
			"propertyOverviewData": map[string]interface{}{"propertyInfo": map[string]interface{}{
				"fullAddress": "Jalan  Ampang ,Kuala Lumpur.",
			}},
			"listingDetail": map[string]interface{}{"attributes": map[string]interface{}{
				"bedroom":  "3+1",
				"bathroom": "2",
			}},
		}}}},
	}
	b, _ := json.Marshal(doc)
	if err := os.WriteFile(filepath.Join(root, "listing.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}

	out, n, err := Run(nil, root, "iproperty")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows, want 1", n)
	}
	if filepath.Base(out) != "iproperty_extract.csv" {
		t.Errorf("output name = %q", filepath.Base(out))
	}

	rows := readOut(t, out)
	header := rows[0]
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return rows[1][i]
			}
		}
		t.Fatalf("column %q not in header", name)
		return ""
	}
	if got := col("url"); got != "https://www.iproperty.com.my/property/sale/1" {
		t.Errorf("url = %q", got)
	}
	if got := col("bedroom"); got != "4" {
		t.Errorf("bedroom = %q", got)
	}
	if got := col("address"); got != "Jalan Ampang, Kuala Lumpur" {
		t.Errorf("address = %q", got)
	}
}

func TestSchemaFor_Unknown(t *testing.T) {
	if _, err := SchemaFor("zillow"); err == nil {
		t.Fatal("expected error for unknown site")
	}
}
