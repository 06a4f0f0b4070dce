package harvest

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"pgharvest/internal/extract"
)

func readCSV(t *testing.T, path string) [][]string {
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

func TestWriteAdlistCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adlist.csv")
	// 2025-08-20 16:26:40 UTC+8.
	const listed = 1755678400
	const scraped = 1755680000

	rows := []extract.ListRow{
		{Intent: "sale", Segment: "residential", URL: "/a", Title: "First", ListedUnix: listed, ScrapeUnix: scraped, AgentName: "Amin", AgentID: "9001", AdID: "101"},
		{Intent: "sale", Segment: "residential", URL: "/a", Title: "Duplicate", AdID: "101"},
		{Intent: "rent", Segment: "residential", URL: "/a", Title: "Same URL, other intent"},
		{Intent: "sale", Segment: "residential", URL: "/b", Title: "No epoch"},
	}
	if err := WriteAdlistCSV(path, rows); err != nil {
		t.Fatalf("WriteAdlistCSV: %v", err)
	}

	got := readCSV(t, path)
	if len(got) != 4 { // header + 3 distinct (url,intent,segment)
		t.Fatalf("got %d lines, want 4", len(got))
	}
	if got[0][0] != "intent" || got[0][9] != "ad_id" {
		t.Errorf("unexpected header: %v", got[0])
	}

	first := got[1]
	if first[2] != "/a" || first[3] != "First" {
		t.Errorf("dedupe must keep the first row: %v", first)
	}
	if first[4] != "2025-08-20" {
		t.Errorf("updated_date = %q", first[4])
	}
	if first[5] != "16:26:40" {
		t.Errorf("listed_time = %q", first[5])
	}
	if first[6] != "2025-08-20 16:53:20" {
		t.Errorf("scrape_date = %q", first[6])
	}

	noEpoch := got[3]
	if noEpoch[4] != "" || noEpoch[5] != "" || noEpoch[6] != "" {
		t.Errorf("zero epochs must render empty: %v", noEpoch)
	}
}

func TestWriteAdlistCSV_EmptyStillHasHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adlist.csv")
	if err := WriteAdlistCSV(path, nil); err != nil {
		t.Fatalf("WriteAdlistCSV: %v", err)
	}
	got := readCSV(t, path)
	if len(got) != 1 {
		t.Fatalf("got %d lines, want just the header", len(got))
	}
}

func TestWriteAdviewCSV_JoinAndDedupe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adview.csv")

	listRows := []extract.ListRow{
		{URL: "/a", Intent: "sale", Segment: "residential", ListedUnix: 1755678400, ScrapeUnix: 1755680000, AgentID: "9001", AdID: "101"},
		{URL: "/b", Intent: "sale", Segment: "residential", AgentID: "9002", AdID: "102"},
	}
	details := []detailRow{
		{URL: "/a", Record: extract.Record{"url": "/a", "title": "Condo A", "ad_id": "101"}},
		{URL: "/a", Record: extract.Record{"url": "/a", "title": "Duplicate"}},
		{URL: "/b", Record: extract.Record{"url": "/b", "title": "Condo B"}}, // ad_id filled from list row
		{URL: "/c", Record: extract.Record{"url": "/c", "title": "Orphan"}}, // no list row
	}

	if err := WriteAdviewCSV(path, details, listRows); err != nil {
		t.Fatalf("WriteAdviewCSV: %v", err)
	}

	got := readCSV(t, path)
	if len(got) != 4 { // header + 3 distinct URLs
		t.Fatalf("got %d lines, want 4", len(got))
	}
	header := got[0]
	if len(header) != 34 {
		t.Fatalf("got %d columns, want 34", len(header))
	}
	col := func(row []string, name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %q not in header", name)
		return ""
	}

	rowA := got[1]
	if col(rowA, "title") != "Condo A" {
		t.Errorf("dedupe must keep the first detail row: %v", rowA)
	}
	if col(rowA, "updated_date") != "2025-08-20" || col(rowA, "agent_id") != "9001" {
		t.Errorf("join columns missing: updated_date=%q agent_id=%q", col(rowA, "updated_date"), col(rowA, "agent_id"))
	}

	rowB := got[2]
	if col(rowB, "ad_id") != "102" {
		t.Errorf("empty ad_id must be filled from the list row, got %q", col(rowB, "ad_id"))
	}

	rowC := got[3]
	for _, name := range []string{"updated_date", "listed_time", "scrape_date", "agent_id"} {
		if col(rowC, name) != "" {
			t.Errorf("orphan URL should leave %s empty, got %q", name, col(rowC, name))
		}
	}
}
