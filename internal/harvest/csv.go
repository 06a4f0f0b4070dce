package harvest

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"pgharvest/internal/extract"
)

// Output timestamps are rendered in Malaysian wall-clock time.
var outputZone = time.FixedZone("UTC+8", 8*60*60)

// adlistColumns is the list-phase CSV header, in output order.
var adlistColumns = []string{
	"intent", "segment", "url", "title",
	"updated_date", "listed_time", "scrape_date",
	"agent_name", "agent_id", "ad_id",
}

// adviewColumns is the final CSV header, in output order. The last four
// columns are folded in from the list-phase rows by URL.
var adviewColumns = []string{
	"url", "ad_id", "title", "property_type",
	"state", "subregion", "subarea", "location", "address",
	"price", "price_per_square_feet", "rooms", "toilets", "furnishing",
	"build_up", "land_area", "tenure", "property_title", "bumi_lot",
	"total_units", "completion_year", "developer",
	"lister", "lister_url", "phone_number",
	"agency", "agency_registration_number", "ren",
	"amenities", "facilities",
	"updated_date", "listed_time", "scrape_date", "agent_id",
}

func renderDate(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).In(outputZone).Format("2006-01-02")
}

func renderTime(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).In(outputZone).Format("15:04:05")
}

func renderDateTime(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).In(outputZone).Format("2006-01-02 15:04:05")
}

// writeCSV writes header+rows to path as UTF-8 with a BOM, so spreadsheet
// imports detect the encoding.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteAdlistCSV deduplicates list rows by (url, intent, segment) and writes
// the list-phase CSV. The header is written even with zero rows.
func WriteAdlistCSV(path string, rows []extract.ListRow) error {
	seen := make(map[string]bool, len(rows))
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		key := r.URL + "\x00" + r.Intent + "\x00" + r.Segment
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, []string{
			r.Intent, r.Segment, r.URL, r.Title,
			renderDate(r.ListedUnix), renderTime(r.ListedUnix), renderDateTime(r.ScrapeUnix),
			r.AgentName, r.AgentID, r.AdID,
		})
	}
	return writeCSV(path, adlistColumns, out)
}

// joinInfo is the slice of a list row folded into the final CSV.
type joinInfo struct {
	UpdatedDate string
	ListedTime  string
	ScrapeDate  string
	AgentID     string
	AdID        string
}

// buildJoinIndex maps URL to list-row timing/identity columns. First
// occurrence wins, matching the list CSV's dedupe order.
func buildJoinIndex(rows []extract.ListRow) map[string]joinInfo {
	idx := make(map[string]joinInfo, len(rows))
	for _, r := range rows {
		if r.URL == "" {
			continue
		}
		if _, ok := idx[r.URL]; ok {
			continue
		}
		idx[r.URL] = joinInfo{
			UpdatedDate: renderDate(r.ListedUnix),
			ListedTime:  renderTime(r.ListedUnix),
			ScrapeDate:  renderDateTime(r.ScrapeUnix),
			AgentID:     r.AgentID,
			AdID:        r.AdID,
		}
	}
	return idx
}

// WriteAdviewCSV deduplicates detail rows by URL, left-joins list-row timing
// and identity columns, and writes the final CSV. A detail row whose URL was
// never seen in the list phase keeps those columns empty.
func WriteAdviewCSV(path string, details []detailRow, listRows []extract.ListRow) error {
	join := buildJoinIndex(listRows)

	seen := make(map[string]bool, len(details))
	out := make([][]string, 0, len(details))
	for _, d := range details {
		url := d.Record["url"]
		if url == "" {
			url = d.URL
		}
		if seen[url] {
			continue
		}
		seen[url] = true

		info := join[url]
		adID := d.Record["ad_id"]
		if adID == "" {
			adID = info.AdID
		}

		row := make([]string, 0, len(adviewColumns))
		for _, col := range adviewColumns {
			switch col {
			case "url":
				row = append(row, url)
			case "ad_id":
				row = append(row, adID)
			case "updated_date":
				row = append(row, info.UpdatedDate)
			case "listed_time":
				row = append(row, info.ListedTime)
			case "scrape_date":
				row = append(row, info.ScrapeDate)
			case "agent_id":
				row = append(row, info.AgentID)
			default:
				row = append(row, d.Record[col])
			}
		}
		out = append(out, row)
	}
	return writeCSV(path, adviewColumns, out)
}
