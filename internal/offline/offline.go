// Package offline re-extracts already-collected detail payloads. It walks a
// directory of raw captures (plain JSON, gzipped, or zipped) and writes one
// CSV per run, using the same per-site schemas as the live harvest.
package offline

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"pgharvest/internal/extract"
)

// SchemaFor maps a site name to its extraction schema.
func SchemaFor(site string) (*extract.Schema, error) {
	switch strings.ToLower(site) {
	case "propertyguru", "pg", "":
		return extract.PropertyGuru(), nil
	case "iproperty", "ip":
		return extract.IProperty(), nil
	}
	return nil, fmt.Errorf("unknown site %q (valid: propertyguru, iproperty)", site)
}

// pgColumns mirrors the detail columns of the live harvest CSV, with the
// source file prepended.
var pgColumns = []string{
	"file",
	"url", "ad_id", "title", "property_type",
	"state", "subregion", "subarea", "location", "address",
	"price", "price_per_square_feet", "rooms", "toilets", "furnishing",
	"build_up", "land_area", "tenure", "property_title", "bumi_lot",
	"total_units", "completion_year", "developer",
	"lister", "lister_url", "phone_number",
	"agency", "agency_registration_number", "ren",
	"amenities", "facilities",
}

var ipColumns = []string{
	"file",
	"url", "address", "agency_name", "agency_id", "lister_url",
	"bedroom", "bedroom_raw", "bathroom", "bathroom_raw", "car_park",
	"furnishing", "furnishing_raw", "tenure",
	"built_up", "built_up_psf",
	"lister_phone", "license", "amenities",
}

func columnsFor(s *extract.Schema) []string {
	if s.Site == "iproperty" {
		return ipColumns
	}
	return pgColumns
}

// payload is one decoded capture ready for extraction.
type payload struct {
	name string // path, or path|member for zip entries
	text string
}

// walkPayloads yields every JSON payload under root: .json files as-is,
// .json.gz/.gz decompressed, and .json members of .zip archives. Unreadable
// files are skipped, never fatal.
func walkPayloads(root string, log *zap.Logger, emit func(payload)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		lower := strings.ToLower(d.Name())
		switch {
		case strings.HasSuffix(lower, ".json"):
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn("unreadable capture", zap.String("file", path), zap.Error(err))
				return nil
			}
			emit(payload{name: path, text: string(data)})

		case strings.HasSuffix(lower, ".json.gz"), strings.HasSuffix(lower, ".gz"):
			text, err := readGzip(path)
			if err != nil {
				log.Warn("unreadable capture", zap.String("file", path), zap.Error(err))
				return nil
			}
			emit(payload{name: path, text: text})

		case strings.HasSuffix(lower, ".zip"):
			if err := readZip(path, emit); err != nil {
				log.Warn("unreadable archive", zap.String("file", path), zap.Error(err))
			}
		}
		return nil
	})
}

func readGzip(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readZip(path string, emit func(payload)) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, member := range zr.File {
		if !strings.HasSuffix(strings.ToLower(member.Name), ".json") {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		emit(payload{name: path + "|" + member.Name, text: string(data)})
	}
	return nil
}

// Run extracts every payload under root with the site's schema and writes
// <site>_extract.csv into root. Returns the CSV path and the row count.
func Run(log *zap.Logger, root, site string) (string, int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := SchemaFor(site)
	if err != nil {
		return "", 0, err
	}
	columns := columnsFor(schema)

	var rows [][]string
	walkErr := walkPayloads(root, log, func(p payload) {
		rec, err := schema.Extract(p.text)
		if err != nil {
			log.Warn("extraction failed", zap.String("file", p.name), zap.Error(err))
			return
		}
		row := make([]string, 0, len(columns))
		for _, col := range columns {
			if col == "file" {
				row = append(row, p.name)
				continue
			}
			row = append(row, rec[col])
		}
		rows = append(rows, row)
	})
	if walkErr != nil {
		return "", 0, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}

	out := filepath.Join(root, schema.Site+"_extract.csv")
	if err := writeCSV(out, columns, rows); err != nil {
		return "", 0, err
	}
	log.Info("offline extraction complete",
		zap.String("site", schema.Site),
		zap.Int("rows", len(rows)),
		zap.String("csv", out))
	return out, len(rows), nil
}

// writeCSV writes header+rows as UTF-8 with a BOM, matching the harvest CSVs.
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
