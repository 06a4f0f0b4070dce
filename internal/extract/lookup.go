// Package extract turns the JSON payload embedded in a listing page into a
// flat record. The engine is site-agnostic: a Schema supplies the per-site
// field list (candidate paths plus normalizers) and a finalize hook for
// cross-field rules. Extraction is pure; the same payload always yields the
// same record.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingRoot reports a payload that parsed as JSON but holds no listing
// data subtree.
var ErrMissingRoot = errors.New("listing data root not found")

// Record is one extracted row, keyed by output column name.
type Record map[string]string

// DataRoot navigates to the listing data subtree
// (props.pageProps.pageData.data). A document that already is the subtree
// (has listingData alongside propertyOverviewData) is accepted as-is.
func DataRoot(doc interface{}) (map[string]interface{}, bool) {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return nil, false
	}
	dd := Lookup(m, "props.pageProps.pageData.data")
	if root, ok := dd.(map[string]interface{}); ok && len(root) > 0 {
		return root, true
	}
	if _, hasListing := m["listingData"]; hasListing {
		if _, hasOverview := m["propertyOverviewData"]; hasOverview {
			return m, true
		}
	}
	return nil, false
}

// Lookup resolves a dotted path against nested maps and slices. Numeric
// tokens index into slices. A miss anywhere returns nil.
func Lookup(d interface{}, dotted string) interface{} {
	cur := d
	for _, tok := range strings.Split(dotted, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[tok]
			if !ok {
				return nil
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

// PickFirst evaluates candidate paths in order, returning the first non-empty
// value. Nil, empty string, and empty list all count as empty.
func PickFirst(d interface{}, paths []string) interface{} {
	for _, p := range paths {
		v := Lookup(d, p)
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val != "" {
				return val
			}
		case []interface{}:
			if len(val) > 0 {
				return val
			}
		default:
			return val
		}
	}
	return nil
}

// Str renders a looked-up scalar as its canonical string form. Integral
// floats lose the trailing ".0" JSON decoding gives them.
func Str(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Schema binds a site's field list and cross-field rules to the shared
// extraction engine.
type Schema struct {
	Site   string
	Domain string

	// Fields are extracted first, in order, by candidate-path pick.
	Fields []FieldSpec

	// Finalize runs after the field pass for rules spanning several fields
	// or walking the payload directly.
	Finalize func(rec Record, root map[string]interface{})
}

// FieldSpec is one output column: candidate paths plus an optional
// normalizer applied to the picked value.
type FieldSpec struct {
	Name      string
	Paths     []string
	Normalize func(v interface{}) string
}

// Extract parses the payload text and produces a record. A payload that is a
// JSON array is scanned for the first element holding a data root, matching
// how archived captures are sometimes wrapped.
func (s *Schema) Extract(text string) (Record, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}

	root, ok := DataRoot(doc)
	if !ok {
		if arr, isArr := doc.([]interface{}); isArr {
			for _, item := range arr {
				if r, found := DataRoot(item); found {
					root, ok = r, true
					break
				}
			}
		}
	}
	if !ok {
		return nil, ErrMissingRoot
	}

	rec := make(Record, len(s.Fields))
	for _, f := range s.Fields {
		v := PickFirst(root, f.Paths)
		if f.Normalize != nil {
			rec[f.Name] = f.Normalize(v)
		} else {
			rec[f.Name] = Str(v)
		}
	}
	if s.Finalize != nil {
		s.Finalize(rec, root)
	}
	return rec, nil
}

// makeAbs prefixes site-relative URLs with the schema domain.
func (s *Schema) makeAbs(u string) string {
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "http") {
		return u
	}
	return s.Domain + u
}
