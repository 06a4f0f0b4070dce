package extract

import (
	"regexp"
	"strings"
)

// Free-text patterns for the modal-style detail tables. These fill fields the
// structured paths missed.
var (
	reBumi       = regexp.MustCompile(`(?i)\b(?:Not\s+)?Bumi\s+Lot\b`)
	reTitleType  = regexp.MustCompile(`(?i)\b(Individual|Strata|Master)\s+title\b`)
	reDeveloper  = regexp.MustCompile(`(?i)^Developed by\s+(.+)$`)
	reCompleted  = regexp.MustCompile(`(?i)\b(?:Completed|Completion)\s+in\s+(\d{4})\b`)
	reFloorArea  = regexp.MustCompile(`(?i)([\d,\.]+)\s*(?:sqft|sf)\s*floor\s*area\b`)
	reLandArea   = regexp.MustCompile(`(?i)([\d,\.]+)\s*(?:sqft|sf)\s*land\s*area\b`)
	rePsfText    = regexp.MustCompile(`(?i)\bRM\s*([\d\.,]+)\s*psf\b`)
	reTenureText = regexp.MustCompile(`(?i)\b(Freehold|Leasehold)\s+tenure\b`)
)

var furnishPathsStrict = []string{
	"propertyOverviewData.propertyInfo.furnishing",
	"listingData.property.furnishing",
	"listingData.furnishing",
	"listingDetail.attributes.furnishing",
}

// itemStrings collects the value/text/label/name strings from every
// items-list under node, plus lists whose key mentions detail or item.
func itemStrings(node interface{}, out *[]string) {
	switch n := node.(type) {
	case map[string]interface{}:
		for k, v := range n {
			if m, ok := v.(map[string]interface{}); ok {
				if items, ok := m["items"].([]interface{}); ok {
					collectItemFields(items, out)
				}
			}
			if list, ok := v.([]interface{}); ok {
				lk := strings.ToLower(k)
				if strings.Contains(lk, "detail") || strings.Contains(lk, "item") {
					collectItemFields(list, out)
				}
			}
			itemStrings(v, out)
		}
	case []interface{}:
		for _, v := range n {
			itemStrings(v, out)
		}
	}
}

func collectItemFields(items []interface{}, out *[]string) {
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range []string{"value", "text", "label", "name"} {
			if s, ok := m[key].(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					*out = append(*out, t)
				}
			}
		}
	}
}

// fillFromDetails scans the payload's detail strings and fills any still-empty
// seeded field whose pattern matches. First match wins per field.
func fillFromDetails(root map[string]interface{}, rec Record) {
	var strs []string
	itemStrings(root, &strs)

	for _, v := range strs {
		if rec["property_title"] == "" {
			if m := reTitleType.FindString(v); m != "" {
				rec["property_title"] = titleCase(m)
			}
		}
		if rec["bumi_lot"] == "" {
			if m := reBumi.FindString(v); m != "" {
				if strings.Contains(m, "Not") || strings.Contains(m, "not") {
					rec["bumi_lot"] = "Not Bumi Lot"
				} else {
					rec["bumi_lot"] = "Bumi Lot"
				}
			}
		}
		if rec["developer"] == "" {
			if m := reDeveloper.FindStringSubmatch(v); m != nil {
				rec["developer"] = strings.TrimSpace(m[1])
			}
		}
		if rec["completion_year"] == "" {
			if m := reCompleted.FindStringSubmatch(v); m != nil {
				rec["completion_year"] = m[1]
			}
		}
		if rec["build_up"] == "" {
			if m := reFloorArea.FindStringSubmatch(v); m != nil {
				rec["build_up"] = DigitsOnly(m[1])
			}
		}
		if rec["land_area"] == "" {
			if m := reLandArea.FindStringSubmatch(v); m != nil {
				rec["land_area"] = DigitsOnly(m[1])
			}
		}
		if rec["price_per_square_feet"] == "" {
			if m := rePsfText.FindStringSubmatch(v); m != nil {
				rec["price_per_square_feet"] = DigitsOnly(m[1])
			}
		}
		if rec["tenure"] == "" {
			if m := reTenureText.FindStringSubmatch(v); m != nil {
				rec["tenure"] = titleCase(m[1])
			}
		}
	}
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// extractFurnishing resolves furnishing with strict precedence: the metatable
// row whose icon is furnished-o, then the structural paths, then labeled rows
// inside detailsData only. Returns the canonical value and its source.
func extractFurnishing(root map[string]interface{}) (string, string) {
	if v := furnishingFromMetatable(root); v != "" {
		return v, "detailsData.metatable(icon=furnished-o)"
	}
	for _, p := range furnishPathsStrict {
		raw, _ := Lookup(root, p).(string)
		if v := NormalizeFurnishing(raw); v != "" {
			return v, p
		}
	}
	if v := furnishingFromLabeledItems(root); v != "" {
		return v, "detailsData.labeled"
	}
	return "", ""
}

func furnishingFromMetatable(root map[string]interface{}) string {
	items, _ := Lookup(root, "detailsData.metatable.items").([]interface{})
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		if icon, _ := m["icon"].(string); icon == "furnished-o" {
			val, _ := m["value"].(string)
			if v := NormalizeFurnishing(val); v != "" {
				return v
			}
		}
	}
	return ""
}

func furnishingFromLabeledItems(root map[string]interface{}) string {
	scope, ok := root["detailsData"]
	if !ok {
		return ""
	}
	var found string
	var walk func(node interface{})
	walk = func(node interface{}) {
		if found != "" {
			return
		}
		switch n := node.(type) {
		case map[string]interface{}:
			if items, ok := n["items"].([]interface{}); ok {
				for _, it := range items {
					m, ok := it.(map[string]interface{})
					if !ok {
						continue
					}
					label := firstString(m, "label", "name", "title")
					value := firstString(m, "value", "text")
					if label != "" && value != "" && strings.HasPrefix(strings.ToLower(label), "furnish") {
						if v := NormalizeFurnishing(value); v != "" {
							found = v
							return
						}
					}
				}
			}
			for _, v := range n {
				walk(v)
			}
		case []interface{}:
			for _, v := range n {
				walk(v)
			}
		}
	}
	walk(scope)
	return found
}

// metatableValues collects the display strings of every metatable row in the
// payload, wherever the table is keyed (metatable or metaTable).
func metatableValues(node interface{}) []string {
	var out []string
	var walk func(interface{})
	walk = func(n interface{}) {
		switch v := n.(type) {
		case map[string]interface{}:
			for k, child := range v {
				if k == "metatable" || k == "metaTable" {
					if m, ok := child.(map[string]interface{}); ok {
						if items, ok := m["items"].([]interface{}); ok {
							for _, it := range items {
								if im, ok := it.(map[string]interface{}); ok {
									if s := firstString(im, "value", "valueText", "text"); s != "" {
										out = append(out, s)
									}
								}
							}
						}
					}
				}
				walk(child)
			}
		case []interface{}:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return out
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	return ""
}
