package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	moneyRe  = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?`)
	digitsRe = regexp.MustCompile(`\d+`)
	numRe    = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// ParseMoney yields an integer currency amount as a string. Numeric inputs
// pass straight through rounded; strings are parsed tolerating thousands
// separators and decimals ("RM 1,234,567.50" -> "1234568").
func ParseMoney(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatInt(int64(math.Round(val)), 10)
	case int:
		return strconv.Itoa(val)
	}
	s := Str(v)
	if s == "" || s == "-" {
		return ""
	}
	m := moneyRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	whole := strings.ReplaceAll(m[1], ",", "")
	if m[2] != "" {
		f, err := strconv.ParseFloat(whole+"."+m[2], 64)
		if err == nil {
			return strconv.FormatInt(int64(math.Round(f)), 10)
		}
	}
	return whole
}

// DigitsOnly concatenates every digit run in the value ("1,250 sqft" ->
// "1250").
func DigitsOnly(v interface{}) string {
	s := Str(v)
	if s == "" {
		return ""
	}
	return strings.Join(digitsRe.FindAllString(s, -1), "")
}

// ParseNum extracts the first numeric token, comma-tolerant.
func ParseNum(v interface{}) (float64, bool) {
	s := strings.ReplaceAll(Str(v), ",", "")
	m := numRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// MapTenure expands single-letter tenure codes; anything else passes through.
func MapTenure(v interface{}) string {
	s := Str(v)
	if s == "" {
		return ""
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "F":
		return "Freehold"
	case "L":
		return "Leasehold"
	}
	return s
}

// NormalizeFurnishing maps free-text furnishing onto the three canonical
// values. Unknown text yields empty rather than a guess.
func NormalizeFurnishing(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bare", "unfurnished", "not furnished", "non furnished", "no furnishing":
		return "Unfurnished"
	case "partly furnished", "partially furnished", "semi furnished", "semi-furnished":
		return "Partially Furnished"
	case "fully furnished", "furnished":
		return "Fully Furnished"
	}
	return ""
}

// malaysianStates are matched as whole words inside addresses; synonyms map
// to the canonical name.
var malaysianStates = []string{
	"Johor", "Kedah", "Kelantan", "Melaka", "Negeri Sembilan", "Pahang", "Perak", "Perlis",
	"Pulau Pinang", "Penang", "Sabah", "Sarawak", "Selangor", "Terengganu",
	"Kuala Lumpur", "W.P. Kuala Lumpur", "Putrajaya", "Labuan",
}

var stateSynonyms = map[string]string{
	"Penang":            "Pulau Pinang",
	"W.P. Kuala Lumpur": "Kuala Lumpur",
}

var stateRes = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(malaysianStates))
	for _, st := range malaysianStates {
		out[st] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(st) + `\b`)
	}
	return out
}()

// FindStateInAddress returns the first known Malaysian state appearing as a
// whole word in the address, synonym-normalized.
func FindStateInAddress(address string) string {
	if strings.TrimSpace(address) == "" {
		return ""
	}
	for _, st := range malaysianStates {
		if stateRes[st].MatchString(address) {
			if canon, ok := stateSynonyms[st]; ok {
				return canon
			}
			return st
		}
	}
	return ""
}

var (
	wsRe       = regexp.MustCompile(`\s+`)
	commaRe    = regexp.MustCompile(`\s*,\s*`)
	endDotRe   = regexp.MustCompile(`\.\s*$`)
	bedBathSum = regexp.MustCompile(`^\s*\d+\s*\+\s*\d+\s*$`)
)

// NormalizeAddress collapses whitespace, standardizes comma spacing, strips a
// trailing period, and decodes the stray &amp; sites leave in addresses.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	s = wsRe.ReplaceAllString(s, " ")
	s = commaRe.ReplaceAllString(s, ", ")
	s = endDotRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "&amp;", "&")
}

// ParseBedBathToken interprets a bed/bath count token: "3" -> 3, "3+1" -> 4.
// Returns the parsed count and whether anything numeric was found.
func ParseBedBathToken(tok string) (int, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, false
	}
	if bedBathSum.MatchString(tok) {
		parts := digitsRe.FindAllString(tok, -1)
		if len(parts) >= 2 {
			a, _ := strconv.Atoi(parts[0])
			b, _ := strconv.Atoi(parts[1])
			return a + b, true
		}
	}
	m := digitsRe.FindString(tok)
	if m == "" {
		return 0, false
	}
	n, _ := strconv.Atoi(m)
	return n, true
}

var carParkRe = regexp.MustCompile(`(?i)\b(\d+)\s*(?:car\s*park(?:s)?|carpark(?:s)?|parking\s*(?:lot|lots|bay|bays|space|spaces|slot|slots))\b`)

// MaxCarPark scans text values for car-park phrases and returns the highest
// count mentioned, or 0 when none match.
func MaxCarPark(texts []string) int {
	max := 0
	for _, t := range texts {
		for _, m := range carParkRe.FindAllStringSubmatch(t, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	return max
}

// AreaToSqft converts an area to square feet when the unit text says square
// meters; sqft (and unknown) values pass through.
func AreaToSqft(value float64, unit string) float64 {
	u := strings.ToLower(unit)
	if strings.Contains(u, "sqm") || strings.Contains(u, "m²") ||
		strings.Contains(u, "sq.m") || strings.Contains(u, "square meter") {
		return value * 10.7639
	}
	return value
}
