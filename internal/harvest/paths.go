// Package harvest runs the two-phase collection: list pages first, detail
// pages second. It owns the workers, the phase sequencer, the in-memory row
// buffers, and CSV assembly. Everything transient is handled inside the
// worker loop; the sequencer only observes stage counters and row buffers.
package harvest

import (
	"fmt"
	"regexp"
	"strings"
)

const siteBase = "https://www.propertyguru.com.my"

// BuildAdlistURL composes the search-result URL for one category page,
// sorted newest-first so early pages hold the freshest listings.
func BuildAdlistURL(intent string, isCommercial bool, page int) string {
	return fmt.Sprintf("%s/property-for-%s?isCommercial=%t&sort=date&order=desc&page=%d",
		siteBase, intent, isCommercial, page)
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SafeName converts an arbitrary string (usually a URL) into a filesystem
// token: unsafe runs collapse to "-", trimmed, capped at 120 characters.
func SafeName(s string) string {
	s = unsafeNameRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// listRawName is the raw-payload filename for a search-result page.
func listRawName(intent, segment string, page int) string {
	return fmt.Sprintf("%s_%s_page_%d.json", intent, segment, page)
}

// detailRawName is the raw-payload filename for a detail page; the listing
// id is preferred over a mangled URL.
func detailRawName(intent, segment, adID, url string) string {
	name := adID
	if name == "" {
		name = SafeName(url)
	}
	return fmt.Sprintf("adview_%s_%s_%s.json", intent, segment, name)
}
