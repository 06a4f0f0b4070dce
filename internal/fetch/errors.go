// Package fetch retrieves the embedded JSON payload from listing pages
// through a headless Chrome instance. Failures carry a Kind so the retry
// machinery can tell a slow page from a blocked proxy.
package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a failed fetch.
type Kind string

const (
	// KindTimeout covers navigation or element waits that ran out of time.
	KindTimeout Kind = "timeout"
	// KindMissingPayload means the page rendered without the data script,
	// or the script held something other than JSON.
	KindMissingPayload Kind = "missing_payload"
	// KindBlocked means the site served an interstitial instead of the page.
	KindBlocked Kind = "blocked"
	// KindTransport covers browser and connection failures.
	KindTransport Kind = "transport"
)

// Error is a classified fetch failure.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindTransport for anything
// that is not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}
