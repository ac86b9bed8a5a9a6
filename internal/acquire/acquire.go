// Package acquire fetches the textual content of a website by bounded breadth-first crawling.
package acquire

import (
	"fmt"
)

// Reason classifies an acquisition failure.
type Reason string

const (
	ReasonTimeout Reason = "timeout"
	// ReasonBlocked means the seed could not be fetched: bad scheme, refused connection or an HTTP error status.
	ReasonBlocked Reason = "blocked"
	ReasonEmpty   Reason = "empty"
)

// Error is returned by Acquire.
type Error struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquire %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("acquire %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stage-qualified reason, e.g. "acquisition:timeout".
func (e *Error) Code() string { return "acquisition:" + string(e.Reason) }
