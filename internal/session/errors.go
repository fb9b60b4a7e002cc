package session

import (
	"errors"
	"fmt"

	"github.com/roach88/jobharness/internal/browser"
)

// Kind categorizes step failures.
type Kind string

const (
	// KindNavigation means a route never became reachable within the bound.
	KindNavigation Kind = "NAVIGATION"

	// KindElementNotFound means no control or field resolved within the bound.
	KindElementNotFound Kind = "ELEMENT_NOT_FOUND"

	// KindAssertionTimeout means expected text, URL or visibility was never observed.
	KindAssertionTimeout Kind = "ASSERTION_TIMEOUT"

	// KindUnexpectedState means the observed state diverged from the expected one,
	// e.g. an identity switch without a sign-out, or an operation on a closed session.
	KindUnexpectedState Kind = "UNEXPECTED_STATE"
)

// Error is the failure every session operation reports.
// It carries the last observed state for postmortem diagnosis.
type Error struct {
	Kind Kind

	// Op names the failing operation ("navigate", "fill", "assert_visible", ...).
	Op string

	// Target is the route, locator or pattern the operation was aimed at.
	Target string

	// Actor is the session's actor name.
	Actor string

	// Observed is the last rendered state seen before giving up.
	Observed browser.Snapshot

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Kind, e.Op, e.Target)
	if e.Actor != "" {
		msg += fmt.Sprintf(" (actor=%s)", e.Actor)
	}
	if e.Observed.URL != "" {
		msg += fmt.Sprintf(" [url=%s]", e.Observed.URL)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind, or "" for errors that did not come from a session.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ObservedOf extracts the last observed state carried by err, if any.
func ObservedOf(err error) (browser.Snapshot, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Observed, !se.Observed.IsZero()
	}
	return browser.Snapshot{}, false
}

// IsKind reports whether err is a session error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
