// Package browser defines the rendered-client capability the harness drives.
//
// The harness never talks to a browser automation library directly. A Driver
// hands out Pages, and each Page owns exactly one isolated browsing context:
// cookies, local storage and authentication state are never shared between
// two Pages. Backends live in sub-packages (playwright, cdp); tests use
// the simulated marketplace in internal/testutil.
package browser

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Driver creates isolated pages.
type Driver interface {
	// NewPage opens a fresh browsing context with one page in it.
	NewPage(ctx context.Context) (Page, error)

	// Close shuts the driver and every page it created down.
	Close() error
}

// Page is one isolated browsing context.
//
// Methods evaluate once and return immediately; retrying belongs to the
// caller (see internal/wait). Implementations must honour ctx deadlines.
type Page interface {
	// Goto navigates to an absolute URL and waits for the load event.
	Goto(ctx context.Context, url string) error

	// Visible reports whether the first element matching loc is rendered and visible.
	Visible(ctx context.Context, loc Locator) (bool, error)

	// Fill replaces the value of the first input matching loc.
	Fill(ctx context.Context, loc Locator, value string) error

	// Click activates the first element matching loc.
	Click(ctx context.Context, loc Locator) error

	// Snapshot returns the current URL and visible text.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Screenshot encodes the current viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the browsing context.
	Close() error
}

// Snapshot is the observable rendered state at one instant.
type Snapshot struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// maxExcerpt bounds the text carried in diagnostics, in characters.
const maxExcerpt = 2000

// Excerpt returns the snapshot text with runs of whitespace collapsed,
// truncated for log and report output.
func (s Snapshot) Excerpt() string {
	text := strings.Join(strings.Fields(s.Text), " ")
	if utf8.RuneCountInString(text) <= maxExcerpt {
		return text
	}
	return string([]rune(text)[:maxExcerpt]) + "…"
}

// IsZero reports whether nothing was observed.
func (s Snapshot) IsZero() bool {
	return s.URL == "" && s.Text == ""
}
