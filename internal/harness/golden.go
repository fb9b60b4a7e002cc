package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders the deterministic part of a result: no run ID,
// timestamps, identities or timing, so the same scenario against the same
// application state always renders identically.
func FormatTrace(r *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", r.Scenario)
	fmt.Fprintf(&buf, "strategy: %s\n", r.Strategy)
	fmt.Fprintf(&buf, "state: %s\n", r.State)
	fmt.Fprintf(&buf, "steps: %d/%d\n", r.StepsRun, r.StepsTotal)
	fmt.Fprintf(&buf, "sessions: %d\n", r.SessionsOpened)
	if r.Failure != nil {
		fmt.Fprintf(&buf, "failure: step %d (%s) %s\n", r.Failure.Index, r.Failure.Actor, r.Failure.Kind)
	}
	buf.WriteString("trace:\n")
	for _, ev := range r.Trace {
		fmt.Fprintf(&buf, "  %04d step=%02d actor=%s %s: %s", ev.Seq, ev.Step, ev.Actor, ev.Outcome, ev.Description)
		if ev.Detail != "" {
			fmt.Fprintf(&buf, " [%s]", ev.Detail)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// AssertGolden compares the result's trace against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, r *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatTrace(r))
}
