package harness

import (
	"fmt"
	"time"

	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/session"
)

// State is a scenario's lifecycle position.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StatePassed     State = "PASSED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePassed || s == StateFailed
}

// TraceEvent is one step transition, in seq order.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	Step        int    `json:"step"`
	Actor       string `json:"actor"`
	Description string `json:"description"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail,omitempty"`
}

// Failure describes the first unresolved step.
type Failure struct {
	// Index is the 1-based position of the failing step.
	Index       int          `json:"index"`
	Description string       `json:"description"`
	Actor       string       `json:"actor"`
	Kind        session.Kind `json:"kind"`
	Message     string       `json:"message"`

	// Observed is the last rendered state seen before giving up.
	Observed browser.Snapshot `json:"observed"`

	// Artifact is the failure screenshot path, empty if the capture itself failed.
	Artifact string `json:"artifact,omitempty"`
}

// Result is the outcome of one scenario execution.
type Result struct {
	RunID    string   `json:"run_id"`
	Scenario string   `json:"scenario"`
	Strategy Strategy `json:"strategy"`
	State    State    `json:"state"`

	// StepsRun counts steps that were started, including a failing one.
	StepsRun   int `json:"steps_run"`
	StepsTotal int `json:"steps_total"`

	// SessionsOpened counts browsing contexts created for the run. All of
	// them are closed by the time Run returns.
	SessionsOpened int `json:"sessions_opened"`

	Failure    *Failure                     `json:"failure,omitempty"`
	Identities map[string]identity.Identity `json:"identities,omitempty"`
	Artifacts  []string                     `json:"artifacts,omitempty"`
	Trace      []TraceEvent                 `json:"trace"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewResult creates a result in NOT_STARTED.
func NewResult(runID string, sc *Scenario) *Result {
	return &Result{
		RunID:      runID,
		Scenario:   sc.Name(),
		Strategy:   sc.Strategy(),
		State:      StateNotStarted,
		StepsTotal: sc.Len(),
		Trace:      []TraceEvent{},
	}
}

// Passed reports whether every step resolved.
func (r *Result) Passed() bool { return r.State == StatePassed }

// Duration is the wall time between start and finish.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Result) transition(to State) error {
	ok := false
	switch r.State {
	case StateNotStarted:
		ok = to == StateRunning
	case StateRunning:
		ok = to.Terminal()
	}
	if !ok {
		return fmt.Errorf("scenario %q: illegal transition %s -> %s", r.Scenario, r.State, to)
	}
	r.State = to
	return nil
}

func (r *Result) start(now time.Time) error {
	if err := r.transition(StateRunning); err != nil {
		return err
	}
	r.StartedAt = now
	return nil
}

func (r *Result) pass(now time.Time) error {
	if err := r.transition(StatePassed); err != nil {
		return err
	}
	r.FinishedAt = now
	return nil
}

func (r *Result) fail(now time.Time, f Failure) error {
	if err := r.transition(StateFailed); err != nil {
		return err
	}
	r.Failure = &f
	r.FinishedAt = now
	return nil
}

// Report aggregates the results of RunAll.
type Report struct {
	Results []*Result `json:"results"`
}

// Passed reports whether every scenario passed. An empty report passes.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}
	return true
}

// Counts returns the number of passed and failed scenarios.
func (r *Report) Counts() (passed, failed int) {
	for _, res := range r.Results {
		if res.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// Failed returns the failed results in run order.
func (r *Report) Failed() []*Result {
	var out []*Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}
