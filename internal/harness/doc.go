// Package harness runs multi-actor journeys against a job-marketplace
// frontend and reports, step by step, whether the rendered state matched.
//
// # Scenario Format
//
// Scenarios are authored as Definitions in Go or as YAML documents:
//
//	name: seeker-login
//	description: "A registered job seeker can log in"
//	strategy: sequential
//	actors:
//	  - name: seeker
//	    role: job_seeker
//	steps:
//	  - actor: seeker
//	    description: "Seeker logs in"
//	    actions:
//	      - kind: navigate
//	        route: /login
//	      - kind: sign_in
//	      - kind: fill
//	        locator: "label=Email"
//	        value: "{{.seeker.Email}}"
//	      - kind: click
//	        locator: "role=button:Login"
//	    expect:
//	      - kind: visible
//	        locator: "text=Welcome, {{.seeker.FirstName}}"
//	    checkpoint: logged-in
//
// Strings are text/template sources rendered with the run's identities,
// keyed by actor name.
//
// # Execution
//
// Steps run strictly in order. Each action and expectation is bounded by
// the wait policy (runner default, scenario override, step override). The
// first failing step aborts the scenario, a "failure-step-NN" screenshot is
// captured from the failing actor's session, and the result records the
// step index, error kind and last observed page state.
//
// Sessions are provisioned per scenario by Strategy: sequential (one shared
// browsing context, roles switch through sign-out then sign-in) or
// independent (one browsing context per actor). Either way every session is
// closed before Run returns.
//
// # Deterministic Traces
//
// Every step transition is written to a run ledger (internal/store) stamped
// with a per-run sequence number, never by wall time.
// FormatTrace renders the ledger for golden comparison.
package harness
