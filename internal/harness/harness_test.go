package harness

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobharness/internal/artifact"
	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/session"
	"github.com/roach88/jobharness/internal/store"
	"github.com/roach88/jobharness/internal/testutil"
	"github.com/roach88/jobharness/internal/wait"
)

const testBase = "http://market.test"

var fastPolicy = wait.Policy{Timeout: 150 * time.Millisecond, Interval: 5 * time.Millisecond}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, m *testutil.Marketplace, opts ...Option) (*Runner, string) {
	t.Helper()
	out := t.TempDir()
	base := []Option{
		WithBaseURL(testBase),
		WithPolicy(fastPolicy),
		WithCollector(artifact.NewCollector(out, quietLogger())),
		WithGenerator(identity.NewSeededGenerator(42)),
		WithRunIDs(testutil.NewSequentialRunIDs("test")),
		WithLogger(quietLogger()),
	}
	return NewRunner(m, append(base, opts...)...), out
}

func seekerLoginSteps(desc string) Step {
	return Step{
		Actor:       "seeker",
		Description: desc,
		Actions: []Action{
			Navigate("/login"),
			SignInAs("seeker"),
			Fill(browser.Label("Email"), "{{.seeker.Email}}"),
			Fill(browser.Label("Password"), "{{.seeker.Password}}"),
			Click(browser.Button("Login")),
		},
		Expect: []Expectation{Visible(browser.Text("Welcome, {{.seeker.FirstName}}"))},
	}
}

func TestRun_GoldenPassingScenario(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	m.FlashDelay = 3
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)

	r, out := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, res.Passed(), "failure: %+v", res.Failure)

	assert.Equal(t, "test-0001", res.RunID)
	assert.Equal(t, 1, res.SessionsOpened)
	assert.Zero(t, m.OpenPages(), "no session outlives its scenario")
	assert.Equal(t, []string{filepath.Join(out, "seeker-signup", "logged-in.png")}, res.Artifacts)
	assert.FileExists(t, res.Artifacts[0])
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	AssertGolden(t, "seeker-signup", res)
}

func TestRun_GoldenFailingScenario(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name:   "seeker-login-unknown",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps: []Step{
			seekerLoginSteps("Seeker logs in"),
			{Actor: "seeker", Description: "Seeker opens home", Actions: []Action{Navigate("/home")}},
		},
	})

	r, out := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Failure)
	assert.Equal(t, 1, res.Failure.Index)
	assert.Equal(t, "Seeker logs in", res.Failure.Description)
	assert.Equal(t, session.KindAssertionTimeout, res.Failure.Kind)
	assert.Equal(t, testBase+"/login", res.Failure.Observed.URL)
	assert.Contains(t, res.Failure.Observed.Text, "Invalid email or password")
	assert.Equal(t, filepath.Join(out, "seeker-login-unknown", "failure-step-01.png"), res.Failure.Artifact)
	assert.FileExists(t, res.Failure.Artifact)
	assert.Equal(t, 1, res.StepsRun, "fail-fast: later steps never start")
	assert.Zero(t, m.OpenPages())

	AssertGolden(t, "seeker-login-unknown", res)
}

func TestRun_SequentialRoleSwitchRequiresSignOut(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name: "silent-switch",
		Actors: []Actor{
			{Name: "employer", Role: identity.RoleEmployer},
			{Name: "seeker", Role: identity.RoleJobSeeker},
		},
		Steps: []Step{
			{Actor: "employer", Description: "employer binds", Actions: []Action{SignInAs("employer")}},
			{Actor: "seeker", Description: "seeker binds without sign-out", Actions: []Action{SignInAs("seeker")}},
		},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, 2, res.Failure.Index)
	assert.Equal(t, session.KindUnexpectedState, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "sign out first")
}

func TestRun_SequentialActorCannotBorrowSignedInSession(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name: "borrowed-session",
		Actors: []Actor{
			{Name: "employer", Role: identity.RoleEmployer},
			{Name: "seeker", Role: identity.RoleJobSeeker},
		},
		Steps: []Step{
			{Actor: "employer", Description: "employer binds", Actions: []Action{SignInAs("employer")}},
			{Actor: "seeker", Description: "seeker browses", Actions: []Action{Navigate("/home")}},
		},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, 2, res.Failure.Index)
	assert.Equal(t, "seeker", res.Failure.Actor)
	assert.Equal(t, session.KindUnexpectedState, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "sign out first")
	assert.Contains(t, res.Failure.Message, res.Identities["employer"].Email)
}

func TestRun_SignOutStepHandsSessionOver(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name: "handoff-by-next-actor",
		Actors: []Actor{
			{Name: "employer", Role: identity.RoleEmployer},
			{Name: "seeker", Role: identity.RoleJobSeeker},
		},
		Steps: []Step{
			{Actor: "employer", Description: "employer binds", Actions: []Action{SignInAs("employer")}},
			{Actor: "seeker", Description: "seeker takes over", Actions: []Action{{Kind: ActionSignOut}, SignInAs("seeker")}},
			{Actor: "seeker", Description: "seeker browses", Actions: []Action{Navigate("/home")}},
		},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failure: %+v", res.Failure)
}

func TestRun_SequentialRoleSwitchWithSignOut(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name: "explicit-switch",
		Actors: []Actor{
			{Name: "employer", Role: identity.RoleEmployer},
			{Name: "seeker", Role: identity.RoleJobSeeker},
		},
		Steps: []Step{
			{Actor: "employer", Description: "employer binds", Actions: []Action{SignInAs("employer")}},
			{Actor: "employer", Description: "employer signs out", Actions: []Action{{Kind: ActionSignOut}}},
			{Actor: "seeker", Description: "seeker binds", Actions: []Action{SignInAs("seeker")}},
		},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failure: %+v", res.Failure)
	assert.Equal(t, 1, res.SessionsOpened)
}

func TestRun_IndependentSessionsObserveEachOther(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name:     "independent",
		Strategy: StrategyIndependent,
		Actors: []Actor{
			{Name: "employer", Role: identity.RoleEmployer},
			{Name: "seeker", Role: identity.RoleJobSeeker},
		},
		Steps: []Step{
			{
				Actor:       "employer",
				Description: "employer registers",
				Actions: []Action{
					Navigate("/employer-signup"),
					Fill(browser.Label("Company Name"), "{{.employer.Company}}"),
					Fill(browser.Label("Email"), "{{.employer.Email}}"),
					Fill(browser.Label("Password"), "{{.employer.Password}}"),
					Click(browser.Button("Sign Up")),
				},
				Expect: []Expectation{Visible(browser.Text("Employer registered successfully"))},
			},
			{
				Actor:       "employer",
				Description: "employer logs in",
				Actions: []Action{
					Navigate("/employer-login"),
					SignInAs("employer"),
					Fill(browser.Label("Email"), "{{.employer.Email}}"),
					Fill(browser.Label("Password"), "{{.employer.Password}}"),
					Click(browser.Button("Login")),
				},
				Expect: []Expectation{Visible(browser.Text("Welcome, {{.employer.Company}}"))},
			},
			{
				Actor:       "employer",
				Description: "employer posts a job",
				Actions: []Action{
					Navigate("/post-job"),
					Fill(browser.Label("Job Title"), "{{.employer.JobTitle}}"),
					Click(browser.Button("Post Job")),
				},
				Expect: []Expectation{Visible(browser.Text("Job posted successfully"))},
			},
			{
				Actor:       "seeker",
				Description: "anonymous seeker sees the job while the employer stays logged in",
				Actions:     []Action{Navigate("/home")},
				Expect: []Expectation{
					Visible(browser.Link("{{.employer.JobTitle}}")),
					Hidden(browser.Button("Logout")),
				},
			},
			{
				Actor:       "employer",
				Description: "employer is still authenticated",
				Expect:      []Expectation{Visible(browser.Button("Logout"))},
			},
		},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, res.Passed(), "failure: %+v", res.Failure)
	assert.Equal(t, 2, res.SessionsOpened)
	assert.Equal(t, 2, m.PagesOpened())
	assert.Zero(t, m.OpenPages())
	assert.Equal(t, 1, m.JobCount())
}

func TestRun_StepsNeverInterleave(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	m.FlashDelay = 4
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	// Each step resolves before the next one starts.
	require.Len(t, res.Trace, 2*sc.Len())
	for i, ev := range res.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, i/2+1, ev.Step)
		if i%2 == 0 {
			assert.Equal(t, store.OutcomeStarted, ev.Outcome)
		} else {
			assert.Equal(t, store.OutcomePassed, ev.Outcome)
		}
	}
}

func TestRun_NavigationFailure(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	m.Unreachable["/login"] = true
	sc := MustScenario(Definition{
		Name:   "unreachable",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps:  []Step{seekerLoginSteps("Seeker logs in")},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, session.KindNavigation, res.Failure.Kind)
	assert.NotEmpty(t, res.Failure.Artifact, "a failed run always leaves an artifact")
}

func TestRun_TemplateErrorIsUnexpectedState(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc := MustScenario(Definition{
		Name:   "bad-template",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps: []Step{{
			Actor:       "seeker",
			Description: "fill with unknown actor",
			Actions:     []Action{Navigate("/login"), Fill(browser.Label("Email"), "{{.ghost.Email}}")},
		}},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, session.KindUnexpectedState, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "ghost")
}

func TestRun_SessionOpenFailure(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	require.NoError(t, m.Close())
	sc := MustScenario(Definition{
		Name:   "closed-driver",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps:  []Step{seekerLoginSteps("Seeker logs in")},
	})

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, session.KindUnexpectedState, res.Failure.Kind)
	assert.Empty(t, res.Failure.Artifact)
	assert.Zero(t, res.SessionsOpened)
}

func TestRun_LedgerWriteFailureStillFailsResult(t *testing.T) {
	ctx := context.Background()
	m := testutil.NewMarketplace(testBase)
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	// Start events land, the first completion is rejected.
	_, err = st.DB().Exec(`CREATE TRIGGER reject_passed BEFORE INSERT ON step_events
		WHEN NEW.outcome = 'passed'
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	sc := MustScenario(Definition{
		Name:   "ledger-rejects",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps: []Step{
			{Actor: "seeker", Description: "Seeker opens home", Actions: []Action{Navigate("/home")}},
			{Actor: "seeker", Description: "Seeker opens login", Actions: []Action{Navigate("/login")}},
		},
	})
	r, _ := newTestRunner(t, m, WithLedger(st))
	res, err := r.Run(ctx, sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.FinishedAt.IsZero())
	require.NotNil(t, res.Failure)
	assert.Equal(t, 1, res.Failure.Index)
	assert.Equal(t, "Seeker opens home", res.Failure.Description)
	assert.Equal(t, session.KindUnexpectedState, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "disk full")
	assert.Equal(t, 1, res.StepsRun)
	assert.Zero(t, m.OpenPages())

	runs, err := st.ListRuns(ctx, "ledger-rejects", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(StateFailed), runs[0].State)
	assert.Equal(t, 1, runs[0].FailedStep)
}

func TestRun_RecordsLedger(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	sc := MustScenario(Definition{
		Name:   "ledgered",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps:  []Step{seekerLoginSteps("Seeker logs in")},
	})
	r, _ := newTestRunner(t, m, WithLedger(st))
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), "ledgered", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, string(StateFailed), runs[0].State)
	assert.Equal(t, 1, runs[0].FailedStep)
	assert.Equal(t, string(session.KindAssertionTimeout), runs[0].FailureKind)
	assert.Equal(t, res.Failure.Artifact, runs[0].Artifact)

	events, err := st.ReadStepEvents(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRun_FreshIdentitiesPerRun(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)

	r, _ := newTestRunner(t, m)
	first, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.True(t, first.Passed())
	assert.True(t, second.Passed(), "a rerun signs up a fresh identity")
	assert.NotEqual(t, first.Identities["seeker"].Email, second.Identities["seeker"].Email)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunAll_ContinuesPastFailures(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	pass, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)
	fail := MustScenario(Definition{
		Name:   "fails",
		Actors: []Actor{{Name: "seeker", Role: identity.RoleJobSeeker}},
		Steps:  []Step{seekerLoginSteps("Seeker logs in")},
	})

	r, _ := newTestRunner(t, m)
	report, err := r.RunAll(context.Background(), fail, pass)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.False(t, report.Passed())

	passed, failed := report.Counts()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "fails", report.Failed()[0].Scenario)
}

func TestRunAll_StopsOnCancellation(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := newTestRunner(t, m)
	report, err := r.RunAll(ctx, sc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

func TestReport_EmptyPasses(t *testing.T) {
	assert.True(t, (&Report{}).Passed())
}

func TestResult_StateMachine(t *testing.T) {
	sc := MustScenario(minimalDefinition())
	res := NewResult("r", sc)
	now := time.Now()

	assert.Equal(t, StateNotStarted, res.State)
	assert.Error(t, res.pass(now), "cannot pass before running")
	require.NoError(t, res.start(now))
	assert.Error(t, res.start(now), "a scenario runs at most once per result")
	require.NoError(t, res.fail(now, Failure{Index: 1}))
	assert.True(t, res.State.Terminal())
	assert.Error(t, res.pass(now), "terminal states are final")
	assert.Equal(t, StateFailed, res.State)
}

func TestFailureCheckpoint(t *testing.T) {
	assert.Equal(t, "failure-step-01", FailureCheckpoint(1))
	assert.Equal(t, "failure-step-12", FailureCheckpoint(12))
}

func TestFormatTrace_OmitsRunSpecificValues(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)

	r, _ := newTestRunner(t, m)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	out := string(FormatTrace(res))
	assert.False(t, strings.Contains(out, res.RunID))
	assert.False(t, strings.Contains(out, res.Identities["seeker"].Email))
}

func TestRun_TimestampsFromInjectedClock(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer st.Close()

	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	clock := testutil.NewStepClock(start, 1500*time.Millisecond)
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", "seeker-signup.yaml"))
	require.NoError(t, err)

	r, _ := newTestRunner(t, m, WithLedger(st), WithNow(clock.Now))
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, StatePassed, res.State)

	assert.Equal(t, start, res.StartedAt)
	assert.Equal(t, start.Add(1500*time.Millisecond), res.FinishedAt)
	assert.Equal(t, 1500*time.Millisecond, res.Duration())
	assert.Equal(t, 2, clock.Reads())

	rec, err := st.ReadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.True(t, rec.StartedAt.Equal(start))
	assert.True(t, rec.FinishedAt.Equal(res.FinishedAt))
	assert.Equal(t, testBase, rec.BaseURL)
}
