package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/jobharness/internal/artifact"
	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/session"
	"github.com/roach88/jobharness/internal/store"
	"github.com/roach88/jobharness/internal/wait"
)

// DefaultOutputDir is where artifacts go when no collector is configured.
const DefaultOutputDir = "artifacts"

// RunIDGenerator produces run identifiers.
type RunIDGenerator interface {
	Generate() string
}

// uuidRunIDs generates time-ordered UUIDv7 run IDs.
type uuidRunIDs struct{}

func (uuidRunIDs) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Runner executes scenarios against a browser driver.
//
// A Runner is not safe for concurrent use; scenarios run one at a time.
type Runner struct {
	driver    browser.Driver
	baseURL   string
	policy    wait.Policy
	collector *artifact.Collector
	generator *identity.Generator
	ledger    *store.Store
	runIDs    RunIDGenerator
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithBaseURL sets the application base URL that relative routes resolve against.
func WithBaseURL(u string) Option { return func(r *Runner) { r.baseURL = u } }

// WithPolicy sets the default wait policy.
func WithPolicy(p wait.Policy) Option { return func(r *Runner) { r.policy = p } }

// WithCollector sets the artifact collector.
func WithCollector(c *artifact.Collector) Option { return func(r *Runner) { r.collector = c } }

// WithGenerator sets the identity generator. Sharing one generator across
// runs keeps identities unique for the whole process.
func WithGenerator(g *identity.Generator) Option { return func(r *Runner) { r.generator = g } }

// WithLedger records runs in st. Without it each run gets a throwaway
// in-memory ledger.
func WithLedger(st *store.Store) Option { return func(r *Runner) { r.ledger = st } }

// WithRunIDs sets the run ID generator.
func WithRunIDs(g RunIDGenerator) Option { return func(r *Runner) { r.runIDs = g } }

// WithNow sets the wall clock used for run timestamps.
func WithNow(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// NewRunner creates a runner driving driver.
func NewRunner(driver browser.Driver, opts ...Option) *Runner {
	r := &Runner{
		driver: driver,
		policy: wait.DefaultPolicy(),
		runIDs: uuidRunIDs{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.collector == nil {
		r.collector = artifact.NewCollector(DefaultOutputDir, r.logger)
	}
	if r.generator == nil {
		r.generator = identity.NewGenerator(nil)
	}
	return r
}

// run holds the per-execution state of one scenario.
type run struct {
	*Runner
	sc     *Scenario
	res    *Result
	ledger *store.Store
	seq    int64 // logical clock for step events
	ids    bindings
	log    *slog.Logger
}

// Run executes scenario once and returns its result.
//
// Scenario failures are reported in the result, not as an error. The
// returned error is reserved for the ledger and for a scenario that could
// not be started at all; even then the result ends FAILED, never RUNNING.
// Every session the run opened is closed before Run returns, on every path.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	ledger := r.ledger
	if ledger == nil {
		st, err := store.Open(store.MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory ledger: %w", err)
		}
		defer st.Close()
		ledger = st
	}

	x := &run{
		Runner: r,
		sc:     sc,
		res:    NewResult(r.runIDs.Generate(), sc),
		ledger: ledger,
		ids:    make(bindings),
	}
	x.log = r.logger.With("scenario", sc.Name(), "run_id", x.res.RunID)

	for _, a := range sc.Actors() {
		x.ids[a.Name] = r.generator.Generate(a.Role)
	}
	x.res.Identities = map[string]identity.Identity(x.ids)

	if err := x.res.start(r.now()); err != nil {
		return x.res, err
	}
	if err := ledger.BeginRun(ctx, store.Run{
		ID:        x.res.RunID,
		Scenario:  sc.Name(),
		Strategy:  string(sc.Strategy()),
		State:     string(StateRunning),
		StartedAt: x.res.StartedAt,
		BaseURL:   r.baseURL,
	}); err != nil {
		x.abort(ctx, nil, err)
		return x.res, err
	}
	x.log.Info("scenario started", "strategy", sc.Strategy(), "steps", sc.Len())

	prov, err := NewProvisioner(sc.Strategy(), x.openSession)
	if err != nil {
		x.abort(ctx, nil, err)
		return x.res, err
	}

	failure, execErr := x.execute(ctx, prov)

	if err := prov.ReleaseAll(); err != nil {
		x.log.Warn("failed to release sessions", "error", err)
	}
	x.res.SessionsOpened = prov.Opened()

	if execErr != nil {
		x.abort(ctx, failure, execErr)
		return x.res, execErr
	}
	return x.res, x.finish(ctx, failure)
}

// execute runs steps strictly in order and stops at the first failure.
func (x *run) execute(ctx context.Context, prov Provisioner) (*Failure, error) {
	for i, step := range x.sc.Steps() {
		idx := i + 1
		x.res.StepsRun = idx
		if err := x.record(ctx, idx, step, store.OutcomeStarted, ""); err != nil {
			return nil, err
		}

		s, err := prov.Acquire(ctx, step.Actor)
		if err == nil {
			err = x.checkHandoff(s, step)
		}
		if err == nil {
			err = x.step(ctx, s, step)
		}
		if err != nil {
			f := x.failure(ctx, s, idx, step, err)
			if rerr := x.record(ctx, idx, step, store.OutcomeFailed, string(f.Kind)); rerr != nil {
				return f, rerr
			}
			x.log.Error("step failed",
				"step", idx,
				"actor", step.Actor,
				"description", step.Description,
				"kind", f.Kind,
				"error", err,
			)
			return f, nil
		}

		if err := x.record(ctx, idx, step, store.OutcomePassed, ""); err != nil {
			return nil, err
		}
		x.log.Info("step completed",
			"step", idx,
			"actor", step.Actor,
			"description", step.Description,
		)
	}
	return nil, nil
}

// checkHandoff refuses a step whose actor would act through a session that
// another identity is signed into. A step that starts by signing out is the
// handoff itself and may run.
func (x *run) checkHandoff(s *session.Session, st Step) error {
	bound, ok := s.Identity()
	if !ok {
		return nil
	}
	if len(st.Actions) > 0 && st.Actions[0].Kind == ActionSignOut {
		return nil
	}
	if want, ok := x.ids[st.Actor]; ok && want == bound {
		return nil
	}
	return &session.Error{
		Kind:   session.KindUnexpectedState,
		Op:     "handoff",
		Target: st.Actor,
		Actor:  s.Actor(),
		Err:    fmt.Errorf("session is authenticated as %s (%s); sign out first", bound.Email, bound.Role),
	}
}

// step issues a step's actions, evaluates its expectations and captures its checkpoint.
func (x *run) step(ctx context.Context, s *session.Session, st Step) error {
	if st.Wait != nil {
		ctx = session.WithPolicy(ctx, *st.Wait)
	}
	for _, a := range st.Actions {
		x.log.Debug("action", "actor", st.Actor, "action", describeAction(a))
		if err := perform(ctx, s, a, st.Actor, x.ids); err != nil {
			return err
		}
	}
	for _, e := range st.Expect {
		if err := check(ctx, s, e, x.ids); err != nil {
			return err
		}
	}
	if st.Checkpoint != "" {
		path, err := s.Screenshot(ctx, st.Checkpoint)
		if err != nil {
			var se *session.Error
			if errors.As(err, &se) {
				return err
			}
			return &session.Error{Kind: session.KindUnexpectedState, Op: "screenshot", Target: st.Checkpoint, Actor: s.Actor(), Err: err}
		}
		x.res.Artifacts = append(x.res.Artifacts, path)
	}
	return nil
}

// failure builds the failure record and captures the failure artifact.
func (x *run) failure(ctx context.Context, s *session.Session, idx int, st Step, err error) *Failure {
	f := &Failure{
		Index:       idx,
		Description: st.Description,
		Actor:       st.Actor,
		Kind:        session.KindOf(err),
		Message:     err.Error(),
	}
	if f.Kind == "" {
		f.Kind = session.KindUnexpectedState
	}
	if obs, ok := session.ObservedOf(err); ok {
		f.Observed = obs
	}
	if s == nil {
		return f
	}

	// The step's own context may be what expired.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.policy.Normalize().Timeout)
	defer cancel()
	if f.Observed.IsZero() {
		if snap, serr := s.Snapshot(cctx); serr == nil {
			f.Observed = snap
		}
	}
	path, cerr := s.Screenshot(cctx, FailureCheckpoint(idx))
	if cerr != nil {
		x.log.Warn("failure artifact not captured", "step", idx, "error", cerr)
		return f
	}
	f.Artifact = path
	x.res.Artifacts = append(x.res.Artifacts, path)
	return f
}

// FailureCheckpoint names the artifact captured when step idx (1-based) fails.
func FailureCheckpoint(idx int) string {
	return fmt.Sprintf("failure-step-%02d", idx)
}

func (x *run) record(ctx context.Context, idx int, st Step, outcome, detail string) error {
	x.seq++
	ev := store.StepEvent{
		RunID:       x.res.RunID,
		Seq:         x.seq,
		Step:        idx,
		Actor:       st.Actor,
		Description: st.Description,
		Outcome:     outcome,
		Detail:      detail,
	}
	if err := x.ledger.WriteStepEvent(context.WithoutCancel(ctx), ev); err != nil {
		return fmt.Errorf("step %d: %w", idx, err)
	}
	return nil
}

// finish moves the result to its terminal state and closes the ledger entry.
func (x *run) finish(ctx context.Context, f *Failure) error {
	now := x.now()
	rec := store.Run{ID: x.res.RunID}
	if f == nil {
		if err := x.res.pass(now); err != nil {
			return err
		}
		x.log.Info("scenario passed", "steps", x.res.StepsRun, "duration", x.res.Duration())
	} else {
		if err := x.res.fail(now, *f); err != nil {
			return err
		}
		rec.FailedStep = f.Index
		rec.FailureKind = string(f.Kind)
		rec.FailureMessage = f.Message
		rec.Artifact = f.Artifact
		x.log.Error("scenario failed", "step", f.Index, "kind", f.Kind, "artifact", f.Artifact)
	}
	rec.State = string(x.res.State)
	rec.FinishedAt = now

	// The ledger must be written even when ctx was what failed the run.
	lctx := context.WithoutCancel(ctx)
	if err := x.ledger.FinishRun(lctx, rec); err != nil {
		return err
	}
	events, err := x.ledger.ReadStepEvents(lctx, x.res.RunID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		x.res.Trace = append(x.res.Trace, TraceEvent{
			Seq:         ev.Seq,
			Step:        ev.Step,
			Actor:       ev.Actor,
			Description: ev.Description,
			Outcome:     ev.Outcome,
			Detail:      ev.Detail,
		})
	}
	return nil
}

// abort fails a run the harness could not carry through, so its result
// never stays RUNNING. A step failure already observed is kept; otherwise
// cause is charged to the step in progress. The ledger entry is closed when
// the ledger still accepts writes.
func (x *run) abort(ctx context.Context, f *Failure, cause error) {
	if f == nil {
		f = &Failure{
			Index:   x.res.StepsRun,
			Kind:    session.KindUnexpectedState,
			Message: cause.Error(),
		}
		if steps := x.sc.Steps(); f.Index > 0 && f.Index <= len(steps) {
			f.Description = steps[f.Index-1].Description
			f.Actor = steps[f.Index-1].Actor
		}
	}
	if err := x.finish(ctx, f); err != nil {
		x.log.Warn("failed to close ledger entry", "error", err)
	}
}

func (x *run) openSession(ctx context.Context, actor string) (*session.Session, error) {
	policy := x.policy
	if p, ok := x.sc.Policy(); ok {
		if p.Timeout > 0 {
			policy.Timeout = p.Timeout
		}
		if p.Interval > 0 {
			policy.Interval = p.Interval
		}
	}
	x.log.Debug("opening session", "actor", actor)
	return session.Open(ctx, x.driver, session.Config{
		Actor:     actor,
		Scenario:  x.sc.Name(),
		BaseURL:   x.baseURL,
		Policy:    policy,
		Collector: x.collector,
		Logger:    x.log,
	})
}

// RunAll executes scenarios one after another and aggregates their results.
// A scenario failure does not stop the remaining scenarios; an error from
// Run or cancellation of ctx does.
func (r *Runner) RunAll(ctx context.Context, scenarios ...*Scenario) (*Report, error) {
	report := &Report{Results: []*Result{}}
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.Run(ctx, sc)
		if res != nil {
			report.Results = append(report.Results, res)
		}
		if err != nil {
			return report, fmt.Errorf("scenario %q: %w", sc.Name(), err)
		}
	}
	return report, nil
}
