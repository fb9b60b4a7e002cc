// Package session implements the actor session: one isolated browsing
// context driven on behalf of a role.
//
// Every operation is bounded. Element lookups and assertions are evaluated
// through wait.Until, so a session tolerates the asynchronous rendering of
// the application under test without ever blocking past its policy. On
// failure, operations return *Error carrying the last observed page state.
//
// A session's bound identity never changes silently: SignIn with a second
// identity while one is bound fails with KindUnexpectedState. Journeys must
// sign out first, or use a separate session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/jobharness/internal/artifact"
	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/wait"
)

// observeTimeout bounds the diagnostic snapshot taken after a failure.
const observeTimeout = 3 * time.Second

// Config describes a session.
type Config struct {
	// Actor is the name steps use to address this session.
	Actor string

	// Scenario names the owning scenario; artifacts are filed under it.
	Scenario string

	// BaseURL resolves relative routes.
	BaseURL string

	// Policy bounds every wait. Zero fields fall back to wait defaults.
	Policy wait.Policy

	Collector *artifact.Collector
	Logger    *slog.Logger
}

// Session is exclusively owned by one scenario and is not safe for
// concurrent use by multiple scenarios.
type Session struct {
	cfg  Config
	page browser.Page
	log  *slog.Logger

	mu     sync.Mutex
	bound  identity.Identity
	route  string
	closed bool
}

// New wraps an already-open page.
func New(page browser.Page, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Policy = cfg.Policy.Normalize()
	return &Session{
		cfg:  cfg,
		page: page,
		log:  logger.With("actor", cfg.Actor),
	}
}

// Open creates a fresh browsing context from driver and wraps it.
func Open(ctx context.Context, driver browser.Driver, cfg Config) (*Session, error) {
	page, err := driver.NewPage(ctx)
	if err != nil {
		return nil, &Error{Kind: KindUnexpectedState, Op: "open", Target: "browsing context", Actor: cfg.Actor, Err: err}
	}
	return New(page, cfg), nil
}

type policyKey struct{}

// WithPolicy overrides the wait policy for operations run with the returned context.
func WithPolicy(ctx context.Context, p wait.Policy) context.Context {
	return context.WithValue(ctx, policyKey{}, p)
}

func (s *Session) policy(ctx context.Context) wait.Policy {
	if p, ok := ctx.Value(policyKey{}).(wait.Policy); ok {
		return p.Normalize()
	}
	return s.cfg.Policy
}

// Actor returns the session's actor name.
func (s *Session) Actor() string { return s.cfg.Actor }

// Identity returns the bound identity, if any.
func (s *Session) Identity() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound, !s.bound.IsZero()
}

// Role returns the role of the bound identity, or anonymous.
func (s *Session) Role() identity.Role {
	if id, ok := s.Identity(); ok {
		return id.Role
	}
	return identity.RoleAnonymous
}

// Route returns the last URL the session navigated to or observed.
func (s *Session) Route() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setRoute(u string) {
	if u == "" {
		return
	}
	s.mu.Lock()
	s.route = u
	s.mu.Unlock()
}

func (s *Session) checkOpen(op, target string) error {
	if s.Closed() {
		return &Error{Kind: KindUnexpectedState, Op: op, Target: target, Actor: s.cfg.Actor, Err: errors.New("session is closed")}
	}
	return nil
}

// observe takes a best-effort snapshot for diagnostics. It survives the
// cancellation of ctx so a timed-out step still reports what was on screen.
func (s *Session) observe(ctx context.Context) browser.Snapshot {
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observeTimeout)
	defer cancel()
	snap, err := s.page.Snapshot(octx)
	if err != nil {
		s.log.Debug("diagnostic snapshot failed", "error", err)
	}
	if snap.URL == "" {
		snap.URL = s.Route()
	}
	s.setRoute(snap.URL)
	return snap
}

func (s *Session) fail(ctx context.Context, kind Kind, op, target string, err error) error {
	return &Error{
		Kind:     kind,
		Op:       op,
		Target:   target,
		Actor:    s.cfg.Actor,
		Observed: s.observe(ctx),
		Err:      err,
	}
}

// Navigate loads route (relative routes resolve against the base URL) and
// succeeds once the page reports its load event. Unreachable targets are
// retried until the policy ceiling.
func (s *Session) Navigate(ctx context.Context, route string) error {
	if err := s.checkOpen("navigate", route); err != nil {
		return err
	}
	target, err := browser.Resolve(s.cfg.BaseURL, route)
	if err != nil {
		return &Error{Kind: KindNavigation, Op: "navigate", Target: route, Actor: s.cfg.Actor, Err: err}
	}

	err = wait.Until(ctx, s.policy(ctx), func(ctx context.Context) (bool, error) {
		if err := s.page.Goto(ctx, target); err != nil {
			s.log.Debug("navigation attempt failed", "url", target, "error", err)
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return s.fail(ctx, KindNavigation, "navigate", target, err)
	}

	s.setRoute(target)
	s.log.Debug("navigated", "url", target)
	return nil
}

// Fill locates an input by label or placeholder and sets its value.
func (s *Session) Fill(ctx context.Context, loc browser.Locator, value string) error {
	if err := s.checkOpen("fill", loc.String()); err != nil {
		return err
	}
	err := wait.Until(ctx, s.policy(ctx), func(ctx context.Context) (bool, error) {
		visible, err := s.page.Visible(ctx, loc)
		if err != nil || !visible {
			return false, err
		}
		if err := s.page.Fill(ctx, loc, value); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return s.fail(ctx, KindElementNotFound, "fill", loc.String(), err)
	}
	s.log.Debug("filled", "locator", loc.String())
	return nil
}

// Click waits for a control located by role and accessible name (or any
// other locator) to become visible, then activates it exactly once.
//
// Only the lookup is retried. A click can submit a form before the driver
// reports an error, so repeating it could post a job or apply twice.
func (s *Session) Click(ctx context.Context, loc browser.Locator) error {
	if err := s.checkOpen("click", loc.String()); err != nil {
		return err
	}
	err := wait.Until(ctx, s.policy(ctx), func(ctx context.Context) (bool, error) {
		return s.page.Visible(ctx, loc)
	})
	if err != nil {
		return s.fail(ctx, KindElementNotFound, "click", loc.String(), err)
	}
	if err := s.page.Click(ctx, loc); err != nil {
		return s.fail(ctx, KindElementNotFound, "click", loc.String(), err)
	}
	s.log.Debug("clicked", "locator", loc.String())
	return nil
}

// AssertVisible polls until loc is visible.
func (s *Session) AssertVisible(ctx context.Context, loc browser.Locator) error {
	return s.assertVisibility(ctx, "assert_visible", loc, true)
}

// AssertHidden polls until loc is absent or hidden.
func (s *Session) AssertHidden(ctx context.Context, loc browser.Locator) error {
	return s.assertVisibility(ctx, "assert_hidden", loc, false)
}

func (s *Session) assertVisibility(ctx context.Context, op string, loc browser.Locator, want bool) error {
	if err := s.checkOpen(op, loc.String()); err != nil {
		return err
	}
	err := wait.Until(ctx, s.policy(ctx), func(ctx context.Context) (bool, error) {
		visible, err := s.page.Visible(ctx, loc)
		if err != nil {
			return false, err
		}
		return visible == want, nil
	})
	if err != nil {
		return s.fail(ctx, KindAssertionTimeout, op, loc.String(), err)
	}
	return nil
}

// AssertURL polls until the page URL matches pattern (see browser.URLPattern).
func (s *Session) AssertURL(ctx context.Context, pattern string) error {
	if err := s.checkOpen("assert_url", pattern); err != nil {
		return err
	}
	p, err := browser.CompileURLPattern(pattern)
	if err != nil {
		return &Error{Kind: KindUnexpectedState, Op: "assert_url", Target: pattern, Actor: s.cfg.Actor, Err: err}
	}

	var last string
	err = wait.Until(ctx, s.policy(ctx), func(ctx context.Context) (bool, error) {
		snap, err := s.page.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		last = snap.URL
		s.setRoute(snap.URL)
		return p.Match(snap.URL), nil
	})
	if err != nil {
		if last != "" {
			err = fmt.Errorf("last url %s: %w", last, err)
		}
		return s.fail(ctx, KindAssertionTimeout, "assert_url", pattern, err)
	}
	return nil
}

// Snapshot returns the current rendered state.
func (s *Session) Snapshot(ctx context.Context) (browser.Snapshot, error) {
	if err := s.checkOpen("snapshot", ""); err != nil {
		return browser.Snapshot{}, err
	}
	snap, err := s.page.Snapshot(ctx)
	if err != nil {
		return snap, err
	}
	s.setRoute(snap.URL)
	return snap, nil
}

// Screenshot captures the current page as checkpoint name.
func (s *Session) Screenshot(ctx context.Context, name string) (string, error) {
	if err := s.checkOpen("screenshot", name); err != nil {
		return "", err
	}
	if s.cfg.Collector == nil {
		return "", &Error{Kind: KindUnexpectedState, Op: "screenshot", Target: name, Actor: s.cfg.Actor, Err: errors.New("no artifact collector configured")}
	}
	return s.cfg.Collector.Capture(ctx, s.page, s.cfg.Scenario, name)
}

// SignIn records that the session is now authenticated as id.
//
// Re-binding the same identity is a no-op. Binding a different identity
// while one is bound is refused: the previous actor must sign out first.
func (s *Session) SignIn(id identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Error{Kind: KindUnexpectedState, Op: "sign_in", Target: id.Email, Actor: s.cfg.Actor, Err: errors.New("session is closed")}
	}
	if !s.bound.IsZero() && s.bound != id {
		return &Error{
			Kind:   KindUnexpectedState,
			Op:     "sign_in",
			Target: id.Email,
			Actor:  s.cfg.Actor,
			Err:    fmt.Errorf("session is still authenticated as %s (%s); sign out first", s.bound.Email, s.bound.Role),
		}
	}
	s.bound = id
	s.log.Info("identity bound", "role", id.Role, "email", id.Email)
	return nil
}

// SignOut clears the bound identity. Signing out an anonymous session is a no-op.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound.IsZero() {
		s.log.Info("identity released", "role", s.bound.Role, "email", s.bound.Email)
	}
	s.bound = identity.Identity{}
}

// Close releases the browsing context. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.bound = identity.Identity{}
	s.mu.Unlock()

	if err := s.page.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", s.cfg.Actor, err)
	}
	s.log.Debug("session closed")
	return nil
}
