package harness

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/session"
)

// bindings maps actor names to the identities generated for one run.
// It is the data every template in a step is rendered with.
type bindings map[string]identity.Identity

// render expands a text/template source. Strings without "{{" are returned as-is.
func (b bindings) render(src string) (string, error) {
	if !strings.Contains(src, "{{") {
		return src, nil
	}
	tmpl, err := template.New("step").Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", src, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, map[string]identity.Identity(b)); err != nil {
		return "", fmt.Errorf("render template %q: %w", src, err)
	}
	return sb.String(), nil
}

func (b bindings) locator(loc browser.Locator) (browser.Locator, error) {
	name, err := b.render(loc.Name)
	if err != nil {
		return browser.Locator{}, err
	}
	loc.Name = name
	return loc, nil
}

// templateError marks a failure to expand a step's templates. These are
// authoring mistakes, reported as unexpected state.
func templateError(s *session.Session, op string, err error) error {
	return &session.Error{Kind: session.KindUnexpectedState, Op: op, Actor: s.Actor(), Err: err}
}

// perform issues one action against s.
func perform(ctx context.Context, s *session.Session, a Action, actor string, ids bindings) error {
	switch a.Kind {
	case ActionNavigate:
		route, err := ids.render(a.Route)
		if err != nil {
			return templateError(s, "navigate", err)
		}
		return s.Navigate(ctx, route)

	case ActionFill:
		loc, err := ids.locator(a.Locator)
		if err != nil {
			return templateError(s, "fill", err)
		}
		value, err := ids.render(a.Value)
		if err != nil {
			return templateError(s, "fill", err)
		}
		return s.Fill(ctx, loc, value)

	case ActionClick:
		loc, err := ids.locator(a.Locator)
		if err != nil {
			return templateError(s, "click", err)
		}
		return s.Click(ctx, loc)

	case ActionSignIn:
		as := a.As
		if as == "" {
			as = actor
		}
		id, ok := ids[as]
		if !ok {
			return &session.Error{Kind: session.KindUnexpectedState, Op: "sign_in", Target: as, Actor: s.Actor(), Err: fmt.Errorf("no identity for actor %q", as)}
		}
		return s.SignIn(id)

	case ActionSignOut:
		if a.Locator.By != "" {
			loc, err := ids.locator(a.Locator)
			if err != nil {
				return templateError(s, "sign_out", err)
			}
			if err := s.Click(ctx, loc); err != nil {
				return err
			}
		}
		s.SignOut()
		return nil
	}
	return &session.Error{Kind: session.KindUnexpectedState, Op: a.Kind, Actor: s.Actor(), Err: fmt.Errorf("unknown action kind %q", a.Kind)}
}

// check evaluates one expectation against s. Every kind polls through the
// session's bounded wait.
func check(ctx context.Context, s *session.Session, e Expectation, ids bindings) error {
	switch e.Kind {
	case ExpectVisible, ExpectHidden:
		loc, err := ids.locator(e.Locator)
		if err != nil {
			return templateError(s, "assert_"+e.Kind, err)
		}
		if e.Kind == ExpectVisible {
			return s.AssertVisible(ctx, loc)
		}
		return s.AssertHidden(ctx, loc)

	case ExpectURL:
		pattern, err := ids.render(e.Pattern)
		if err != nil {
			return templateError(s, "assert_url", err)
		}
		return s.AssertURL(ctx, pattern)
	}
	return &session.Error{Kind: session.KindUnexpectedState, Op: "expect", Actor: s.Actor(), Err: fmt.Errorf("unknown expectation kind %q", e.Kind)}
}

// validateExpectation validates a single expectation based on its kind.
func validateExpectation(e Expectation) error {
	switch e.Kind {
	case ExpectVisible, ExpectHidden:
		if err := e.Locator.Validate(); err != nil {
			return fmt.Errorf("%s: %w", e.Kind, err)
		}
	case ExpectURL:
		if e.Pattern == "" {
			return fmt.Errorf("pattern is required for url")
		}
		// Templated patterns are compiled once rendered.
		if !strings.Contains(e.Pattern, "{{") {
			if _, err := browser.CompileURLPattern(e.Pattern); err != nil {
				return err
			}
		}
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unknown expectation kind %q", e.Kind)
	}
	return nil
}

// describeAction renders a short, template-free label for logs.
func describeAction(a Action) string {
	switch a.Kind {
	case ActionNavigate:
		return "navigate " + a.Route
	case ActionSignIn:
		if a.As != "" {
			return "sign_in " + a.As
		}
		return "sign_in"
	case ActionSignOut:
		return "sign_out"
	}
	return a.Kind + " " + a.Locator.String()
}
