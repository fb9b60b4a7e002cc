package browser

import (
	"fmt"
	"strings"
)

// By selects the strategy a Locator resolves with.
type By string

const (
	ByLabel       By = "label"
	ByPlaceholder By = "placeholder"
	ByRole        By = "role"
	ByText        By = "text"
	ByCSS         By = "css"
)

// Locator identifies an element by the affordances a user perceives:
// an accessible label, a placeholder, a role plus accessible name, or visible
// text. CSS is an escape hatch for fixtures that need it.
//
// Name matching follows Playwright's defaults: case-insensitive substring
// match with whitespace normalised, or whole-string match when Exact is set.
type Locator struct {
	By    By     `json:"by" yaml:"by"`
	Role  string `json:"role,omitempty" yaml:"role,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Exact bool   `json:"exact,omitempty" yaml:"exact,omitempty"`
}

// Label locates a form control by its accessible label.
func Label(name string) Locator { return Locator{By: ByLabel, Name: name} }

// Placeholder locates an input by its placeholder text.
func Placeholder(name string) Locator { return Locator{By: ByPlaceholder, Name: name} }

// Role locates an element by ARIA role and accessible name.
func Role(role, name string) Locator { return Locator{By: ByRole, Role: role, Name: name} }

// Text locates the element rendering the given text.
func Text(text string) Locator { return Locator{By: ByText, Name: text} }

// CSS locates by selector.
func CSS(selector string) Locator { return Locator{By: ByCSS, Name: selector} }

// Button and Link are the two roles journeys use most.
func Button(name string) Locator { return Role("button", name) }
func Link(name string) Locator   { return Role("link", name) }

// WithExact returns a copy of l requiring a whole-string name match.
func (l Locator) WithExact() Locator {
	l.Exact = true
	return l
}

// String renders l in the same syntax ParseLocator accepts.
func (l Locator) String() string {
	prefix := string(l.By)
	if l.Exact {
		prefix += "!"
	}
	if l.By == ByRole {
		return fmt.Sprintf("%s=%s:%s", prefix, l.Role, l.Name)
	}
	return fmt.Sprintf("%s=%s", prefix, l.Name)
}

// Validate reports malformed locators.
func (l Locator) Validate() error {
	switch l.By {
	case ByLabel, ByPlaceholder, ByText, ByCSS:
		if l.Name == "" {
			return fmt.Errorf("locator %s: name is required", l.By)
		}
	case ByRole:
		if l.Role == "" {
			return fmt.Errorf("locator role: role is required")
		}
	default:
		return fmt.Errorf("unknown locator strategy %q", l.By)
	}
	return nil
}

// ParseLocator parses "strategy=value" strings as used in fixture files:
//
//	label=Email
//	placeholder=Type a message...
//	role=button:Login
//	text=Job posted successfully
//	css=a[href*="/jobs/"]
//
// A "!" after the strategy ("role!=button:Apply") requests an exact match.
// A bare string without "=" is treated as text.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}

	strategy, value, ok := strings.Cut(s, "=")
	if !ok || strings.ContainsAny(strategy, " \t") {
		return Text(s), nil
	}

	exact := strings.HasSuffix(strategy, "!")
	strategy = strings.TrimSuffix(strategy, "!")

	var loc Locator
	switch By(strategy) {
	case ByLabel:
		loc = Label(value)
	case ByPlaceholder:
		loc = Placeholder(value)
	case ByText:
		loc = Text(value)
	case ByCSS:
		loc = CSS(value)
	case ByRole:
		role, name, _ := strings.Cut(value, ":")
		loc = Role(strings.TrimSpace(role), name)
	default:
		// "Email=foo" style text that merely contains '='.
		return Text(s), nil
	}
	loc.Exact = exact

	if err := loc.Validate(); err != nil {
		return Locator{}, fmt.Errorf("parse locator %q: %w", s, err)
	}
	return loc, nil
}

// MustParseLocator is ParseLocator for literals; it panics on error.
func MustParseLocator(s string) Locator {
	loc, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return loc
}

// UnmarshalText lets fixture documents spell locators as plain strings.
func (l *Locator) UnmarshalText(b []byte) error {
	loc, err := ParseLocator(string(b))
	if err != nil {
		return err
	}
	*l = loc
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (l Locator) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// MatchName reports whether an accessible name satisfies want.
func MatchName(actual, want string, exact bool) bool {
	a := normalizeSpace(actual)
	w := normalizeSpace(want)
	if exact {
		return a == w
	}
	return strings.Contains(strings.ToLower(a), strings.ToLower(w))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
