package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/wait"
)

// Strategy selects how actors map onto sessions.
type Strategy string

const (
	// StrategySequential drives every actor through one shared session.
	// Switching roles takes an explicit sign-out before the next sign-in.
	StrategySequential Strategy = "sequential"

	// StrategyIndependent gives each actor its own browsing context, so
	// several roles can be authenticated at the same time.
	StrategyIndependent Strategy = "independent"
)

// Action kinds.
const (
	ActionNavigate = "navigate"
	ActionFill     = "fill"
	ActionClick    = "click"
	ActionSignIn   = "sign_in"
	ActionSignOut  = "sign_out"
)

// Expectation kinds.
const (
	ExpectVisible = "visible"
	ExpectHidden  = "hidden"
	ExpectURL     = "url"
)

// Definition is the authored form of a scenario, as written in Go or YAML.
//
// Value, route, pattern and locator-name strings are text/template sources
// rendered at run time with the scenario's identities, keyed by actor name:
//
//	value: "{{.employer.Email}}"
//	locator: "text=Welcome, {{.employer.Company}}"
type Definition struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains the journey.
	Description string `yaml:"description"`

	// Strategy defaults to sequential.
	Strategy Strategy `yaml:"strategy,omitempty"`

	// Actors declares every actor the steps address, with its role.
	Actors []Actor `yaml:"actors"`

	// Steps run strictly in order.
	Steps []Step `yaml:"steps"`

	// Policy bounds every wait in the scenario. Zero fields use the runner's policy.
	Policy *wait.Policy `yaml:"policy,omitempty"`
}

// Actor is a named participant bound to a role.
type Actor struct {
	Name string        `yaml:"name"`
	Role identity.Role `yaml:"role"`
}

// Step is one ordered unit of a scenario: actions, then expectations, then
// an optional checkpoint capture.
type Step struct {
	// Actor names the actor performing the step.
	Actor string `yaml:"actor"`

	// Description is reported when the step fails.
	Description string `yaml:"description"`

	// Actions are issued in order.
	Actions []Action `yaml:"actions,omitempty"`

	// Expect is evaluated after all actions, each through a bounded poll.
	Expect []Expectation `yaml:"expect,omitempty"`

	// Checkpoint, when set, captures a screenshot after the expectations hold.
	Checkpoint string `yaml:"checkpoint,omitempty"`

	// Wait overrides the scenario policy for this step.
	Wait *wait.Policy `yaml:"wait,omitempty"`
}

// Action is a single simulated user interaction.
type Action struct {
	// Kind is one of navigate, fill, click, sign_in, sign_out.
	Kind string `yaml:"kind"`

	// Route is the navigate target.
	Route string `yaml:"route,omitempty"`

	// Locator addresses the field (fill) or control (click, optional for sign_out).
	Locator browser.Locator `yaml:"locator,omitempty"`

	// Value is the text typed by fill.
	Value string `yaml:"value,omitempty"`

	// As names the actor whose identity sign_in binds. Defaults to the step's actor.
	As string `yaml:"as,omitempty"`
}

// Expectation is an assertion about the rendered state.
type Expectation struct {
	// Kind is one of visible, hidden, url.
	Kind string `yaml:"kind"`

	// Locator is the element for visible/hidden.
	Locator browser.Locator `yaml:"locator,omitempty"`

	// Pattern is the URL pattern for url (see browser.URLPattern).
	Pattern string `yaml:"pattern,omitempty"`
}

// Navigate returns a navigate action.
func Navigate(route string) Action { return Action{Kind: ActionNavigate, Route: route} }

// Fill returns a fill action.
func Fill(loc browser.Locator, value string) Action {
	return Action{Kind: ActionFill, Locator: loc, Value: value}
}

// Click returns a click action.
func Click(loc browser.Locator) Action { return Action{Kind: ActionClick, Locator: loc} }

// SignInAs binds the identity of actor to the session.
func SignInAs(actor string) Action { return Action{Kind: ActionSignIn, As: actor} }

// SignOutVia clicks loc and releases the bound identity.
func SignOutVia(loc browser.Locator) Action { return Action{Kind: ActionSignOut, Locator: loc} }

// Visible expects loc to be visible.
func Visible(loc browser.Locator) Expectation { return Expectation{Kind: ExpectVisible, Locator: loc} }

// Hidden expects loc to be absent or hidden.
func Hidden(loc browser.Locator) Expectation { return Expectation{Kind: ExpectHidden, Locator: loc} }

// URL expects the page URL to match pattern.
func URL(pattern string) Expectation { return Expectation{Kind: ExpectURL, Pattern: pattern} }

// Scenario is a validated, immutable Definition.
// Accessors return copies; nothing reachable from a Scenario can be mutated.
type Scenario struct {
	def Definition
}

// NewScenario validates def and takes a deep copy of it.
func NewScenario(def Definition) (*Scenario, error) {
	def = cloneDefinition(def)
	if def.Strategy == "" {
		def.Strategy = StrategySequential
	}
	if err := validateDefinition(&def); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", def.Name, err)
	}
	return &Scenario{def: def}, nil
}

// MustScenario is NewScenario for statically authored scenarios.
func MustScenario(def Definition) *Scenario {
	sc, err := NewScenario(def)
	if err != nil {
		panic(err)
	}
	return sc
}

// Name returns the scenario name.
func (s *Scenario) Name() string { return s.def.Name }

// Description returns the scenario description.
func (s *Scenario) Description() string { return s.def.Description }

// Strategy returns the session provisioning strategy.
func (s *Scenario) Strategy() Strategy { return s.def.Strategy }

// Actors returns a copy of the declared actors.
func (s *Scenario) Actors() []Actor { return slices.Clone(s.def.Actors) }

// Steps returns a copy of the steps.
func (s *Scenario) Steps() []Step { return cloneSteps(s.def.Steps) }

// Len returns the number of steps.
func (s *Scenario) Len() int { return len(s.def.Steps) }

// Policy returns the scenario wait policy, if one was declared.
func (s *Scenario) Policy() (wait.Policy, bool) {
	if s.def.Policy == nil {
		return wait.Policy{}, false
	}
	return *s.def.Policy, true
}

// Definition returns a copy of the underlying definition.
func (s *Scenario) Definition() Definition { return cloneDefinition(s.def) }

func cloneDefinition(def Definition) Definition {
	def.Actors = slices.Clone(def.Actors)
	def.Steps = cloneSteps(def.Steps)
	if def.Policy != nil {
		p := *def.Policy
		def.Policy = &p
	}
	return def
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, st := range steps {
		st.Actions = slices.Clone(st.Actions)
		st.Expect = slices.Clone(st.Expect)
		if st.Wait != nil {
			w := *st.Wait
			st.Wait = &w
		}
		out[i] = st
	}
	return out
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario YAML document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "expects:" vs "expect:".
	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return NewScenario(def)
}

// validateDefinition checks that required fields are present and consistent.
func validateDefinition(d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch d.Strategy {
	case StrategySequential, StrategyIndependent:
	default:
		return fmt.Errorf("unknown strategy %q", d.Strategy)
	}

	if len(d.Actors) == 0 {
		return fmt.Errorf("actors list is required and must be non-empty")
	}
	roles := make(map[string]identity.Role, len(d.Actors))
	for i, a := range d.Actors {
		if a.Name == "" {
			return fmt.Errorf("actors[%d]: name is required", i)
		}
		if _, dup := roles[a.Name]; dup {
			return fmt.Errorf("actors[%d]: duplicate actor %q", i, a.Name)
		}
		switch a.Role {
		case identity.RoleEmployer, identity.RoleJobSeeker, identity.RoleAnonymous:
		default:
			return fmt.Errorf("actors[%d]: unknown role %q", i, a.Role)
		}
		roles[a.Name] = a.Role
	}

	if len(d.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, st := range d.Steps {
		if err := validateStep(st, roles); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step, roles map[string]identity.Role) error {
	if st.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, ok := roles[st.Actor]; !ok {
		return fmt.Errorf("unknown actor %q", st.Actor)
	}
	if len(st.Actions) == 0 && len(st.Expect) == 0 && st.Checkpoint == "" {
		return fmt.Errorf("step has no action, expectation or checkpoint")
	}
	for j, a := range st.Actions {
		if err := validateAction(a, st.Actor, roles); err != nil {
			return fmt.Errorf("actions[%d]: %w", j, err)
		}
	}
	for j, e := range st.Expect {
		if err := validateExpectation(e); err != nil {
			return fmt.Errorf("expect[%d]: %w", j, err)
		}
	}
	return nil
}

func validateAction(a Action, actor string, roles map[string]identity.Role) error {
	switch a.Kind {
	case ActionNavigate:
		if a.Route == "" {
			return fmt.Errorf("route is required for navigate")
		}
	case ActionFill:
		if err := a.Locator.Validate(); err != nil {
			return fmt.Errorf("fill: %w", err)
		}
	case ActionClick:
		if err := a.Locator.Validate(); err != nil {
			return fmt.Errorf("click: %w", err)
		}
	case ActionSignIn:
		as := a.As
		if as == "" {
			as = actor
		}
		role, ok := roles[as]
		if !ok {
			return fmt.Errorf("sign_in: unknown actor %q", as)
		}
		if role == identity.RoleAnonymous {
			return fmt.Errorf("sign_in: actor %q is anonymous", as)
		}
	case ActionSignOut:
		if a.Locator.By != "" {
			if err := a.Locator.Validate(); err != nil {
				return fmt.Errorf("sign_out: %w", err)
			}
		}
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}
