package journeys

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jobharness/internal/browser"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Routes are application paths, resolved against the base URL.
type Routes struct {
	Gate           string `yaml:"gate"`
	Home           string `yaml:"home"`
	Login          string `yaml:"login"`
	Signup         string `yaml:"signup"`
	EmployerLogin  string `yaml:"employer_login"`
	EmployerSignup string `yaml:"employer_signup"`
	Dashboard      string `yaml:"dashboard"`
	PostJob        string `yaml:"post_job"`
	PostedJobs     string `yaml:"posted_jobs"`
	Chat           string `yaml:"chat"`
}

// Patterns are URL patterns asserted after redirects.
type Patterns struct {
	Home      string `yaml:"home"`
	Login     string `yaml:"login"`
	Dashboard string `yaml:"dashboard"`
}

// Fields locate form inputs.
type Fields struct {
	FirstName      browser.Locator `yaml:"first_name"`
	LastName       browser.Locator `yaml:"last_name"`
	Email          browser.Locator `yaml:"email"`
	Password       browser.Locator `yaml:"password"`
	Company        browser.Locator `yaml:"company"`
	JobTitle       browser.Locator `yaml:"job_title"`
	JobLocation    browser.Locator `yaml:"job_location"`
	JobDescription browser.Locator `yaml:"job_description"`
	Message        browser.Locator `yaml:"message"`
}

// Controls locate buttons, links and other interactive elements.
type Controls struct {
	Login            browser.Locator `yaml:"login"`
	Signup           browser.Locator `yaml:"signup"`
	Logout           browser.Locator `yaml:"logout"`
	PostJob          browser.Locator `yaml:"post_job"`
	SaveJob          browser.Locator `yaml:"save_job"`
	Apply            browser.Locator `yaml:"apply"`
	ViewApplications browser.Locator `yaml:"view_applications"`
	Shortlist        browser.Locator `yaml:"shortlist"`
	OpenChat         browser.Locator `yaml:"open_chat"`
	Send             browser.Locator `yaml:"send"`
	NavLogin         browser.Locator `yaml:"nav_login"`
	NavSignup        browser.Locator `yaml:"nav_signup"`
	SeekerGate       browser.Locator `yaml:"seeker_gate"`
	JobLink          browser.Locator `yaml:"job_link"`
}

// Texts locate the indicators journeys assert on.
type Texts struct {
	EmployerRegistered   browser.Locator `yaml:"employer_registered"`
	SeekerRegistered     browser.Locator `yaml:"seeker_registered"`
	EmployerWelcome      browser.Locator `yaml:"employer_welcome"`
	SeekerWelcome        browser.Locator `yaml:"seeker_welcome"`
	JobPosted            browser.Locator `yaml:"job_posted"`
	JobHeading           browser.Locator `yaml:"job_heading"`
	ApplicationSubmitted browser.Locator `yaml:"application_submitted"`
	ApplicantName        browser.Locator `yaml:"applicant_name"`
	ApplicantEmail       browser.Locator `yaml:"applicant_email"`
	CandidateShortlisted browser.Locator `yaml:"candidate_shortlisted"`
	ChatHeader           browser.Locator `yaml:"chat_header"`
	MessageSent          browser.Locator `yaml:"message_sent"`
	InboxMessage         browser.Locator `yaml:"inbox_message"`
}

// Fixtures is everything a journey knows about the application under test.
// Nothing application-specific is spelled out in the journeys themselves.
type Fixtures struct {
	Routes   Routes   `yaml:"routes"`
	Patterns Patterns `yaml:"patterns"`
	Fields   Fields   `yaml:"fields"`
	Controls Controls `yaml:"controls"`
	Texts    Texts    `yaml:"texts"`

	// Message is the chat message an employer sends.
	Message string `yaml:"message"`
}

// document is the on-disk layout: defaults inline, per-scenario overrides
// kept as raw nodes until a scenario asks for them.
type document struct {
	Fixtures  `yaml:",inline"`
	Scenarios map[string]yaml.Node `yaml:"scenarios"`
}

// Set holds default fixtures plus per-scenario overrides.
type Set struct {
	base      Fixtures
	overrides map[string]yaml.Node
}

// Default returns the fixtures embedded in the binary.
func Default() *Set {
	s, err := Parse(defaultFixtures)
	if err != nil {
		panic(fmt.Sprintf("embedded fixtures: %v", err))
	}
	return s
}

// Load reads a fixtures document from path.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a fixtures document. Unknown keys are
// rejected so that a misspelled override cannot silently fall back to a
// default.
func Parse(data []byte) (*Set, error) {
	var doc document
	if err := strictDecode(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	s := &Set{base: doc.Fixtures, overrides: doc.Scenarios}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func strictDecode(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Base returns the defaults.
func (s *Set) Base() Fixtures { return s.base }

// Overridden lists the scenarios that carry overrides, sorted.
func (s *Set) Overridden() []string {
	names := make([]string, 0, len(s.overrides))
	for name := range s.overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For returns the fixtures for one scenario: the defaults with that
// scenario's overrides applied key by key.
func (s *Set) For(scenario string) (Fixtures, error) {
	f := s.base
	node, ok := s.overrides[scenario]
	if !ok {
		return f, nil
	}
	// Re-encode so the override goes through the same strict decoder.
	data, err := yaml.Marshal(&node)
	if err != nil {
		return Fixtures{}, fmt.Errorf("scenario %q fixtures: %w", scenario, err)
	}
	if err := strictDecode(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("scenario %q fixtures: %w", scenario, err)
	}
	return f, nil
}

// Validate checks the defaults and every override.
func (s *Set) Validate() error {
	if err := s.base.Validate(); err != nil {
		return err
	}
	for _, name := range s.Overridden() {
		f, err := s.For(name)
		if err != nil {
			return err
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("scenario %q fixtures: %w", name, err)
		}
	}
	return nil
}

// Validate reports missing routes, malformed locators and templates that
// do not parse.
func (f Fixtures) Validate() error {
	var errs []error
	for _, r := range f.routes() {
		switch {
		case r.value == "":
			errs = append(errs, fmt.Errorf("%s: route is required", r.key))
		case !strings.HasPrefix(r.value, "/"):
			errs = append(errs, fmt.Errorf("%s: route %q must start with /", r.key, r.value))
		}
	}
	for _, p := range f.patterns() {
		if p.value == "" {
			errs = append(errs, fmt.Errorf("%s: pattern is required", p.key))
			continue
		}
		if _, err := browser.CompileURLPattern(p.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.key, err))
		}
	}
	for _, l := range f.locators() {
		if err := l.loc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.key, err))
			continue
		}
		if err := parseTemplate(l.loc.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.key, err))
		}
	}
	if f.Message == "" {
		errs = append(errs, fmt.Errorf("message is required"))
	} else if err := parseTemplate(f.Message); err != nil {
		errs = append(errs, fmt.Errorf("message: %w", err))
	}
	return errors.Join(errs...)
}

func parseTemplate(src string) error {
	if !strings.Contains(src, "{{") {
		return nil
	}
	_, err := template.New("fixture").Parse(src)
	return err
}

type keyed struct {
	key   string
	value string
}

type keyedLocator struct {
	key string
	loc browser.Locator
}

func (f Fixtures) routes() []keyed {
	r := f.Routes
	return []keyed{
		{"routes.gate", r.Gate},
		{"routes.home", r.Home},
		{"routes.login", r.Login},
		{"routes.signup", r.Signup},
		{"routes.employer_login", r.EmployerLogin},
		{"routes.employer_signup", r.EmployerSignup},
		{"routes.dashboard", r.Dashboard},
		{"routes.post_job", r.PostJob},
		{"routes.posted_jobs", r.PostedJobs},
		{"routes.chat", r.Chat},
	}
}

func (f Fixtures) patterns() []keyed {
	p := f.Patterns
	return []keyed{
		{"patterns.home", p.Home},
		{"patterns.login", p.Login},
		{"patterns.dashboard", p.Dashboard},
	}
}

func (f Fixtures) locators() []keyedLocator {
	fl, c, t := f.Fields, f.Controls, f.Texts
	return []keyedLocator{
		{"fields.first_name", fl.FirstName},
		{"fields.last_name", fl.LastName},
		{"fields.email", fl.Email},
		{"fields.password", fl.Password},
		{"fields.company", fl.Company},
		{"fields.job_title", fl.JobTitle},
		{"fields.job_location", fl.JobLocation},
		{"fields.job_description", fl.JobDescription},
		{"fields.message", fl.Message},
		{"controls.login", c.Login},
		{"controls.signup", c.Signup},
		{"controls.logout", c.Logout},
		{"controls.post_job", c.PostJob},
		{"controls.save_job", c.SaveJob},
		{"controls.apply", c.Apply},
		{"controls.view_applications", c.ViewApplications},
		{"controls.shortlist", c.Shortlist},
		{"controls.open_chat", c.OpenChat},
		{"controls.send", c.Send},
		{"controls.nav_login", c.NavLogin},
		{"controls.nav_signup", c.NavSignup},
		{"controls.seeker_gate", c.SeekerGate},
		{"controls.job_link", c.JobLink},
		{"texts.employer_registered", t.EmployerRegistered},
		{"texts.seeker_registered", t.SeekerRegistered},
		{"texts.employer_welcome", t.EmployerWelcome},
		{"texts.seeker_welcome", t.SeekerWelcome},
		{"texts.job_posted", t.JobPosted},
		{"texts.job_heading", t.JobHeading},
		{"texts.application_submitted", t.ApplicationSubmitted},
		{"texts.applicant_name", t.ApplicantName},
		{"texts.applicant_email", t.ApplicantEmail},
		{"texts.candidate_shortlisted", t.CandidateShortlisted},
		{"texts.chat_header", t.ChatHeader},
		{"texts.message_sent", t.MessageSent},
		{"texts.inbox_message", t.InboxMessage},
	}
}
