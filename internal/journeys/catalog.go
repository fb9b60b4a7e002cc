package journeys

import (
	"fmt"
	"sort"

	"github.com/roach88/jobharness/internal/harness"
	"github.com/roach88/jobharness/internal/identity"
)

// Journey names.
const (
	EmployerHappyPath    = "employer-happy-path"
	CrossRoleApplication = "cross-role-application"
	AccessControl        = "access-control"
	EmployerChat         = "employer-chat"
)

// Actor names. Fixture templates address identities by these names.
const (
	ActorEmployer = "employer"
	ActorSeeker   = "seeker"
	ActorVisitor  = "visitor"
)

// Journey is one catalog entry.
type Journey struct {
	Name        string
	Description string
	build       func(f Fixtures) harness.Definition
}

var catalog = []Journey{
	{
		Name:        EmployerHappyPath,
		Description: "Employer registers, logs in, posts a job and logs out",
		build:       employerHappyPath,
	},
	{
		Name:        CrossRoleApplication,
		Description: "Job seeker applies to a posted job and the employer sees the applicant",
		build:       crossRoleApplication,
	},
	{
		Name:        AccessControl,
		Description: "Unauthenticated visitors are gated and redirected to login",
		build:       accessControl,
	},
	{
		Name:        EmployerChat,
		Description: "Employer shortlists an applicant and messages them while both are logged in",
		build:       employerChat,
	},
}

// All returns every journey in catalog order.
func All() []Journey {
	out := make([]Journey, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns every journey name in catalog order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, j := range catalog {
		names[i] = j.Name
	}
	return names
}

// Lookup finds a journey by name.
func Lookup(name string) (Journey, bool) {
	for _, j := range catalog {
		if j.Name == name {
			return j, true
		}
	}
	return Journey{}, false
}

// Scenario builds the journey against set's fixtures for it.
func (j Journey) Scenario(set *Set) (*harness.Scenario, error) {
	f, err := set.For(j.Name)
	if err != nil {
		return nil, err
	}
	def := j.build(f)
	def.Name = j.Name
	def.Description = j.Description
	sc, err := harness.NewScenario(def)
	if err != nil {
		return nil, fmt.Errorf("journey %q: %w", j.Name, err)
	}
	return sc, nil
}

// Build returns the named journeys, in the order given, or every journey
// when names is empty.
func Build(set *Set, names ...string) ([]*harness.Scenario, error) {
	if len(names) == 0 {
		names = Names()
	}
	var unknown []string
	journeys := make([]Journey, 0, len(names))
	for _, name := range names {
		j, ok := Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		journeys = append(journeys, j)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown journey(s): %v", unknown)
	}

	out := make([]*harness.Scenario, 0, len(journeys))
	for _, j := range journeys {
		sc, err := j.Scenario(set)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func employer() harness.Actor { return harness.Actor{Name: ActorEmployer, Role: identity.RoleEmployer} }
func seeker() harness.Actor   { return harness.Actor{Name: ActorSeeker, Role: identity.RoleJobSeeker} }
func visitor() harness.Actor  { return harness.Actor{Name: ActorVisitor, Role: identity.RoleAnonymous} }

func employerHappyPath(f Fixtures) harness.Definition {
	return harness.Definition{
		Strategy: harness.StrategySequential,
		Actors:   []harness.Actor{employer()},
		Steps: []harness.Step{
			employerSignsUp(f),
			employerLogsIn(f, "Employer logs in"),
			employerPostsJob(f),
			{
				Actor:       ActorEmployer,
				Description: "Employer logs out",
				Actions:     []harness.Action{harness.SignOutVia(f.Controls.Logout)},
				Expect: []harness.Expectation{
					harness.URL(f.Patterns.Login),
					harness.Visible(f.Controls.Login),
					harness.Hidden(f.Controls.Logout),
				},
				Checkpoint: "logged-out",
			},
		},
	}
}

// crossRoleApplication hands one browsing context from employer to seeker
// and back, signing out between roles.
func crossRoleApplication(f Fixtures) harness.Definition {
	return harness.Definition{
		Strategy: harness.StrategySequential,
		Actors:   []harness.Actor{employer(), seeker()},
		Steps: []harness.Step{
			employerSignsUp(f),
			employerLogsIn(f, "Employer logs in"),
			employerPostsJob(f),
			signsOut(f, ActorEmployer, "Employer logs out"),
			seekerSignsUp(f),
			seekerLogsIn(f),
			seekerOpensJob(f),
			seekerApplies(f),
			signsOut(f, ActorSeeker, "Seeker logs out"),
			employerLogsIn(f, "Employer logs back in"),
			{
				Actor:       ActorEmployer,
				Description: "Employer sees the applicant",
				Actions: []harness.Action{
					harness.Navigate(f.Routes.PostedJobs),
					harness.Click(f.Controls.ViewApplications),
				},
				Expect: []harness.Expectation{
					harness.Visible(f.Texts.ApplicantName),
					harness.Visible(f.Texts.ApplicantEmail),
				},
				Checkpoint: "applications",
			},
		},
	}
}

// accessControl keeps the employer logged in while an anonymous visitor
// explores in a separate browsing context.
func accessControl(f Fixtures) harness.Definition {
	return harness.Definition{
		Strategy: harness.StrategyIndependent,
		Actors:   []harness.Actor{employer(), visitor()},
		Steps: []harness.Step{
			employerSignsUp(f),
			employerLogsIn(f, "Employer logs in"),
			employerPostsJob(f),
			{
				Actor:       ActorVisitor,
				Description: "Visitor lands before choosing a role",
				Actions:     []harness.Action{harness.Navigate(f.Routes.Gate)},
				Expect: []harness.Expectation{
					harness.Visible(f.Controls.SeekerGate),
					harness.Hidden(f.Controls.NavLogin),
					harness.Hidden(f.Controls.NavSignup),
					harness.Hidden(f.Controls.Logout),
				},
				Checkpoint: "gate",
			},
			{
				Actor:       ActorVisitor,
				Description: "Visitor passes the role selection",
				Actions:     []harness.Action{harness.Click(f.Controls.SeekerGate)},
				Expect: []harness.Expectation{
					harness.URL(f.Patterns.Home),
					harness.Visible(f.Controls.NavLogin),
					harness.Visible(f.Controls.NavSignup),
				},
			},
			{
				Actor:       ActorVisitor,
				Description: "Saving a job requires login",
				Actions:     []harness.Action{harness.Click(f.Controls.SaveJob)},
				Expect: []harness.Expectation{
					harness.URL(f.Patterns.Login),
					harness.Visible(f.Controls.Login),
					harness.Hidden(f.Controls.NavLogin),
					harness.Hidden(f.Controls.NavSignup),
				},
				Checkpoint: "save-redirect",
			},
			{
				Actor:       ActorVisitor,
				Description: "Visitor opens a job",
				Actions: []harness.Action{
					harness.Navigate(f.Routes.Home),
					harness.Click(f.Controls.JobLink),
				},
				Expect: []harness.Expectation{
					harness.Visible(f.Controls.Apply),
					harness.Visible(f.Controls.NavLogin),
					harness.Visible(f.Controls.NavSignup),
				},
			},
			{
				Actor:       ActorVisitor,
				Description: "Applying requires login",
				Actions:     []harness.Action{harness.Click(f.Controls.Apply)},
				Expect: []harness.Expectation{
					harness.URL(f.Patterns.Login),
					harness.Visible(f.Controls.Login),
					harness.Hidden(f.Controls.NavLogin),
					harness.Hidden(f.Controls.NavSignup),
				},
				Checkpoint: "apply-redirect",
			},
		},
	}
}

// employerChat needs both roles logged in at once, so each actor gets its
// own browsing context.
func employerChat(f Fixtures) harness.Definition {
	return harness.Definition{
		Strategy: harness.StrategyIndependent,
		Actors:   []harness.Actor{employer(), seeker()},
		Steps: []harness.Step{
			employerSignsUp(f),
			employerLogsIn(f, "Employer logs in"),
			employerPostsJob(f),
			seekerSignsUp(f),
			seekerLogsIn(f),
			seekerOpensJob(f),
			seekerApplies(f),
			{
				Actor:       ActorEmployer,
				Description: "Employer shortlists the applicant",
				Actions: []harness.Action{
					harness.Navigate(f.Routes.PostedJobs),
					harness.Click(f.Controls.ViewApplications),
					harness.Click(f.Controls.Shortlist),
				},
				Expect: []harness.Expectation{harness.Visible(f.Texts.CandidateShortlisted)},
			},
			{
				Actor:       ActorEmployer,
				Description: "Employer opens the chat",
				Actions:     []harness.Action{harness.Click(f.Controls.OpenChat)},
				Expect:      []harness.Expectation{harness.Visible(f.Texts.ChatHeader)},
			},
			{
				Actor:       ActorEmployer,
				Description: "Employer sends a message",
				Actions: []harness.Action{
					harness.Fill(f.Fields.Message, f.Message),
					harness.Click(f.Controls.Send),
				},
				Expect:     []harness.Expectation{harness.Visible(f.Texts.MessageSent)},
				Checkpoint: "message-sent",
			},
			{
				Actor:       ActorSeeker,
				Description: "Seeker reads the message",
				Actions:     []harness.Action{harness.Navigate(f.Routes.Chat)},
				Expect:      []harness.Expectation{harness.Visible(f.Texts.InboxMessage)},
				Checkpoint:  "inbox",
			},
		},
	}
}

func employerSignsUp(f Fixtures) harness.Step {
	return harness.Step{
		Actor:       ActorEmployer,
		Description: "Employer signs up",
		Actions: []harness.Action{
			harness.Navigate(f.Routes.EmployerSignup),
			harness.Fill(f.Fields.Company, "{{.employer.Company}}"),
			harness.Fill(f.Fields.Email, "{{.employer.Email}}"),
			harness.Fill(f.Fields.Password, "{{.employer.Password}}"),
			harness.Click(f.Controls.Signup),
		},
		Expect: []harness.Expectation{harness.Visible(f.Texts.EmployerRegistered)},
	}
}

func employerLogsIn(f Fixtures, description string) harness.Step {
	return harness.Step{
		Actor:       ActorEmployer,
		Description: description,
		Actions: []harness.Action{
			harness.Navigate(f.Routes.EmployerLogin),
			harness.SignInAs(ActorEmployer),
			harness.Fill(f.Fields.Email, "{{.employer.Email}}"),
			harness.Fill(f.Fields.Password, "{{.employer.Password}}"),
			harness.Click(f.Controls.Login),
		},
		Expect: []harness.Expectation{
			harness.Visible(f.Texts.EmployerWelcome),
			harness.URL(f.Patterns.Dashboard),
		},
	}
}

func employerPostsJob(f Fixtures) harness.Step {
	return harness.Step{
		Actor:       ActorEmployer,
		Description: "Employer posts a job",
		Actions: []harness.Action{
			harness.Navigate(f.Routes.PostJob),
			harness.Fill(f.Fields.JobTitle, "{{.employer.JobTitle}}"),
			harness.Fill(f.Fields.JobLocation, "{{.employer.JobLocation}}"),
			harness.Fill(f.Fields.JobDescription, "{{.employer.JobDescription}}"),
			harness.Click(f.Controls.PostJob),
		},
		Expect:     []harness.Expectation{harness.Visible(f.Texts.JobPosted)},
		Checkpoint: "job-posted",
	}
}

func signsOut(f Fixtures, actor, description string) harness.Step {
	return harness.Step{
		Actor:       actor,
		Description: description,
		Actions:     []harness.Action{harness.SignOutVia(f.Controls.Logout)},
		Expect:      []harness.Expectation{harness.URL(f.Patterns.Login)},
	}
}

func seekerSignsUp(f Fixtures) harness.Step {
	return harness.Step{
		Actor:       ActorSeeker,
		Description: "Seeker signs up",
		Actions: []harness.Action{
			harness.Navigate(f.Routes.Signup),
			harness.Fill(f.Fields.FirstName, "{{.seeker.FirstName}}"),
			harness.Fill(f.Fields.LastName, "{{.seeker.LastName}}"),
			harness.Fill(f.Fields.Email, "{{.seeker.Email}}"),
			harness.Fill(f.Fields.Password, "{{.seeker.Password}}"),
			harness.Click(f.Controls.Signup),
		},
		Expect: []harness.Expectation{harness.Visible(f.Texts.SeekerRegistered)},
	}
}

func seekerLogsIn(f Fixtures) harness.Step {
	return harness.Step{
		Actor:       ActorSeeker,
		Description: "Seeker logs in",
		Actions: []harness.Action{
			harness.Navigate(f.Routes.Login),
			harness.SignInAs(ActorSeeker),
			harness.Fill(f.Fields.Email, "{{.seeker.Email}}"),
			harness.Fill(f.Fields.Password, "{{.seeker.Password}}"),
			harness.Click(f.Controls.Login),
		},
		Expect: []harness.Expectation{
			harness.Visible(f.Texts.SeekerWelcome),
			harness.URL(f.Patterns.Home),
		},
	}
}

func seekerOpensJob(f Fixtures) harness.Step {
	return harness.Step{
		Actor:       ActorSeeker,
		Description: "Seeker opens the posted job",
		Actions: []harness.Action{
			harness.Navigate(f.Routes.Home),
			harness.Click(f.Controls.JobLink),
		},
		Expect: []harness.Expectation{harness.Visible(f.Texts.JobHeading)},
	}
}

func seekerApplies(f Fixtures) harness.Step {
	return harness.Step{
		Actor:       ActorSeeker,
		Description: "Seeker applies",
		Actions:     []harness.Action{harness.Click(f.Controls.Apply)},
		Expect:      []harness.Expectation{harness.Visible(f.Texts.ApplicationSubmitted)},
		Checkpoint:  "application-submitted",
	}
}
