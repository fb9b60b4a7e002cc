package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/jobharness/internal/browser"
)

// Marketplace is an in-memory stand-in for the job-marketplace frontend.
//
// It implements browser.Driver so journeys run end-to-end in unit tests.
// Server-side state (accounts, jobs, applications, messages) is shared by
// every page, while authentication and the role-selection gate live on the
// page, which matches one browsing context per page.
//
// Success notices ("Job posted successfully", ...) can be held back for a
// number of visibility probes with FlashDelay, which exercises the
// bounded-poll path the same way network round-trips do.
type Marketplace struct {
	mu sync.Mutex

	BaseURL string

	// FlashDelay hides each new notice from the next N visibility probes.
	FlashDelay int

	// Unreachable paths fail navigation, as if the server refused the connection.
	Unreachable map[string]bool

	// NavOnAuthForms keeps the Login/Signup header links on the login and
	// signup forms, a regression the access-control journey must catch.
	NavOnAuthForms bool

	employers map[string]*employerAccount
	seekers   map[string]*seekerAccount
	jobs      []*postedJob
	apps      []*jobApplication
	messages  []chatMessage

	pages  []*MarketPage
	closed bool
}

type employerAccount struct {
	company  string
	email    string
	password string
}

type seekerAccount struct {
	first    string
	last     string
	email    string
	password string
}

type postedJob struct {
	id          int
	title       string
	location    string
	description string
	employer    string
}

type jobApplication struct {
	jobID       int
	seeker      string
	shortlisted bool
}

type chatMessage struct {
	from string
	to   string
	text string
}

// NewMarketplace creates an empty marketplace served at baseURL.
func NewMarketplace(baseURL string) *Marketplace {
	return &Marketplace{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		Unreachable: make(map[string]bool),
		employers:   make(map[string]*employerAccount),
		seekers:     make(map[string]*seekerAccount),
	}
}

// SeedJob publishes a job owned by an employer that is not otherwise registered.
func (m *Marketplace) SeedJob(title, location string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addJob(title, location, "Seeded listing.", "seed@example.com")
}

func (m *Marketplace) addJob(title, location, description, employer string) int {
	id := len(m.jobs) + 1
	m.jobs = append(m.jobs, &postedJob{id: id, title: title, location: location, description: description, employer: employer})
	return id
}

// JobCount returns the number of published jobs.
func (m *Marketplace) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// ApplicationCount returns the number of submitted applications.
func (m *Marketplace) ApplicationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.apps)
}

// Messages returns every chat message text in send order.
func (m *Marketplace) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.text
	}
	return out
}

// OpenPages counts pages that have not been closed.
func (m *Marketplace) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pages {
		if !p.closed {
			n++
		}
	}
	return n
}

// PagesOpened counts every page ever created.
func (m *Marketplace) PagesOpened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// NewPage implements browser.Driver.
func (m *Marketplace) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("marketplace driver is closed")
	}
	p := &MarketPage{app: m, path: "about:blank", form: make(map[string]string)}
	m.pages = append(m.pages, p)
	return p, nil
}

// Close implements browser.Driver.
func (m *Marketplace) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, p := range m.pages {
		p.closed = true
	}
	return nil
}

// element is one rendered affordance.
type element struct {
	role        string // button, link, heading, textbox, text
	name        string
	label       string
	placeholder string
	field       string
	css         string
	flash       bool
	onClick     func()
}

func (e element) matches(loc browser.Locator) bool {
	switch loc.By {
	case browser.ByLabel:
		return e.label != "" && browser.MatchName(e.label, loc.Name, loc.Exact)
	case browser.ByPlaceholder:
		return e.placeholder != "" && browser.MatchName(e.placeholder, loc.Name, loc.Exact)
	case browser.ByRole:
		if e.role != loc.Role {
			return false
		}
		return loc.Name == "" || browser.MatchName(e.name, loc.Name, loc.Exact)
	case browser.ByText:
		return e.role != "textbox" && e.name != "" && browser.MatchName(e.name, loc.Name, loc.Exact)
	case browser.ByCSS:
		return e.css != "" && e.css == loc.Name
	}
	return false
}

type pageAuth struct {
	employer bool
	email    string
}

// MarketPage is one browsing context on a Marketplace. All state is guarded
// by the marketplace mutex.
type MarketPage struct {
	app *Marketplace

	path       string
	gatePassed bool
	auth       *pageAuth
	form       map[string]string
	flash      string
	flashHold  int
	viewJob    int
	chatWith   string
	closed     bool
	shots      int
}

var errPageClosed = errors.New("target page, context or browser has been closed")

func (p *MarketPage) url() string {
	if p.path == "about:blank" {
		return p.path
	}
	return p.app.BaseURL + p.path
}

// goTo switches route and resets per-view state.
func (p *MarketPage) goTo(path string) {
	p.path = path
	p.form = make(map[string]string)
	p.flash = ""
	p.flashHold = 0
	p.viewJob = 0
	p.chatWith = ""

	// Route guards.
	switch {
	case path == "/post-job" || path == "/posted-jobs" || path == "/employer/dashboard":
		if p.auth == nil || !p.auth.employer {
			p.path = "/employer-login"
		}
	case path == "/chat":
		if p.auth == nil {
			p.path = "/login"
		}
	}
}

func (p *MarketPage) notify(msg string) {
	p.flash = msg
	p.flashHold = p.app.FlashDelay
}

// Goto implements browser.Page.
func (p *MarketPage) Goto(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	if p.closed {
		return errPageClosed
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if p.app.Unreachable[path] {
		return fmt.Errorf("net::ERR_CONNECTION_REFUSED at %s", rawURL)
	}
	p.goTo(path)
	return nil
}

// Visible implements browser.Page.
func (p *MarketPage) Visible(ctx context.Context, loc browser.Locator) (bool, error) {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	if p.closed {
		return false, errPageClosed
	}
	e, ok := p.find(loc)
	if !ok {
		return false, nil
	}
	if e.flash && p.flashHold > 0 {
		p.flashHold--
		return false, nil
	}
	return true, nil
}

// Fill implements browser.Page.
func (p *MarketPage) Fill(ctx context.Context, loc browser.Locator, value string) error {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	if p.closed {
		return errPageClosed
	}
	e, ok := p.find(loc)
	if !ok {
		return fmt.Errorf("no element matches %s", loc)
	}
	if e.field == "" {
		return fmt.Errorf("element %q is not an input", e.name)
	}
	p.form[e.field] = value
	return nil
}

// Click implements browser.Page.
func (p *MarketPage) Click(ctx context.Context, loc browser.Locator) error {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	if p.closed {
		return errPageClosed
	}
	e, ok := p.find(loc)
	if !ok {
		return fmt.Errorf("no element matches %s", loc)
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

// Snapshot implements browser.Page.
func (p *MarketPage) Snapshot(ctx context.Context) (browser.Snapshot, error) {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	if p.closed {
		return browser.Snapshot{}, errPageClosed
	}
	var lines []string
	for _, e := range p.render() {
		if e.role == "textbox" || e.name == "" {
			continue
		}
		if e.flash && p.flashHold > 0 {
			continue
		}
		lines = append(lines, e.name)
	}
	return browser.Snapshot{URL: p.url(), Text: strings.Join(lines, "\n")}, nil
}

// Screenshot implements browser.Page with a deterministic placeholder image.
func (p *MarketPage) Screenshot(ctx context.Context) ([]byte, error) {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	if p.closed {
		return nil, errPageClosed
	}
	p.shots++
	return []byte("PNG " + p.url()), nil
}

// Close implements browser.Page.
func (p *MarketPage) Close() error {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether the page was closed.
func (p *MarketPage) Closed() bool {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	return p.closed
}

func (p *MarketPage) find(loc browser.Locator) (element, bool) {
	for _, e := range p.render() {
		if e.matches(loc) {
			return e, true
		}
	}
	return element{}, false
}

func textbox(label, field string) element {
	return element{role: "textbox", label: label, field: field}
}

func text(s string) element {
	return element{role: "text", name: s}
}

// render builds the element list for the current route and state.
// Callers hold the marketplace mutex.
func (p *MarketPage) render() []element {
	var out []element
	out = append(out, p.nav()...)

	switch {
	case p.path == "about:blank":
		return nil
	case p.path == "/" && !p.gatePassed:
		out = append(out,
			element{role: "heading", name: "I am a Job Seeker", onClick: func() {
				p.gatePassed = true
				p.goTo("/home")
			}},
			element{role: "heading", name: "I am an Employer", onClick: func() {
				p.gatePassed = true
				p.goTo("/employer-login")
			}},
		)
	case p.path == "/" || p.path == "/home":
		out = append(out, p.jobList()...)
	case p.path == "/login":
		out = append(out, text("Job Seeker Login"), textbox("Email", "email"), textbox("Password", "password"),
			element{role: "button", name: "Login", onClick: p.loginSeeker})
	case p.path == "/employer-login":
		out = append(out, text("Employer Login"), textbox("Email", "email"), textbox("Password", "password"),
			element{role: "button", name: "Login", onClick: p.loginEmployer})
	case p.path == "/signup":
		out = append(out, text("Create your account"),
			textbox("First Name", "first"), textbox("Last Name", "last"),
			textbox("Email", "email"), textbox("Password", "password"),
			element{role: "button", name: "Sign Up", onClick: p.signupSeeker})
	case p.path == "/employer-signup":
		out = append(out, text("Register your company"),
			textbox("Company Name", "company"), textbox("Email", "email"), textbox("Password", "password"),
			element{role: "button", name: "Sign Up", onClick: p.signupEmployer})
	case p.path == "/employer/dashboard":
		out = append(out, text("Employer Dashboard"),
			element{role: "link", name: "Post a Job", onClick: func() { p.goTo("/post-job") }},
			element{role: "link", name: "View Applications", onClick: func() { p.goTo("/posted-jobs") }})
	case p.path == "/post-job":
		out = append(out, text("Post a new job"),
			textbox("Job Title", "title"), textbox("Location", "location"), textbox("Job Description", "description"),
			element{role: "button", name: "Post Job", onClick: p.postJob})
	case strings.HasPrefix(p.path, "/jobs/"):
		out = append(out, p.jobDetail()...)
	case p.path == "/posted-jobs":
		out = append(out, p.postedJobs()...)
	case p.path == "/chat":
		out = append(out, p.inbox()...)
	default:
		out = append(out, text("404 Not Found"))
	}

	if p.flash != "" {
		out = append(out, element{role: "text", name: p.flash, flash: true})
	}
	return out
}

// nav renders the header. Login/Signup links appear only once the visitor
// has passed the role-selection gate and never on the auth forms themselves.
func (p *MarketPage) nav() []element {
	if p.path == "about:blank" {
		return nil
	}
	if p.auth != nil {
		greeting := ""
		if p.auth.employer {
			greeting = p.app.employers[p.auth.email].company
		} else {
			greeting = p.app.seekers[p.auth.email].first
		}
		return []element{
			text("Welcome, " + greeting),
			element{role: "button", name: "Logout", onClick: func() {
				p.auth = nil
				p.goTo("/login")
			}},
		}
	}
	switch p.path {
	case "/login", "/signup", "/employer-login", "/employer-signup":
		if !p.app.NavOnAuthForms {
			return nil
		}
	}
	if !p.gatePassed {
		return nil
	}
	return []element{
		{role: "link", name: "Login", onClick: func() { p.goTo("/login") }},
		{role: "link", name: "Signup", onClick: func() { p.goTo("/signup") }},
	}
}

func (p *MarketPage) jobList() []element {
	out := []element{text("Latest Jobs")}
	for _, j := range p.app.jobs {
		j := j
		out = append(out,
			element{role: "link", name: j.title, css: `a[href*="/jobs/"]`, onClick: func() {
				p.goTo("/jobs/" + strconv.Itoa(j.id))
			}},
			text(j.location),
			element{role: "button", name: "Save", onClick: func() {
				if p.auth == nil {
					p.goTo("/login")
					return
				}
				p.notify("Job saved")
			}},
		)
	}
	return out
}

func (p *MarketPage) jobByPath() *postedJob {
	id, err := strconv.Atoi(strings.TrimPrefix(p.path, "/jobs/"))
	if err != nil {
		return nil
	}
	for _, j := range p.app.jobs {
		if j.id == id {
			return j
		}
	}
	return nil
}

func (p *MarketPage) jobDetail() []element {
	j := p.jobByPath()
	if j == nil {
		return []element{text("Job not found")}
	}
	return []element{
		{role: "heading", name: j.title},
		text(j.location),
		text(j.description),
		{role: "button", name: "Apply Now", onClick: func() {
			switch {
			case p.auth == nil:
				p.goTo("/login")
			case p.auth.employer:
				p.notify("Only job seekers can apply")
			default:
				for _, a := range p.app.apps {
					if a.jobID == j.id && a.seeker == p.auth.email {
						p.notify("You have already applied for this job")
						return
					}
				}
				p.app.apps = append(p.app.apps, &jobApplication{jobID: j.id, seeker: p.auth.email})
				p.notify("Application submitted successfully")
			}
		}},
	}
}

func (p *MarketPage) postedJobs() []element {
	out := []element{text("Your Posted Jobs")}
	for _, j := range p.app.jobs {
		if j.employer != p.auth.email {
			continue
		}
		j := j
		out = append(out,
			element{role: "heading", name: j.title},
			element{role: "button", name: "View Applications", onClick: func() {
				p.viewJob = j.id
				p.chatWith = ""
			}},
		)
	}
	if p.viewJob == 0 {
		return out
	}

	for _, a := range p.app.apps {
		if a.jobID != p.viewJob {
			continue
		}
		a := a
		s := p.app.seekers[a.seeker]
		out = append(out, text(s.first+" "+s.last), text(s.email))
		if a.shortlisted {
			out = append(out, text("Shortlisted"))
		} else {
			out = append(out, element{role: "button", name: "Shortlist", onClick: func() {
				a.shortlisted = true
				p.notify("Candidate shortlisted")
			}})
		}
		out = append(out, element{role: "button", name: "Chat", onClick: func() {
			p.chatWith = a.seeker
		}})
	}

	if p.chatWith != "" {
		s := p.app.seekers[p.chatWith]
		out = append(out,
			element{role: "heading", name: "Chat with " + s.first + " " + s.last},
			element{role: "textbox", placeholder: "Type a message...", field: "message"},
			element{role: "button", name: "Send", onClick: func() {
				msg := strings.TrimSpace(p.form["message"])
				if msg == "" {
					return
				}
				p.app.messages = append(p.app.messages, chatMessage{from: p.auth.email, to: p.chatWith, text: msg})
				p.form["message"] = ""
			}},
		)
		for _, m := range p.app.messages {
			if (m.from == p.auth.email && m.to == p.chatWith) || (m.to == p.auth.email && m.from == p.chatWith) {
				out = append(out, text(m.text))
			}
		}
	}
	return out
}

func (p *MarketPage) inbox() []element {
	out := []element{{role: "heading", name: "Messages"}}
	for _, m := range p.app.messages {
		if m.to != p.auth.email {
			continue
		}
		from := m.from
		if e, ok := p.app.employers[m.from]; ok {
			from = e.company
		}
		out = append(out, text(from+": "+m.text))
	}
	return out
}

func (p *MarketPage) loginSeeker() {
	s, ok := p.app.seekers[p.form["email"]]
	if !ok || s.password != p.form["password"] {
		p.notify("Invalid email or password")
		return
	}
	p.auth = &pageAuth{email: s.email}
	p.gatePassed = true
	p.goTo("/home")
}

func (p *MarketPage) loginEmployer() {
	e, ok := p.app.employers[p.form["email"]]
	if !ok || e.password != p.form["password"] {
		p.notify("Invalid email or password")
		return
	}
	p.auth = &pageAuth{employer: true, email: e.email}
	p.gatePassed = true
	p.goTo("/employer/dashboard")
}

func (p *MarketPage) signupSeeker() {
	email := p.form["email"]
	if email == "" || p.form["password"] == "" {
		p.notify("All fields are required")
		return
	}
	if _, exists := p.app.seekers[email]; exists {
		p.notify("User already exists")
		return
	}
	p.app.seekers[email] = &seekerAccount{first: p.form["first"], last: p.form["last"], email: email, password: p.form["password"]}
	p.notify("Signup successful!")
}

func (p *MarketPage) signupEmployer() {
	email := p.form["email"]
	if email == "" || p.form["password"] == "" || p.form["company"] == "" {
		p.notify("All fields are required")
		return
	}
	if _, exists := p.app.employers[email]; exists {
		p.notify("Employer already exists")
		return
	}
	p.app.employers[email] = &employerAccount{company: p.form["company"], email: email, password: p.form["password"]}
	p.notify("Employer registered successfully")
}

func (p *MarketPage) postJob() {
	if p.form["title"] == "" {
		p.notify("Job title is required")
		return
	}
	p.app.addJob(p.form["title"], p.form["location"], p.form["description"], p.auth.email)
	p.form = make(map[string]string)
	p.notify("Job posted successfully")
}
