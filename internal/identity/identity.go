// Package identity generates synthetic, run-unique actors for journeys.
//
// Every string field that the application under test must treat as unique
// (emails, company names, job titles) embeds a random suffix drawn uniformly
// from a fixed alphabet. With the default alphabet of 36 symbols and a suffix
// length of 8 the collision probability between two draws is 36^-8; the
// generator additionally remembers every suffix it has issued and redraws on
// a repeat, so identities produced by one Generator never collide.
//
// The random source is injectable. Tests and reproducible runs pass a seeded
// source; a nil source is seeded from the runtime.
package identity

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Role is the logical actor an identity plays in a journey.
type Role string

const (
	RoleEmployer  Role = "employer"
	RoleJobSeeker Role = "job_seeker"
	RoleAnonymous Role = "anonymous"
)

// Defaults mirror the values the marketplace's own verification journeys used.
const (
	DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	DefaultLength   = 8
	DefaultPassword = "password123"
)

// Identity is an immutable synthetic actor.
// Fields that do not apply to the role are left empty.
type Identity struct {
	Role     Role
	Suffix   string
	Email    string
	Password string

	FirstName   string
	LastName    string
	DisplayName string

	Company        string
	JobTitle       string
	JobLocation    string
	JobDescription string
}

// FullName returns "First Last" for job seekers and the display name otherwise.
func (id Identity) FullName() string {
	if id.FirstName == "" && id.LastName == "" {
		return id.DisplayName
	}
	return id.FirstName + " " + id.LastName
}

// IsZero reports whether id is the zero Identity.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Generator produces identities. It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	alphabet string
	length   int
	password string
	issued   map[string]struct{}
}

// Option configures a Generator.
type Option func(*Generator)

// WithAlphabet overrides the suffix alphabet. Empty values are ignored.
func WithAlphabet(alphabet string) Option {
	return func(g *Generator) {
		if alphabet != "" {
			g.alphabet = alphabet
		}
	}
}

// WithLength overrides the suffix length. Non-positive values are ignored.
func WithLength(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.length = n
		}
	}
}

// WithPassword overrides the password given to every identity.
func WithPassword(password string) Option {
	return func(g *Generator) {
		if password != "" {
			g.password = password
		}
	}
}

// NewGenerator creates a Generator drawing from src.
// A nil src is replaced by a PCG source seeded from the runtime.
func NewGenerator(src rand.Source, opts ...Option) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	g := &Generator{
		rng:      rand.New(src),
		alphabet: DefaultAlphabet,
		length:   DefaultLength,
		password: DefaultPassword,
		issued:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewSeededGenerator is shorthand for a Generator over a PCG source with a fixed seed.
func NewSeededGenerator(seed uint64, opts ...Option) *Generator {
	return NewGenerator(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), opts...)
}

// maxRedraws bounds the attempts at one suffix length before the generator
// lengthens its suffixes.
const maxRedraws = 64

// Suffix draws a fresh suffix that this generator has never returned before.
//
// When maxRedraws consecutive draws all repeat an issued suffix, the space at
// the current length is treated as exhausted and the suffix grows by one
// symbol, so Suffix always returns after a bounded number of draws.
func (g *Generator) Suffix() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		for range maxRedraws {
			s := g.draw()
			if _, seen := g.issued[s]; !seen {
				g.issued[s] = struct{}{}
				return s
			}
		}
		g.length++
	}
}

// draw must be called with mu held.
func (g *Generator) draw() string {
	buf := make([]byte, g.length)
	for i := range buf {
		buf[i] = g.alphabet[g.rng.IntN(len(g.alphabet))]
	}
	return string(buf)
}

// Generate returns a new identity for role.
func (g *Generator) Generate(role Role) Identity {
	s := g.Suffix()
	id := Identity{
		Role:     role,
		Suffix:   s,
		Password: g.password,
	}

	switch role {
	case RoleEmployer:
		id.Email = fmt.Sprintf("employer_%s@test.com", s)
		id.Company = fmt.Sprintf("Test Company %s", s)
		id.DisplayName = id.Company
		id.JobTitle = fmt.Sprintf("Software Engineer %s", s)
		id.JobLocation = "Remote"
		id.JobDescription = fmt.Sprintf("This is a test job description (%s).", s)
	case RoleJobSeeker:
		id.Email = fmt.Sprintf("user_%s@test.com", s)
		id.FirstName = "Test"
		id.LastName = "User"
		id.DisplayName = id.FirstName + " " + id.LastName
	default:
		id.DisplayName = fmt.Sprintf("Visitor %s", s)
		id.Password = ""
	}
	return id
}
