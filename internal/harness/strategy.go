package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/jobharness/internal/session"
)

// sharedActor names the single session of the sequential strategy.
const sharedActor = "shared"

// OpenFunc opens a fresh session for the named actor.
type OpenFunc func(ctx context.Context, actor string) (*session.Session, error)

// Provisioner maps step actors onto sessions for one scenario run.
//
// Sessions are opened lazily on first use and are exclusively owned by the
// provisioner; ReleaseAll closes every one of them.
type Provisioner interface {
	// Acquire returns the session that should execute actor's steps.
	Acquire(ctx context.Context, actor string) (*session.Session, error)

	// Opened reports how many sessions have been created.
	Opened() int

	// ReleaseAll closes every session. Safe to call more than once.
	ReleaseAll() error
}

// NewProvisioner returns the provisioner implementing strategy.
func NewProvisioner(strategy Strategy, open OpenFunc) (Provisioner, error) {
	switch strategy {
	case StrategySequential, "":
		return &sequentialProvisioner{open: open}, nil
	case StrategyIndependent:
		return &independentProvisioner{open: open, sessions: make(map[string]*session.Session)}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", strategy)
}

// sequentialProvisioner drives every actor through one session.
type sequentialProvisioner struct {
	open   OpenFunc
	shared *session.Session
	opened int
}

func (p *sequentialProvisioner) Acquire(ctx context.Context, actor string) (*session.Session, error) {
	if p.shared != nil {
		return p.shared, nil
	}
	s, err := p.open(ctx, sharedActor)
	if err != nil {
		return nil, err
	}
	p.shared = s
	p.opened++
	return s, nil
}

func (p *sequentialProvisioner) Opened() int { return p.opened }

func (p *sequentialProvisioner) ReleaseAll() error {
	if p.shared == nil {
		return nil
	}
	return p.shared.Close()
}

// independentProvisioner gives each actor its own session.
type independentProvisioner struct {
	open     OpenFunc
	sessions map[string]*session.Session
	order    []string
}

func (p *independentProvisioner) Acquire(ctx context.Context, actor string) (*session.Session, error) {
	if s, ok := p.sessions[actor]; ok {
		return s, nil
	}
	s, err := p.open(ctx, actor)
	if err != nil {
		return nil, err
	}
	p.sessions[actor] = s
	p.order = append(p.order, actor)
	return s, nil
}

func (p *independentProvisioner) Opened() int { return len(p.order) }

func (p *independentProvisioner) ReleaseAll() error {
	var errs []error
	for _, actor := range p.order {
		if err := p.sessions[actor].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
