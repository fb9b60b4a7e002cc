package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobharness/internal/session"
	"github.com/roach88/jobharness/internal/testutil"
)

func marketOpener(m *testutil.Marketplace) (OpenFunc, *[]string) {
	var opened []string
	return func(ctx context.Context, actor string) (*session.Session, error) {
		opened = append(opened, actor)
		return session.Open(ctx, m, session.Config{Actor: actor, BaseURL: testBase, Logger: quietLogger()})
	}, &opened
}

func TestSequentialProvisioner_SharesOneSession(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	open, opened := marketOpener(m)
	p, err := NewProvisioner(StrategySequential, open)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := p.Acquire(ctx, "employer")
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "seeker")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, p.Opened())
	assert.Equal(t, []string{sharedActor}, *opened)

	require.NoError(t, p.ReleaseAll())
	require.NoError(t, p.ReleaseAll())
	assert.True(t, a.Closed())
	assert.Zero(t, m.OpenPages())
}

func TestIndependentProvisioner_OneSessionPerActor(t *testing.T) {
	m := testutil.NewMarketplace(testBase)
	open, opened := marketOpener(m)
	p, err := NewProvisioner(StrategyIndependent, open)
	require.NoError(t, err)

	ctx := context.Background()
	emp, err := p.Acquire(ctx, "employer")
	require.NoError(t, err)
	seeker, err := p.Acquire(ctx, "seeker")
	require.NoError(t, err)
	again, err := p.Acquire(ctx, "employer")
	require.NoError(t, err)

	assert.NotSame(t, emp, seeker)
	assert.Same(t, emp, again)
	assert.Equal(t, 2, p.Opened())
	assert.Equal(t, []string{"employer", "seeker"}, *opened)
	assert.Equal(t, 2, m.OpenPages())

	require.NoError(t, p.ReleaseAll())
	assert.Zero(t, m.OpenPages())
}

func TestProvisioner_OpenError(t *testing.T) {
	boom := errors.New("browser gone")
	p, err := NewProvisioner(StrategyIndependent, func(ctx context.Context, actor string) (*session.Session, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "employer")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, p.Opened())
	assert.NoError(t, p.ReleaseAll())
}

func TestNewProvisioner_UnknownStrategy(t *testing.T) {
	_, err := NewProvisioner("round-robin", nil)
	assert.ErrorContains(t, err, "unknown strategy")
}
