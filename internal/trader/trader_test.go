package trader_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/amirphl/trading-simulator/internal/db"
	"github.com/amirphl/trading-simulator/internal/trader"
)

func newRegistry() *trader.Registry {
	return trader.NewRegistry(db.NewMemory(), bcrypt.MinCost)
}

func TestPasswordHashIsSaltedAndVerifiable(t *testing.T) {
	a, err := trader.HashPassword("secret1", bcrypt.MinCost)
	require.NoError(t, err)
	b, err := trader.HashPassword("secret1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "secret1")
	assert.True(t, trader.CheckPassword(a, "secret1"))
	assert.False(t, trader.CheckPassword(a, "secret2"))
}

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	p, err := r.Signup(ctx, "  ama ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ama", p.Name)
	assert.True(t, strings.HasPrefix(p.ID, "trd_"))

	_, err = r.Signup(ctx, "ama", "another1")
	assert.ErrorIs(t, err, trader.ErrNameTaken)
	_, err = r.Signup(ctx, "kofi", "123")
	assert.ErrorIs(t, err, trader.ErrWeakPassword)
	_, err = r.Signup(ctx, " ", "hunter22")
	assert.ErrorIs(t, err, trader.ErrInvalidName)

	got, err := r.Login(ctx, "ama", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = r.Login(ctx, "ama", "wrong-pass")
	assert.ErrorIs(t, err, trader.ErrInvalidCredentials)
	_, err = r.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, trader.ErrInvalidCredentials)
}

func TestTeamsShareLeaderLedger(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	leader, err := r.Signup(ctx, "leader", "password")
	require.NoError(t, err)
	member, err := r.Signup(ctx, "member", "password")
	require.NoError(t, err)
	solo, err := r.Signup(ctx, "solo", "password")
	require.NoError(t, err)

	team, err := r.CreateTeam(ctx, leader.ID, "Bulls")
	require.NoError(t, err)
	assert.Equal(t, []string{leader.ID}, team.Members)
	assert.Len(t, team.InviteCode, 8)

	_, err = r.JoinTeam(ctx, member.ID, "BADCODE")
	assert.ErrorIs(t, err, trader.ErrInvalidInvite)

	joined, err := r.JoinTeam(ctx, member.ID, strings.ToLower(team.InviteCode))
	require.NoError(t, err)
	assert.Equal(t, []string{leader.ID, member.ID}, joined.Members)

	_, err = r.JoinTeam(ctx, member.ID, team.InviteCode)
	assert.ErrorIs(t, err, trader.ErrAlreadyInTeam)
	_, err = r.CreateTeam(ctx, leader.ID, "Bears")
	assert.ErrorIs(t, err, trader.ErrAlreadyInTeam)

	for id, want := range map[string]string{leader.ID: leader.ID, member.ID: leader.ID, solo.ID: solo.ID} {
		key, err := r.LedgerKey(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, key)
	}

	_, err = r.LedgerKey(ctx, "trd_missing")
	assert.ErrorIs(t, err, trader.ErrNotFound)

	teams, err := r.Teams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)
}

func TestSessionTokens(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	p, err := r.Signup(ctx, "ama", "hunter22")
	require.NoError(t, err)

	tok, err := r.IssueToken(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, tok, 64)
	assert.NotContains(t, tok, p.ID)

	got, err := r.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	other, err := r.IssueToken(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	for _, bad := range []string{"", p.ID, "deadbeef"} {
		_, err = r.Authenticate(ctx, bad)
		assert.ErrorIs(t, err, trader.ErrInvalidToken, bad)
	}

	_, err = r.IssueToken(ctx, "trd_missing")
	assert.ErrorIs(t, err, trader.ErrNotFound)
}
