package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgelock/escrow/pkg/contracts"
)

func defaultGrants(deployer contracts.Principal) []Grant {
	return []Grant{
		{Role: MinterAdminRole, Principal: deployer, AdminRole: MinterAdminRole},
		{Role: MinterRole, Principal: deployer, AdminRole: MinterAdminRole},
		{Role: OperatorRole, Principal: deployer, AdminRole: OperatorRole},
	}
}

func initializedRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(NewMemoryStore(), nil, nil)
	require.NoError(t, r.Initialize(context.Background(), defaultGrants("deployer")))
	return r
}

func TestInitializeGrantsRoles(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	for _, role := range []Role{MinterRole, MinterAdminRole, OperatorRole} {
		held, err := r.HasRole(ctx, role, "deployer")
		require.NoError(t, err)
		assert.True(t, held, "deployer must hold %s", role)
	}

	admin, err := r.GetRoleAdmin(ctx, MinterRole)
	require.NoError(t, err)
	assert.Equal(t, MinterAdminRole, admin)
}

func TestInitializeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	err := r.Initialize(ctx, defaultGrants("attacker"))
	require.ErrorIs(t, err, contracts.ErrAlreadyInitialized)

	// The rejected call must not have granted anything.
	held, err := r.HasRole(ctx, MinterRole, "attacker")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestInitializeRejectsUndeclaredAdmin(t *testing.T) {
	r := NewRegistry(NewMemoryStore(), nil, nil)
	err := r.Initialize(context.Background(), []Grant{
		{Role: MinterRole, Principal: "deployer", AdminRole: MinterAdminRole},
	})
	require.ErrorIs(t, err, contracts.ErrInvalidParameters)
}

func TestGrantRequiresAdminRole(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	err := r.GrantRole(ctx, "mallory", MinterRole, "mallory")
	require.ErrorIs(t, err, contracts.ErrUnauthorized)

	held, _ := r.HasRole(ctx, MinterRole, "mallory")
	assert.False(t, held)
}

func TestGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	require.NoError(t, r.GrantRole(ctx, "deployer", MinterRole, "minter-1"))
	held, _ := r.HasRole(ctx, MinterRole, "minter-1")
	assert.True(t, held)

	// Revocation takes effect for the very next check.
	require.NoError(t, r.RevokeRole(ctx, "deployer", MinterRole, "minter-1"))
	held, _ = r.HasRole(ctx, MinterRole, "minter-1")
	assert.False(t, held)
}

func TestGrantIdempotent(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	require.NoError(t, r.GrantRole(ctx, "deployer", MinterRole, "minter-1"))
	require.NoError(t, r.GrantRole(ctx, "deployer", MinterRole, "minter-1"))
	require.NoError(t, r.RevokeRole(ctx, "deployer", MinterRole, "absent"))
}

func TestHoldingRoleDoesNotConferAdmin(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	require.NoError(t, r.GrantRole(ctx, "deployer", MinterRole, "minter-1"))

	// minter-1 holds MINTER_ROLE but not its admin role.
	err := r.GrantRole(ctx, "minter-1", MinterRole, "minter-2")
	require.ErrorIs(t, err, contracts.ErrUnauthorized)
}

func TestGrantUndeclaredRole(t *testing.T) {
	ctx := context.Background()
	r := initializedRegistry(t)

	err := r.GrantRole(ctx, "deployer", RoleTag("PAUSER_ROLE"), "someone")
	require.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestRoleTagMatchesKeccak(t *testing.T) {
	// keccak256("MINTER_ROLE"), the well-known tag from the token contracts.
	assert.Equal(t,
		"9f2df0fed2c77648de5860a4cc508cd0818c85b8b8a1ab4ceeef8d981c8956a6",
		MinterRole.String())
}

func TestParseRole(t *testing.T) {
	parsed, err := ParseRole(OperatorRole.String())
	require.NoError(t, err)
	assert.Equal(t, OperatorRole, parsed)

	_, err = ParseRole("zz")
	require.ErrorIs(t, err, contracts.ErrInvalidParameters)
}
