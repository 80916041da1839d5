package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galehq/gale/pkg/acl"
	"github.com/galehq/gale/pkg/auth"
)

func newTestSeeder(t *testing.T) (*Seeder, *acl.MemoryStore) {
	t.Helper()
	store := acl.NewMemoryStore()
	return NewSeeder(store, auth.NewVault(4), "fleet-password", nil), store
}

func TestSeedRoles(t *testing.T) {
	seeder, store := newTestSeeder(t)
	ctx := context.Background()

	require.NoError(t, seeder.SeedRoles(ctx))

	for _, name := range []string{RoleWindTurbine, RoleFrontNode, RoleStatNode} {
		role, err := store.FindRole(ctx, name)
		require.NoError(t, err, "role %s", name)
		assert.Len(t, role.Rules, 3, "role %s", name)

		// Every stock role ends with the explicit deny-all rule.
		last := role.Rules[len(role.Rules)-1]
		assert.Equal(t, acl.PermissionDeny, last.Permission)
		assert.Equal(t, acl.ActionAll, last.Action)
		assert.Equal(t, "#", last.TopicTemplate)
	}
}

func TestSeedRolesOverwritesExisting(t *testing.T) {
	seeder, store := newTestSeeder(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRole(ctx, RoleWindTurbine, []acl.Rule{
		{Permission: acl.PermissionAllow, Action: acl.ActionAll, TopicTemplate: "#"},
	}))

	require.NoError(t, seeder.SeedRoles(ctx))

	role, err := store.FindRole(ctx, RoleWindTurbine)
	require.NoError(t, err)
	assert.Len(t, role.Rules, 3)
}

func TestSeedUsers(t *testing.T) {
	seeder, store := newTestSeeder(t)
	ctx := context.Background()

	farms := []Farm{
		{FarmID: 1, Turbines: []int64{1, 2, 3}},
		{FarmID: 2, Turbines: []int64{1, 2}},
	}

	result, err := seeder.SeedUsers(ctx, farms)
	require.NoError(t, err)

	// 5 turbines plus the two service users.
	assert.Len(t, result.Created, 7)
	assert.Empty(t, result.Skipped)

	user, err := store.FindUser(ctx, "WF-1-T-3")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleWindTurbine}, user.Roles)
	require.Len(t, user.Resources, 1)
	assert.Equal(t, "turbine", user.Resources[0].Kind)
	require.NotNil(t, user.Resources[0].FarmID)
	assert.Equal(t, int64(1), *user.Resources[0].FarmID)
	require.NotNil(t, user.Resources[0].TurbineID)
	assert.Equal(t, int64(3), *user.Resources[0].TurbineID)

	front, err := store.FindUser(ctx, FrontNodeUsername)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleFrontNode}, front.Roles)

	stat, err := store.FindUser(ctx, StatNodeUsername)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleStatNode}, stat.Roles)
}

func TestSeedUsersSkipsExisting(t *testing.T) {
	seeder, _ := newTestSeeder(t)
	ctx := context.Background()

	farms := []Farm{{FarmID: 1, Turbines: []int64{1, 2}}}

	first, err := seeder.SeedUsers(ctx, farms)
	require.NoError(t, err)
	assert.Len(t, first.Created, 4)

	// A second run is idempotent: everything already exists.
	second, err := seeder.SeedUsers(ctx, farms)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Skipped, 4)
}

func TestSeededCredentialsAuthenticate(t *testing.T) {
	store := acl.NewMemoryStore()
	vault := auth.NewVault(4)
	seeder := NewSeeder(store, vault, "fleet-password", nil)
	ctx := context.Background()

	_, err := seeder.SeedUsers(ctx, []Farm{{FarmID: 1, Turbines: []int64{1}}})
	require.NoError(t, err)

	authenticator := auth.NewAuthenticator(store, vault, nil, nil)
	assert.True(t, authenticator.Authenticate(ctx, "WF-1-T-1", "fleet-password"))
	assert.False(t, authenticator.Authenticate(ctx, "WF-1-T-1", "wrong"))
}

func TestTurbineUsername(t *testing.T) {
	assert.Equal(t, "WF-1-T-1", TurbineUsername(1, 1))
	assert.Equal(t, "WF-12-T-304", TurbineUsername(12, 304))
}

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout([]byte(`
farms:
  - farm_id: 1
    turbines: [1, 2, 3]
  - farm_id: 2
    turbines: [1]
`))
	require.NoError(t, err)
	require.Len(t, layout.Farms, 2)
	assert.Equal(t, int64(1), layout.Farms[0].FarmID)
	assert.Equal(t, []int64{1, 2, 3}, layout.Farms[0].Turbines)
}

func TestParseLayoutRejectsBadInput(t *testing.T) {
	_, err := ParseLayout([]byte(`farms: [{farm_id: 0, turbines: [1]}]`))
	assert.Error(t, err)

	_, err = ParseLayout([]byte(`farms: [{farm_id: 1, turbines: [1]}, {farm_id: 1, turbines: [2]}]`))
	assert.Error(t, err)

	_, err = ParseLayout([]byte(`farms: [{farm_id: 1, turbines: [0]}]`))
	assert.Error(t, err)

	_, err = ParseLayout([]byte(`{not yaml`))
	assert.Error(t, err)
}
