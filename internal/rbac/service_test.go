package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	grants   []Grant
	roles    map[uuid.UUID]Role
	replaced map[uuid.UUID][]uuid.UUID
}

func (m *memStore) UserGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error) {
	return m.grants, nil
}

func (m *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	return nil, nil
}

func (m *memStore) RolePermissionIDs(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	return m.replaced[roleID], nil
}

func (m *memStore) ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, ids []uuid.UUID) error {
	if m.replaced == nil {
		m.replaced = make(map[uuid.UUID][]uuid.UUID)
	}
	m.replaced[roleID] = ids
	return nil
}

func TestEffectivePermissionsFlattens(t *testing.T) {
	svc := NewService(&memStore{grants: []Grant{
		{Module: "events", Action: "view"},
		{Module: "events", Action: "view"},
		{Module: "invoices", Action: "export"},
	}})
	perms, err := svc.EffectivePermissions(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"events.view", "invoices.export"}, perms)
}

func TestSetRolePermissionsDeduplicates(t *testing.T) {
	roleID := uuid.New()
	store := &memStore{roles: map[uuid.UUID]Role{roleID: {ID: roleID, Name: "manager"}}}
	svc := NewService(store)

	p1, p2 := uuid.New(), uuid.New()
	require.NoError(t, svc.SetRolePermissions(context.Background(), roleID, []uuid.UUID{p1, p2, p1, uuid.Nil}))
	assert.Equal(t, []uuid.UUID{p1, p2}, store.replaced[roleID])

	set, err := svc.RolePermissionSet(context.Background(), roleID)
	require.NoError(t, err)
	assert.True(t, set[p1])
	assert.True(t, set[p2])
}

func TestSetRolePermissionsRejectsSystemRole(t *testing.T) {
	roleID := uuid.New()
	store := &memStore{roles: map[uuid.UUID]Role{roleID: {ID: roleID, Name: "super_admin", IsSystem: true}}}
	svc := NewService(store)

	err := svc.SetRolePermissions(context.Background(), roleID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, ErrSystemRole)
	assert.Empty(t, store.replaced)
}
