package roles

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
)

type stubDirectory struct {
	role    rbac.Role
	perms   []rbac.Permission
	granted map[uuid.UUID]bool
	setErr  error
	set     []uuid.UUID
}

func (s *stubDirectory) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return []rbac.Role{s.role}, nil
}

func (s *stubDirectory) GetRole(ctx context.Context, id uuid.UUID) (rbac.Role, error) {
	if id != s.role.ID {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return s.role, nil
}

func (s *stubDirectory) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return s.perms, nil
}

func (s *stubDirectory) RolePermissionSet(ctx context.Context, roleID uuid.UUID) (map[uuid.UUID]bool, error) {
	return s.granted, nil
}

func (s *stubDirectory) SetRolePermissions(ctx context.Context, roleID uuid.UUID, ids []uuid.UUID) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.set = ids
	return nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls++
	return nil
}

func perm(module, action string) rbac.Permission {
	return rbac.Permission{ID: uuid.New(), Module: module, Action: action}
}

func TestMatrixOrdersModulesAndActions(t *testing.T) {
	receiptsView := perm(shared.ModuleReceipts, shared.ActionView)
	receiptsManage := perm(shared.ModuleReceipts, shared.ActionManage)
	eventsView := perm(shared.ModuleEvents, shared.ActionView)
	custom := perm("zz_reports", shared.ActionExport)
	unknownAction := perm(shared.ModuleEvents, "teleport")

	dir := &stubDirectory{
		role:    rbac.Role{ID: uuid.New(), Name: "Manager"},
		perms:   []rbac.Permission{receiptsManage, custom, receiptsView, eventsView, unknownAction},
		granted: map[uuid.UUID]bool{receiptsView.ID: true},
	}
	m, err := NewService(dir, nil, nil, nil).Matrix(context.Background(), dir.role.ID)
	require.NoError(t, err)

	require.Equal(t, shared.RecognizedActions(), m.Actions)
	require.Len(t, m.Rows, 3)
	assert.Equal(t, shared.ModuleEvents, m.Rows[0].Module)
	assert.Equal(t, shared.ModuleReceipts, m.Rows[1].Module)
	assert.Equal(t, "zz_reports", m.Rows[2].Module)

	viewIdx := indexOf(m.Actions, shared.ActionView)
	manageIdx := indexOf(m.Actions, shared.ActionManage)
	assert.Equal(t, Cell{PermissionID: receiptsView.ID, Granted: true, Exists: true}, m.Rows[1].Cells[viewIdx])
	assert.Equal(t, Cell{PermissionID: receiptsManage.ID, Exists: true}, m.Rows[1].Cells[manageIdx])
	assert.False(t, m.Rows[0].Cells[manageIdx].Exists)
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestMatrixUnknownRole(t *testing.T) {
	dir := &stubDirectory{role: rbac.Role{ID: uuid.New()}}
	_, err := NewService(dir, nil, nil, nil).Matrix(context.Background(), uuid.New())
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestUpdatePermissionsInvalidatesDashboard(t *testing.T) {
	dir := &stubDirectory{role: rbac.Role{ID: uuid.New()}}
	inv := &countingInvalidator{}
	svc := NewService(dir, inv, nil, nil)
	ids := []uuid.UUID{uuid.New()}

	require.NoError(t, svc.UpdatePermissions(context.Background(), uuid.New(), dir.role.ID, ids))
	assert.Equal(t, ids, dir.set)
	assert.Equal(t, 1, inv.calls)

	dir.setErr = rbac.ErrSystemRole
	assert.ErrorIs(t, svc.UpdatePermissions(context.Background(), uuid.New(), dir.role.ID, ids), rbac.ErrSystemRole)
	assert.Equal(t, 1, inv.calls)
}
