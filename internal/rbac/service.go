package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrSystemRole is returned when editing a built-in role.
var ErrSystemRole = errors.New("rbac: system roles cannot be edited")

// Service orchestrates RBAC operations.
type Service struct {
	store Store
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve loads the user's permissions into a PermissionMap. The map is
// rebuilt from the store on every call.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID) (PermissionMap, error) {
	grants, err := s.store.UserGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionMap(grants), nil
}

// EffectivePermissions returns deduplicated module.action names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	perms, err := s.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return perms.Strings(), nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// ListPermissions returns every known permission.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// RolePermissionSet returns the role's permission IDs as a set.
func (s *Service) RolePermissionSet(ctx context.Context, roleID uuid.UUID) (map[uuid.UUID]bool, error) {
	ids, err := s.store.RolePermissionIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// SetRolePermissions replaces permissions for a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	seen := make(map[uuid.UUID]struct{}, len(permissionIDs))
	unique := make([]uuid.UUID, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return s.store.ReplaceRolePermissions(ctx, roleID, unique)
}
