package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
)

// Directory is the part of rbac.Service the roles pages need.
type Directory interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	RolePermissionSet(ctx context.Context, roleID uuid.UUID) (map[uuid.UUID]bool, error)
	SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
}

// Invalidator drops cached snapshots built from old permissions.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles role business logic.
type Service struct {
	dir    Directory
	inval  Invalidator
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(dir Directory, inval Invalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dir: dir, inval: inval, audit: audit, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.dir.ListRoles(ctx)
}

// Matrix returns the permission grid for a role.
func (s *Service) Matrix(ctx context.Context, roleID uuid.UUID) (Matrix, error) {
	role, err := s.dir.GetRole(ctx, roleID)
	if err != nil {
		return Matrix{}, err
	}
	perms, err := s.dir.ListPermissions(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("roles: list permissions: %w", err)
	}
	granted, err := s.dir.RolePermissionSet(ctx, roleID)
	if err != nil {
		return Matrix{}, fmt.Errorf("roles: role permissions: %w", err)
	}
	return buildMatrix(role, perms, granted), nil
}

// UpdatePermissions replaces a role's grants and drops cached dashboards.
func (s *Service) UpdatePermissions(ctx context.Context, actor, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if err := s.dir.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	if s.audit != nil {
		entry := shared.AuditLog{
			ActorID:  actor,
			Action:   "roles.permissions.update",
			Entity:   "role",
			EntityID: roleID.String(),
			Meta:     map[string]any{"permission_count": len(permissionIDs)},
			At:       time.Now(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("roles audit", slog.Any("error", err))
		}
	}
	if s.inval != nil {
		if err := s.inval.Invalidate(ctx); err != nil {
			s.logger.Warn("roles invalidate dashboard", slog.Any("error", err))
		}
	}
	return nil
}
