package users

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	ReplaceRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error
}

// RoleLister supplies the roles offered in the assignment form.
type RoleLister interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
}

// Invalidator drops cached dashboards after a user's grants change.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	roles  RoleLister
	inval  Invalidator
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleLister, inval Invalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, inval: inval, audit: audit, logger: logger}
}

// Directory is the data behind the users page.
type Directory struct {
	Users []User
	Roles []rbac.Role
}

// ListUsers returns all users together with the assignable roles.
func (s *Service) ListUsers(ctx context.Context) (Directory, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return Directory{}, err
	}
	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return Directory{}, err
	}
	return Directory{Users: users, Roles: roles}, nil
}

// AssignRoles replaces the user's roles.
func (s *Service) AssignRoles(ctx context.Context, actor, userID uuid.UUID, roleIDs []uuid.UUID) error {
	roleIDs = uniqueIDs(roleIDs)
	if actor == userID && len(roleIDs) == 0 {
		return ErrSelfLockout
	}
	before, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceRoles(ctx, userID, roleIDs); err != nil {
		return err
	}
	if s.audit != nil {
		entry := shared.AuditLog{
			ActorID:  actor,
			Action:   "users.roles.update",
			Entity:   "user",
			EntityID: userID.String(),
			Meta:     map[string]any{"before": len(before.RoleIDs), "after": len(roleIDs)},
			At:       time.Now(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("users audit", slog.Any("error", err))
		}
	}
	if s.inval != nil {
		if err := s.inval.Invalidate(ctx); err != nil {
			s.logger.Warn("users invalidate dashboard", slog.Any("error", err))
		}
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
