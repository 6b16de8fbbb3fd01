package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/shared"
)

// Resolver loads a user's permission map.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (PermissionMap, error)
}

type permissionsContextKey struct{}

// ContextWithPermissions stores the resolved map for downstream handlers.
func ContextWithPermissions(ctx context.Context, perms PermissionMap) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, perms)
}

// PermissionsFromContext returns the map stored by the middleware, if any.
func PermissionsFromContext(ctx context.Context) PermissionMap {
	perms, _ := ctx.Value(permissionsContextKey{}).(PermissionMap)
	return perms
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service Resolver
	Logger  *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", perms, func(granted PermissionMap, required []string) bool {
		for _, p := range required {
			if hasPermission(granted, p) {
				return true
			}
		}
		return false
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", perms, func(granted PermissionMap, required []string) bool {
		for _, p := range required {
			if !hasPermission(granted, p) {
				return false
			}
		}
		return true
	})
}

func (m Middleware) require(label string, perms []string, allowed func(PermissionMap, []string) bool) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.SessionFromContext(r.Context()).UserID()
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted := PermissionsFromContext(r.Context())
			if granted == nil {
				resolved, err := m.Service.Resolve(r.Context(), userID)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error(label, slog.Any("error", err))
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				granted = resolved
			}
			if !allowed(granted, normalized) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPermissions(r.Context(), granted)))
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasPermission(granted PermissionMap, perm string) bool {
	module, action, ok := strings.Cut(perm, ".")
	if !ok {
		return false
	}
	return granted.Has(module, action)
}
