package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
)

type stubRepo struct {
	users    map[uuid.UUID]User
	replaced []uuid.UUID
	calls    int
}

func (s *stubRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubRepo) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) ReplaceRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	s.calls++
	s.replaced = roleIDs
	return nil
}

type stubRoles []rbac.Role

func (s stubRoles) ListRoles(ctx context.Context) ([]rbac.Role, error) { return s, nil }

type recorder struct {
	entries []shared.AuditLog
	purges  int
}

func (r *recorder) Record(ctx context.Context, log shared.AuditLog) error {
	r.entries = append(r.entries, log)
	return nil
}

func (r *recorder) Invalidate(ctx context.Context) error {
	r.purges++
	return nil
}

func newTestService() (*Service, *stubRepo, *recorder, User) {
	u := User{ID: uuid.New(), Email: "bar@venue.test", RoleIDs: []uuid.UUID{uuid.New()}}
	repo := &stubRepo{users: map[uuid.UUID]User{u.ID: u}}
	rec := &recorder{}
	return NewService(repo, stubRoles{{ID: uuid.New(), Name: "staff"}}, rec, rec, nil), repo, rec, u
}

func TestAssignRolesDedupesAuditsAndInvalidates(t *testing.T) {
	svc, repo, rec, u := newTestService()
	role := uuid.New()

	require.NoError(t, svc.AssignRoles(context.Background(), uuid.New(), u.ID, []uuid.UUID{role, role}))
	assert.Equal(t, []uuid.UUID{role}, repo.replaced)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "users.roles.update", rec.entries[0].Action)
	assert.Equal(t, u.ID.String(), rec.entries[0].EntityID)
	assert.Equal(t, 1, rec.purges)
}

func TestAssignRolesBlocksSelfLockout(t *testing.T) {
	svc, repo, rec, u := newTestService()

	err := svc.AssignRoles(context.Background(), u.ID, u.ID, nil)
	require.ErrorIs(t, err, ErrSelfLockout)
	assert.Zero(t, repo.calls)
	assert.Zero(t, rec.purges)

	// Another admin may clear the roles.
	require.NoError(t, svc.AssignRoles(context.Background(), uuid.New(), u.ID, nil))
	assert.Empty(t, repo.replaced)
}

func TestAssignRolesUnknownUser(t *testing.T) {
	svc, repo, _, _ := newTestService()
	err := svc.AssignRoles(context.Background(), uuid.New(), uuid.New(), []uuid.UUID{uuid.New()})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, repo.calls)
}

func TestListUsersIncludesRoles(t *testing.T) {
	svc, _, _, u := newTestService()
	dir, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, dir.Users, 1)
	assert.Equal(t, u.Email, dir.Users[0].Email)
	require.Len(t, dir.Roles, 1)
	assert.True(t, dir.Users[0].HasRole(u.RoleIDs[0]))
	assert.False(t, dir.Users[0].HasRole(dir.Roles[0].ID))
}

type grants rbac.PermissionMap

func (g grants) Resolve(ctx context.Context, userID uuid.UUID) (rbac.PermissionMap, error) {
	return rbac.PermissionMap(g), nil
}

func TestAssignRolesEndpoint(t *testing.T) {
	svc, repo, _, u := newTestService()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)

	route := func(perms ...rbac.Grant) http.Handler {
		mw := rbac.Middleware{Service: grants(rbac.NewPermissionMap(perms))}
		r := chi.NewRouter()
		r.Route("/users", NewHandler(nil, svc, nil, shared.NewCSRFManager("secret"), mw).MountRoutes)
		return r
	}
	post := func(h http.Handler, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/users/"+u.ID.String()+"/roles", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		sess, err := sessions.Load(context.Background(), req)
		require.NoError(t, err)
		sess.SetUser(uuid.NewString())
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		return rr
	}

	viewer := route(rbac.Grant{Module: shared.ModuleUsers, Action: shared.ActionView})
	rr := post(viewer, url.Values{"role_ids": {uuid.NewString()}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Zero(t, repo.calls)

	manager := route(rbac.Grant{Module: shared.ModuleUsers, Action: shared.ActionManage})
	rr = post(manager, url.Values{"role_ids": {"not-a-uuid"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	role := uuid.New()
	rr = post(manager, url.Values{"role_ids": {role.String()}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/users", rr.Header().Get("Location"))
	assert.Equal(t, []uuid.UUID{role}, repo.replaced)
}
