package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/audit"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/internal/view"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type grants rbac.PermissionMap

func (g grants) Resolve(ctx context.Context, userID uuid.UUID) (rbac.PermissionMap, error) {
	return rbac.PermissionMap(g), nil
}

func newActivityRouter(t *testing.T, service *stubTimelineService, perms ...rbac.Grant) http.Handler {
	t.Helper()
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	mw := rbac.Middleware{Service: grants(rbac.NewPermissionMap(perms))}
	handler := NewHandler(nil, service, templates, shared.NewCSRFManager("secret"), mw)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/activity", handler.MountRoutes)
	return r
}

func signedIn(req *http.Request) *http.Request {
	sess := &shared.Session{}
	sess.SetUser(uuid.NewString())
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

var manageUsers = rbac.Grant{Module: shared.ModuleUsers, Action: shared.ActionManage}

func TestTimelineRequiresPermission(t *testing.T) {
	service := &stubTimelineService{}
	router := newActivityRouter(t, service, rbac.Grant{Module: shared.ModuleUsers, Action: shared.ActionView})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedIn(httptest.NewRequest(http.MethodGet, "/activity/", nil)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestTimelineRendersRows(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), Actor: "manager@venue.test", Action: "receipts.rule.update", Entity: "receipt_rule", EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := newActivityRouter(t, service, manageUsers)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedIn(httptest.NewRequest(http.MethodGet, "/activity/?from=2024-03-01&to=2024-03-15&entity=receipt_rule", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "manager@venue.test") {
		t.Fatalf("expected actor in response: %s", body)
	}
	if service.lastFilters.From.Format("2006-01-02") != "2024-03-01" || service.lastFilters.Entity != "receipt_rule" {
		t.Fatalf("unexpected filters: %+v", service.lastFilters)
	}
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	service := &stubTimelineService{}
	router := newActivityRouter(t, service, manageUsers)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedIn(httptest.NewRequest(http.MethodGet, "/activity/", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := service.lastFilters.From.Format("2006-01-02"); got != "2024-03-08" {
		t.Fatalf("expected default from 2024-03-08, got %s", got)
	}
}

func TestTimelineRejectsBadRange(t *testing.T) {
	router := newActivityRouter(t, &stubTimelineService{}, manageUsers)
	for _, query := range []string{"from=2024-03-10&to=2024-03-01", "from=2023-01-01&to=2024-03-01", "to=yesterday", "page=0"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, signedIn(httptest.NewRequest(http.MethodGet, "/activity/?"+query, nil)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{Actor: "manager@venue.test"}}}
	router := newActivityRouter(t, service, rbac.Grant{Module: shared.ModuleRoles, Action: shared.ActionManage})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedIn(httptest.NewRequest(http.MethodGet, "/activity/export.csv?from=2024-03-01&to=2024-03-05", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), "manager@venue.test") {
		t.Fatalf("expected row in csv: %s", rr.Body.String())
	}
}
