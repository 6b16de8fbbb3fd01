package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/venuedesk/venuedesk/internal/audit/http"
	"github.com/venuedesk/venuedesk/internal/auth"
	"github.com/venuedesk/venuedesk/internal/dashboard"
	"github.com/venuedesk/venuedesk/internal/observability"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/receipts"
	"github.com/venuedesk/venuedesk/internal/roles"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/internal/shortlinks"
	"github.com/venuedesk/venuedesk/internal/users"
	"github.com/venuedesk/venuedesk/internal/view"
	"github.com/venuedesk/venuedesk/jobs"
	"github.com/venuedesk/venuedesk/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Permissions    rbac.Resolver
	Metrics        *observability.Metrics

	AuthHandler       *auth.Handler
	DashboardHandler  *dashboard.Handler
	ReceiptsHandler   *receipts.Handler
	ShortLinksHandler *shortlinks.Handler
	RolesHandler      *roles.Handler
	UsersHandler      *users.Handler
	ActivityHandler   *audithttp.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with venuedesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Permissions:    params.Permissions,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		var csrfToken string
		var flash *shared.FlashMessage
		if sess != nil {
			csrfToken, _ = params.CSRFManager.EnsureToken(r.Context(), sess)
			flash = sess.PopFlash()
		}
		data := view.TemplateData{
			Title:       "VenueDesk",
			CSRFToken:   csrfToken,
			Flash:       flash,
			CurrentPath: r.URL.Path,
		}
		if err := params.Templates.Render(w, "pages/landing.html", data); err != nil {
			params.Logger.Error("render landing", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Short links resolve for anonymous visitors.
	if params.ShortLinksHandler != nil {
		r.Route("/l", params.ShortLinksHandler.MountPublic)
	}

	if params.DashboardHandler != nil {
		params.DashboardHandler.MountRoutes(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireLogin)
		if params.ReceiptsHandler != nil {
			r.Route("/receipts", params.ReceiptsHandler.MountRoutes)
		}
		if params.ShortLinksHandler != nil {
			r.Route("/short-links", params.ShortLinksHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.ActivityHandler != nil {
			r.Route("/activity", params.ActivityHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler lets browsers keep embedded assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
