package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/venuedesk/venuedesk/internal/platform/httpx"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/internal/view"
)

// SnapshotService is the subset of Service used by the HTTP layer.
type SnapshotService interface {
	Snapshot(ctx context.Context, sessionUser string) (Snapshot, error)
	Invalidate(ctx context.Context) error
}

// Handler renders the dashboard as HTML or JSON.
type Handler struct {
	logger    *slog.Logger
	service   SnapshotService
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs the dashboard HTTP handler.
func NewHandler(logger *slog.Logger, service SnapshotService, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers dashboard routes at the router root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showDashboard)
	r.Get("/dashboard.json", h.snapshotJSON)
	r.Post("/dashboard/refresh", h.refresh)
}

func sessionUser(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.User()
	}
	return ""
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), sessionUser(r))
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		h.logger.Error("dashboard snapshot", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	var flash *shared.FlashMessage
	if sess != nil {
		csrfToken, _ = h.csrf.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	data := view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Permissions: rbac.PermissionsFromContext(r.Context()),
		Data:        snap,
	}
	if err := h.templates.Render(w, "pages/dashboard.html", data); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
	}
}

func (h *Handler) snapshotJSON(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), sessionUser(r))
	if err != nil {
		if !errors.Is(err, ErrNotAuthenticated) {
			h.logger.Error("dashboard snapshot", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if sessionUser(r) == "" {
		httpx.RespondError(w, ErrNotAuthenticated)
		return
	}
	if err := h.service.Invalidate(r.Context()); err != nil {
		h.logger.Error("dashboard refresh", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Dashboard refreshed"})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
