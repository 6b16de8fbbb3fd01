package shortlinks

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/internal/view"
)

// Handler serves the public redirect and the link admin pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW}
}

// MountPublic registers the unauthenticated redirect route.
func (h *Handler) MountPublic(r chi.Router) {
	r.Get("/{code}", h.redirect)
}

// MountRoutes registers link management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermShortLinksView, shared.PermShortLinksCreate, shared.PermShortLinksManage))
		r.Get("/", h.list)
		r.With(httprate.LimitByIP(60, time.Minute)).Get("/{code}/qr.png", h.qr)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermShortLinksCreate, shared.PermShortLinksManage))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermShortLinksManage))
		r.Post("/{code}/delete", h.delete)
	})
}

type linkRow struct {
	Link
	URL string
}

type listPageData struct {
	Links      []linkRow
	Pagination shared.Pagination
	Form       CreateInput
	Errors     FormErrors
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	dest, err := h.service.Resolve(r.Context(), chi.URLParam(r, "code"), r.Referer(), r.UserAgent())
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("resolve short link", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, dest, http.StatusFound)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, http.StatusOK, CreateInput{}, nil)
}

func (h *Handler) renderList(w http.ResponseWriter, r *http.Request, status int, form CreateInput, errs FormErrors) {
	links, pagination, err := h.service.List(r.Context(), shared.PageFromQuery(r.URL.Query()), 25)
	if err != nil {
		h.logger.Error("list short links", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	rows := make([]linkRow, len(links))
	for i, l := range links {
		rows[i] = linkRow{Link: l, URL: h.service.URL(l)}
	}

	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	var flash *shared.FlashMessage
	if sess != nil {
		csrfToken, _ = h.csrf.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	data := view.TemplateData{
		Title:       "Short links",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Permissions: rbac.PermissionsFromContext(r.Context()),
		Data:        listPageData{Links: rows, Pagination: pagination, Form: form, Errors: errs},
	}
	if err := h.templates.RenderStatus(w, status, "pages/short_links.html", data); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := CreateInput{Destination: r.PostFormValue("destination"), Name: r.PostFormValue("name")}
	link, err := h.service.Create(r.Context(), actor(r), form.Destination, form.Name)
	var verr *ValidationError
	if errors.As(err, &verr) {
		h.renderList(w, r, http.StatusBadRequest, form, verr.Fields)
		return
	}
	if err != nil {
		h.logger.Error("create short link", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.redirectWithFlash(w, r, "/short-links", "success", "Short link created: "+h.service.URL(link))
}

func (h *Handler) qr(w http.ResponseWriter, r *http.Request) {
	png, err := h.service.QR(r.Context(), chi.URLParam(r, "code"))
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("short link qr", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(png)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), actor(r), chi.URLParam(r, "code"))
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("delete short link", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.redirectWithFlash(w, r, "/short-links", "success", "Short link deleted")
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func actor(r *http.Request) uuid.UUID {
	return shared.ActorFromContext(r.Context())
}
