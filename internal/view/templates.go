package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Permissions rbac.PermissionMap
	Data        any
}

// Can reports whether the viewer holds the dotted module.action permission.
func (d TemplateData) Can(perm string) bool {
	module, action, ok := strings.Cut(perm, ".")
	if !ok {
		return d.Permissions.CanView(perm)
	}
	return d.Permissions.Has(module, action)
}

var printer = message.NewPrinter(language.BritishEnglish)

// Money formats an amount as pounds with thousands separators.
func Money(amount float64) string {
	if amount < 0 {
		return printer.Sprintf("-£%.2f", -amount)
	}
	return printer.Sprintf("£%.2f", amount)
}

// Number formats an integer with thousands separators.
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("Mon 02 Jan")
		},
		"isoDate": func(t time.Time) string { return t.Format("2006-01-02") },
		"money": Money,
		"amountInput": func(v *float64) string {
			if v == nil {
				return ""
			}
			return fmt.Sprintf("%.2f", *v)
		},
		"add": func(a, b int) int { return a + b },
		"number": func(v any) string {
			switch n := v.(type) {
			case int:
				return Number(int64(n))
			case int64:
				return Number(n)
			case int32:
				return Number(int64(n))
			default:
				return fmt.Sprint(v)
			}
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus renders into a buffer first so a template failure can still
// produce a clean 500.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
