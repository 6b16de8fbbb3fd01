package receipts

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/platform/httpx"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/internal/view"
)

const maxStatementBytes = 10 << 20

// Handler serves the receipts workspace and rule management pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	backfill  Backfiller
}

// NewHandler constructs the receipts HTTP handler. backfill may be nil, in
// which case "apply to history" runs one chunk inline.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware, backfill Backfiller) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW, backfill: backfill}
}

// MountRoutes registers receipts routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReceiptsView, shared.PermReceiptsEdit, shared.PermReceiptsManage))
		r.Get("/", h.showWorkspace)
		r.Get("/rules", h.listRules)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReceiptsEdit, shared.PermReceiptsManage))
		r.Post("/import", h.importStatement)
		r.Post("/groups/classify", h.classifyGroup)
		r.Post("/transactions/{id}", h.updateTransaction)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReceiptsManage))
		r.Get("/rules/new", h.newRule)
		r.Post("/rules", h.createRule)
		r.Get("/rules/{id}/edit", h.editRule)
		r.Post("/rules/{id}", h.updateRule)
		r.Post("/rules/{id}/toggle", h.toggleRule)
		r.Post("/rules/{id}/delete", h.deleteRule)
		r.Post("/rules/{id}/apply", h.applyRule)
		r.With(httprate.LimitByIP(30, time.Minute)).Post("/rules/{id}/retro", h.retroChunk)
	})
}

type workspacePageData struct {
	Groups       []Group
	Transactions []Transaction
	Pagination   shared.Pagination
	Statuses     []Status
	Filter       ListFilter
	Direction    Direction
	Errors       map[string]string
}

func (h *Handler) page(r *http.Request, title string, data any) view.TemplateData {
	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	var flash *shared.FlashMessage
	if sess != nil {
		csrfToken, _ = h.csrf.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	return view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Permissions: rbac.PermissionsFromContext(r.Context()),
		Data:        data,
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	if err := h.templates.RenderStatus(w, status, name, h.page(r, title, data)); err != nil {
		h.logger.Error("render receipts page", slog.String("template", name), slog.Any("error", err))
	}
}

func flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}

func actor(r *http.Request) uuid.UUID {
	return shared.ActorFromContext(r.Context())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRuleNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrRuleInactive):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("receipts request", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) showWorkspace(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	direction := Direction(q.Get("direction"))
	groups, err := h.service.GroupPending(r.Context(), PendingFilter{Direction: direction, Search: q.Get("q"), Limit: 50})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := ListFilter{Status: Status(q.Get("status")), Search: q.Get("q"), Page: shared.PageFromQuery(q), PerPage: 50}
	txs, pagination, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/receipts.html", "Receipts", workspacePageData{
		Groups:       groups,
		Transactions: txs,
		Pagination:   pagination,
		Statuses:     Statuses(),
		Filter:       filter,
		Direction:    direction,
	})
}

func (h *Handler) importStatement(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStatementBytes)
	if err := r.ParseMultipartForm(maxStatementBytes); err != nil {
		flash(r, "danger", "Upload a CSV statement under 10 MB")
		http.Redirect(w, r, "/receipts", http.StatusSeeOther)
		return
	}
	file, header, err := r.FormFile("statement")
	if err != nil {
		flash(r, "danger", "Choose a statement file to upload")
		http.Redirect(w, r, "/receipts", http.StatusSeeOther)
		return
	}
	defer file.Close()

	result, err := h.service.ImportStatement(r.Context(), actor(r), header.Filename, file)
	switch {
	case errors.Is(err, ErrDuplicateStatement):
		flash(r, "warning", "This statement has already been imported")
	case errors.Is(err, ErrEmptyStatement):
		flash(r, "warning", "The statement contains no transactions")
	case errors.Is(err, ErrInvalidInput):
		flash(r, "danger", err.Error())
	case err != nil:
		h.fail(w, r, err)
		return
	default:
		flash(r, "success", fmt.Sprintf("Imported %d transactions (%d duplicates skipped, %d auto-classified)",
			result.Inserted, result.Skipped, result.AutoClassified))
	}
	http.Redirect(w, r, "/receipts", http.StatusSeeOther)
}

func parseAmountField(form url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(form.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.NewReplacer("£", "", ",", "").Replace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidInput, name)
	}
	return &v, nil
}

func (h *Handler) classifyGroup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	input := ClassifyInput{
		GroupKey:        r.PostFormValue("group_key"),
		VendorName:      r.PostFormValue("vendor_name"),
		ExpenseCategory: r.PostFormValue("expense_category"),
		Status:          Status(r.PostFormValue("status")),
		FromSuggestion:  r.PostFormValue("from_suggestion") == "1",
		CreateRule:      r.PostFormValue("create_rule") == "1",
	}
	for _, raw := range r.PostForm["transaction_ids"] {
		if id, err := uuid.Parse(raw); err == nil {
			input.TransactionIDs = append(input.TransactionIDs, id)
		}
	}
	if input.CreateRule {
		minAmount, err := parseAmountField(r.PostForm, "rule_min_amount")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		maxAmount, err := parseAmountField(r.PostForm, "rule_max_amount")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		input.Rule = RuleInput{
			Name:             r.PostFormValue("rule_name"),
			MatchDescription: r.PostFormValue("rule_keywords"),
			MatchDirection:   Direction(r.PostFormValue("rule_direction")),
			MatchMinAmount:   minAmount,
			MatchMaxAmount:   maxAmount,
		}
	}

	result, err := h.service.ClassifyGroup(r.Context(), actor(r), input)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		flash(r, "danger", verr.Error())
	case err != nil:
		h.fail(w, r, err)
		return
	default:
		msg := fmt.Sprintf("Classified %d transactions", result.Updated)
		if result.Rule != nil {
			msg += fmt.Sprintf(" and saved rule %q", result.Rule.Name)
		}
		flash(r, "success", msg)
	}
	http.Redirect(w, r, "/receipts", http.StatusSeeOther)
}

func optionalField(form url.Values, name string) *string {
	if _, ok := form[name]; !ok {
		return nil
	}
	v := form.Get(name)
	return &v
}

func (h *Handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	patch := TransactionPatch{
		VendorName:      optionalField(r.PostForm, "vendor_name"),
		ExpenseCategory: optionalField(r.PostForm, "expense_category"),
		Notes:           optionalField(r.PostForm, "notes"),
	}
	if raw := r.PostFormValue("status"); raw != "" {
		status := Status(raw)
		patch.Status = &status
	}
	if _, err := h.service.UpdateTransaction(r.Context(), actor(r), id, patch); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			flash(r, "danger", verr.Error())
			http.Redirect(w, r, "/receipts", http.StatusSeeOther)
			return
		}
		h.fail(w, r, err)
		return
	}
	flash(r, "success", "Transaction updated")
	http.Redirect(w, r, "/receipts", http.StatusSeeOther)
}

type rulesPageData struct {
	Rules []Rule
}

type ruleFormPageData struct {
	RuleID     uuid.UUID
	Form       RuleInput
	Errors     map[string]string
	Statuses   []Status
	Directions []Direction
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/receipt_rules.html", "Receipt rules", rulesPageData{Rules: rules})
}

func (h *Handler) renderRuleForm(w http.ResponseWriter, r *http.Request, status int, id uuid.UUID, form RuleInput, errs map[string]string) {
	title := "New rule"
	if id != uuid.Nil {
		title = "Edit rule"
	}
	h.render(w, r, status, "pages/receipt_rule_form.html", title, ruleFormPageData{
		RuleID:     id,
		Form:       form,
		Errors:     errs,
		Statuses:   []Status{StatusAutoCompleted, StatusCompleted, StatusNoReceiptRequired, StatusCantFind},
		Directions: []Direction{DirectionBoth, DirectionIn, DirectionOut},
	})
}

func (h *Handler) newRule(w http.ResponseWriter, r *http.Request) {
	h.renderRuleForm(w, r, http.StatusOK, uuid.Nil, RuleInput{MatchDirection: DirectionBoth, IsActive: true}, nil)
}

func ruleInputFromForm(r *http.Request) (RuleInput, map[string]string) {
	errs := make(map[string]string)
	minAmount, err := parseAmountField(r.PostForm, "match_min_amount")
	if err != nil {
		errs["MatchMinAmount"] = "must be a number"
	}
	maxAmount, err := parseAmountField(r.PostForm, "match_max_amount")
	if err != nil {
		errs["MatchMaxAmount"] = "must be a number"
	}
	return RuleInput{
		Name:                 r.PostFormValue("name"),
		Description:          r.PostFormValue("description"),
		MatchDescription:     r.PostFormValue("match_description"),
		MatchTransactionType: r.PostFormValue("match_transaction_type"),
		MatchDirection:       Direction(r.PostFormValue("match_direction")),
		MatchMinAmount:       minAmount,
		MatchMaxAmount:       maxAmount,
		AutoStatus:           Status(r.PostFormValue("auto_status")),
		SetVendorName:        r.PostFormValue("set_vendor_name"),
		SetExpenseCategory:   r.PostFormValue("set_expense_category"),
		IsActive:             r.PostFormValue("is_active") == "1",
	}, errs
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	input, errs := ruleInputFromForm(r)
	if len(errs) > 0 {
		h.renderRuleForm(w, r, http.StatusBadRequest, id, input, errs)
		return
	}
	var err error
	if id == uuid.Nil {
		_, err = h.service.CreateRule(r.Context(), actor(r), input)
	} else {
		_, err = h.service.UpdateRule(r.Context(), actor(r), id, input)
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		h.renderRuleForm(w, r, http.StatusBadRequest, id, input, verr.Fields)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flash(r, "success", "Rule saved")
	http.Redirect(w, r, "/receipts/rules", http.StatusSeeOther)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	h.saveRule(w, r, uuid.Nil)
}

func ruleID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *Handler) editRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	rule, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderRuleForm(w, r, http.StatusOK, id, InputFromRule(rule), nil)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	h.saveRule(w, r, id)
}

func (h *Handler) toggleRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	active := r.PostFormValue("active") == "1"
	if err := h.service.ToggleRule(r.Context(), actor(r), id, active); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/receipts/rules", http.StatusSeeOther)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err := h.service.DeleteRule(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	flash(r, "success", "Rule deleted")
	http.Redirect(w, r, "/receipts/rules", http.StatusSeeOther)
}

func (h *Handler) applyRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	scope := Scope(r.PostFormValue("scope"))
	if scope != ScopeAll {
		scope = ScopePending
	}
	if h.backfill != nil {
		rule, err := h.service.GetRule(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !rule.IsActive {
			h.fail(w, r, ErrRuleInactive)
			return
		}
		if err := h.backfill.EnqueueBackfill(r.Context(), id, scope); err != nil {
			h.fail(w, r, err)
			return
		}
		flash(r, "success", "Rule queued for historical transactions")
		http.Redirect(w, r, "/receipts/rules", http.StatusSeeOther)
		return
	}
	result, err := h.service.RunRetroactive(r.Context(), actor(r), RetroRequest{RuleID: id, Scope: scope})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := fmt.Sprintf("Scanned %d, matched %d, updated %d", result.Scanned, result.Matched, result.Updated)
	if !result.Done {
		msg += "; more transactions remain, apply again to continue"
	}
	flash(r, "success", msg)
	http.Redirect(w, r, "/receipts/rules", http.StatusSeeOther)
}

type retroRequestBody struct {
	Scope  Scope  `json:"scope"`
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

type retroResponse struct {
	Scanned    int    `json:"scanned"`
	Matched    int    `json:"matched"`
	Updated    int    `json:"updated"`
	NextCursor string `json:"nextCursor,omitempty"`
	Done       bool   `json:"done"`
}

func (h *Handler) retroChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown rule")
		return
	}
	var body retroRequestBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	cursor, err := ParseCursor(body.Cursor)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.RunRetroactive(r.Context(), actor(r), RetroRequest{RuleID: id, Scope: body.Scope, Cursor: cursor, Limit: body.Limit})
	switch {
	case errors.Is(err, ErrRuleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	case errors.Is(err, ErrRuleInactive):
		httpx.Problem(w, http.StatusConflict, "Rule Inactive", err.Error())
		return
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	case err != nil:
		h.logger.Error("receipts retro chunk", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := retroResponse{Scanned: result.Scanned, Matched: result.Matched, Updated: result.Updated, Done: result.Done}
	if result.NextCursor != nil {
		resp.NextCursor = result.NextCursor.String()
	}
	httpx.JSON(w, http.StatusOK, resp)
}
