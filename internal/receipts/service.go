package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/shared"
)

// Invalidator drops cached views that depend on receipt data.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Backfiller schedules a retroactive rule run in the background.
type Backfiller interface {
	EnqueueBackfill(ctx context.Context, ruleID uuid.UUID, scope Scope) error
}

// KeyStore guards against importing the same statement twice.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options carries the optional collaborators of Service.
type Options struct {
	Suggester   Suggester
	Invalidator Invalidator
	Backfiller  Backfiller
	Audit       AuditRecorder
	Keys        KeyStore
	ChunkSize   int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service implements the receipts classification workspace.
type Service struct {
	repo      Repository
	suggester Suggester
	inval     Invalidator
	backfill  Backfiller
	audit     AuditRecorder
	keys      KeyStore
	chunk     int
	logger    *slog.Logger
	now       func() time.Time
	validate  *validator.Validate
}

// NewService wires the receipts service.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:      repo,
		suggester: opts.Suggester,
		inval:     opts.Invalidator,
		backfill:  opts.Backfiller,
		audit:     opts.Audit,
		keys:      opts.Keys,
		chunk:     opts.ChunkSize,
		logger:    opts.Logger,
		now:       opts.Now,
		validate:  validator.New(),
	}
	if s.chunk <= 0 {
		s.chunk = DefaultRetroChunk
	}
	if s.chunk > MaxRetroChunk {
		s.chunk = MaxRetroChunk
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ValidationError lists per-field problems with user input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "receipts: invalid input: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func (s *Service) check(v any) *ValidationError {
	fields := make(map[string]string)
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fieldMessage(fe)
			}
		} else {
			fields["general"] = err.Error()
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "is too long"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must not be negative"
	default:
		return "is invalid"
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.inval == nil {
		return
	}
	if err := s.inval.Invalidate(ctx); err != nil {
		s.logger.Warn("receipts invalidate dashboard", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("receipts audit", slog.String("action", action), slog.Any("error", err))
	}
}

// PendingFilter narrows the grouping workspace.
type PendingFilter struct {
	Direction Direction
	Search    string
	Limit     int
}

// GroupPending groups pending transactions by normalised details and
// attaches a suggestion to each group where history allows.
func (s *Service) GroupPending(ctx context.Context, filter PendingFilter) ([]Group, error) {
	txs, err := s.repo.ListPending(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("receipts: list pending: %w", err)
	}
	groups := groupTransactions(txs)
	if filter.Limit > 0 && len(groups) > filter.Limit {
		groups = groups[:filter.Limit]
	}
	if s.suggester == nil || len(groups) == 0 {
		return groups, nil
	}
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.Key
	}
	suggestions, err := s.suggester.Suggest(ctx, keys)
	if err != nil {
		s.logger.Warn("receipts suggestions", slog.Any("error", err))
		return groups, nil
	}
	for i := range groups {
		if sg, ok := suggestions[groups[i].Key]; ok {
			groups[i].Suggestion = &sg
		}
	}
	return groups, nil
}

// ListFilter selects a page of transactions.
type ListFilter struct {
	Status  Status
	Search  string
	Page    int
	PerPage int
}

// ListTransactions returns one page of transactions with pagination metadata.
func (s *Service) ListTransactions(ctx context.Context, filter ListFilter) ([]Transaction, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: status %q", ErrInvalidInput, filter.Status)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	txs, total, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("receipts: list transactions: %w", err)
	}
	return txs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ClassifyInput classifies a whole group by hand or from its suggestion.
type ClassifyInput struct {
	GroupKey        string
	TransactionIDs  []uuid.UUID
	VendorName      string `validate:"max=120"`
	ExpenseCategory string `validate:"max=120"`
	Status          Status `validate:"required,oneof=completed auto_completed no_receipt_required cant_find"`
	FromSuggestion  bool
	CreateRule      bool
	Rule            RuleInput `validate:"-"`
}

// ManualClassification is written to every transaction of a classified group.
type ManualClassification struct {
	Status          Status
	VendorName      string
	ExpenseCategory string
	Source          Source
}

// ClassifyResult reports a group classification.
type ClassifyResult struct {
	Updated int
	Rule    *Rule
}

// ClassifyGroup applies one classification to every transaction in a group
// and optionally saves a rule for future lines.
func (s *Service) ClassifyGroup(ctx context.Context, actor uuid.UUID, input ClassifyInput) (ClassifyResult, error) {
	if verr := s.check(input); verr != nil {
		return ClassifyResult{}, verr
	}
	if input.VendorName == "" && input.ExpenseCategory == "" && input.Status == StatusCompleted {
		return ClassifyResult{}, &ValidationError{Fields: map[string]string{"VendorName": "vendor or category is required"}}
	}

	ids := uniqueIDs(input.TransactionIDs)
	if len(ids) == 0 && strings.TrimSpace(input.GroupKey) != "" {
		pending, err := s.repo.ListPending(ctx, PendingFilter{})
		if err != nil {
			return ClassifyResult{}, fmt.Errorf("receipts: list pending: %w", err)
		}
		key := NormalizeDetails(input.GroupKey)
		for _, tx := range pending {
			if NormalizeDetails(tx.Details) == key {
				ids = append(ids, tx.ID)
			}
		}
	}
	if len(ids) == 0 {
		return ClassifyResult{}, &ValidationError{Fields: map[string]string{"TransactionIDs": "no transactions selected"}}
	}

	var rule *Rule
	if input.CreateRule {
		ruleInput := input.Rule
		if strings.TrimSpace(ruleInput.MatchDescription) == "" {
			ruleInput.MatchDescription = NormalizeDetails(input.GroupKey)
		}
		if ruleInput.Name == "" {
			ruleInput.Name = strings.TrimSpace(input.GroupKey)
		}
		if ruleInput.MatchDirection == "" {
			ruleInput.MatchDirection = DirectionBoth
		}
		if ruleInput.SetVendorName == "" {
			ruleInput.SetVendorName = input.VendorName
		}
		if ruleInput.SetExpenseCategory == "" {
			ruleInput.SetExpenseCategory = input.ExpenseCategory
		}
		if ruleInput.AutoStatus == "" {
			ruleInput.AutoStatus = input.Status
			if ruleInput.AutoStatus == StatusCompleted {
				ruleInput.AutoStatus = StatusAutoCompleted
			}
		}
		ruleInput.IsActive = true
		if verr := s.validateRule(ruleInput); verr != nil {
			return ClassifyResult{}, verr
		}
		rule = new(Rule)
		*rule = ruleInput.toRule()
	}

	source := SourceManual
	if input.FromSuggestion {
		source = SourceSuggestion
	}
	updated, err := s.repo.ApplyManual(ctx, ids, ManualClassification{
		Status:          input.Status,
		VendorName:      strings.TrimSpace(input.VendorName),
		ExpenseCategory: strings.TrimSpace(input.ExpenseCategory),
		Source:          source,
	})
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("receipts: classify group: %w", err)
	}

	if rule != nil {
		created, err := s.repo.CreateRule(ctx, *rule)
		if err != nil {
			return ClassifyResult{Updated: updated}, fmt.Errorf("receipts: create rule: %w", err)
		}
		rule = &created
		s.record(ctx, actor, "receipts.rule.create", "receipt_rule", created.ID.String(), map[string]any{"name": created.Name, "from_group": input.GroupKey})
		if s.backfill != nil {
			if err := s.backfill.EnqueueBackfill(ctx, created.ID, ScopePending); err != nil {
				s.logger.Warn("receipts enqueue backfill", slog.String("rule_id", created.ID.String()), slog.Any("error", err))
			}
		}
	}

	s.record(ctx, actor, "receipts.group.classify", "receipt_group", input.GroupKey, map[string]any{
		"updated":  updated,
		"status":   string(input.Status),
		"vendor":   input.VendorName,
		"category": input.ExpenseCategory,
		"source":   string(source),
	})
	s.invalidate(ctx)
	return ClassifyResult{Updated: updated, Rule: rule}, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// TransactionPatch changes a single transaction; nil fields are untouched.
type TransactionPatch struct {
	Status          *Status
	VendorName      *string
	ExpenseCategory *string
	Notes           *string
}

// UpdateTransaction classifies one transaction by hand. Touched vendor and
// category fields become manual and are protected from rules afterwards.
func (s *Service) UpdateTransaction(ctx context.Context, actor uuid.UUID, id uuid.UUID, patch TransactionPatch) (Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return Transaction{}, &ValidationError{Fields: map[string]string{"Status": "is invalid"}}
		}
		tx.Status = *patch.Status
	}
	if patch.VendorName != nil {
		v := strings.TrimSpace(*patch.VendorName)
		if len(v) > 120 {
			return Transaction{}, &ValidationError{Fields: map[string]string{"VendorName": "is too long"}}
		}
		tx.VendorName = v
		tx.VendorSource = SourceManual
	}
	if patch.ExpenseCategory != nil {
		c := strings.TrimSpace(*patch.ExpenseCategory)
		if len(c) > 120 {
			return Transaction{}, &ValidationError{Fields: map[string]string{"ExpenseCategory": "is too long"}}
		}
		tx.ExpenseCategory = c
		tx.CategorySource = SourceManual
	}
	if patch.Notes != nil {
		tx.Notes = strings.TrimSpace(*patch.Notes)
	}
	tx.UpdatedAt = s.now()
	if err := s.repo.SaveClassification(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("receipts: update transaction: %w", err)
	}
	s.record(ctx, actor, "receipts.transaction.update", "receipt_transaction", id.String(), map[string]any{
		"status": string(tx.Status), "vendor": tx.VendorName, "category": tx.ExpenseCategory,
	})
	s.invalidate(ctx)
	return tx, nil
}
