package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// RuleInput is the editable part of a Rule.
type RuleInput struct {
	Name                 string    `validate:"required,max=120"`
	Description          string    `validate:"max=500"`
	MatchDescription     string    `validate:"max=500"`
	MatchTransactionType string    `validate:"max=60"`
	MatchDirection       Direction `validate:"required,oneof=in out both"`
	MatchMinAmount       *float64  `validate:"omitempty,gte=0"`
	MatchMaxAmount       *float64  `validate:"omitempty,gte=0"`
	AutoStatus           Status    `validate:"omitempty,oneof=completed auto_completed no_receipt_required cant_find"`
	SetVendorName        string    `validate:"max=120"`
	SetExpenseCategory   string    `validate:"max=120"`
	IsActive             bool
}

// InputFromRule returns the editable fields of r.
func InputFromRule(r Rule) RuleInput {
	return RuleInput{
		Name:                 r.Name,
		Description:          r.Description,
		MatchDescription:     r.MatchDescription,
		MatchTransactionType: r.MatchTransactionType,
		MatchDirection:       r.MatchDirection,
		MatchMinAmount:       r.MatchMinAmount,
		MatchMaxAmount:       r.MatchMaxAmount,
		AutoStatus:           r.AutoStatus,
		SetVendorName:        r.SetVendorName,
		SetExpenseCategory:   r.SetExpenseCategory,
		IsActive:             r.IsActive,
	}
}

func (in RuleInput) toRule() Rule {
	return Rule{
		Name:                 strings.TrimSpace(in.Name),
		Description:          strings.TrimSpace(in.Description),
		MatchDescription:     strings.Join(Rule{MatchDescription: in.MatchDescription}.Keywords(), ","),
		MatchTransactionType: strings.TrimSpace(in.MatchTransactionType),
		MatchDirection:       in.MatchDirection,
		MatchMinAmount:       in.MatchMinAmount,
		MatchMaxAmount:       in.MatchMaxAmount,
		AutoStatus:           in.AutoStatus,
		SetVendorName:        strings.TrimSpace(in.SetVendorName),
		SetExpenseCategory:   strings.TrimSpace(in.SetExpenseCategory),
		IsActive:             in.IsActive,
	}
}

func (s *Service) validateRule(in RuleInput) *ValidationError {
	verr := s.check(in)
	if verr == nil {
		verr = &ValidationError{Fields: map[string]string{}}
	}
	if in.MatchMinAmount != nil && in.MatchMaxAmount != nil && *in.MatchMinAmount > *in.MatchMaxAmount {
		verr.Fields["MatchMaxAmount"] = "must be at least the minimum amount"
	}
	r := Rule{MatchDescription: in.MatchDescription}
	if len(r.Keywords()) == 0 && strings.TrimSpace(in.MatchTransactionType) == "" && in.MatchMinAmount == nil && in.MatchMaxAmount == nil {
		verr.Fields["MatchDescription"] = "add a keyword, transaction type or amount range"
	}
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

// ListRules returns every rule in creation order.
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("receipts: list rules: %w", err)
	}
	return rules, nil
}

// GetRule fetches one rule.
func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (Rule, error) {
	return s.repo.GetRule(ctx, id)
}

// CreateRule validates and stores a new rule. Active rules are backfilled
// over pending transactions when a Backfiller is configured.
func (s *Service) CreateRule(ctx context.Context, actor uuid.UUID, in RuleInput) (Rule, error) {
	if verr := s.validateRule(in); verr != nil {
		return Rule{}, verr
	}
	rule, err := s.repo.CreateRule(ctx, in.toRule())
	if err != nil {
		return Rule{}, fmt.Errorf("receipts: create rule: %w", err)
	}
	s.record(ctx, actor, "receipts.rule.create", "receipt_rule", rule.ID.String(), map[string]any{"name": rule.Name})
	s.enqueueBackfill(ctx, rule)
	return rule, nil
}

// UpdateRule replaces the editable fields of a rule.
func (s *Service) UpdateRule(ctx context.Context, actor uuid.UUID, id uuid.UUID, in RuleInput) (Rule, error) {
	if verr := s.validateRule(in); verr != nil {
		return Rule{}, verr
	}
	existing, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	rule := in.toRule()
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()
	saved, err := s.repo.UpdateRule(ctx, rule)
	if err != nil {
		return Rule{}, fmt.Errorf("receipts: update rule: %w", err)
	}
	s.record(ctx, actor, "receipts.rule.update", "receipt_rule", id.String(), map[string]any{"name": saved.Name})
	s.enqueueBackfill(ctx, saved)
	return saved, nil
}

// ToggleRule activates or deactivates a rule.
func (s *Service) ToggleRule(ctx context.Context, actor uuid.UUID, id uuid.UUID, active bool) error {
	if err := s.repo.SetRuleActive(ctx, id, active); err != nil {
		return err
	}
	s.record(ctx, actor, "receipts.rule.toggle", "receipt_rule", id.String(), map[string]any{"active": active})
	return nil
}

// DeleteRule removes a rule. Transactions keep their classification.
func (s *Service) DeleteRule(ctx context.Context, actor uuid.UUID, id uuid.UUID) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "receipts.rule.delete", "receipt_rule", id.String(), nil)
	return nil
}

func (s *Service) enqueueBackfill(ctx context.Context, rule Rule) {
	if s.backfill == nil || !rule.IsActive {
		return
	}
	if err := s.backfill.EnqueueBackfill(ctx, rule.ID, ScopePending); err != nil {
		s.logger.Warn("receipts enqueue backfill", slog.String("rule_id", rule.ID.String()), slog.Any("error", err))
	}
}

// RunRetroactive applies a rule to one keyset chunk of historical
// transactions. Callers loop on NextCursor until Done.
func (s *Service) RunRetroactive(ctx context.Context, actor uuid.UUID, req RetroRequest) (RetroResult, error) {
	rule, err := s.repo.GetRule(ctx, req.RuleID)
	if err != nil {
		return RetroResult{}, err
	}
	if !rule.IsActive {
		return RetroResult{}, ErrRuleInactive
	}
	scope := req.Scope
	switch scope {
	case "":
		scope = ScopePending
	case ScopePending, ScopeAll:
	default:
		return RetroResult{}, fmt.Errorf("%w: scope %q", ErrInvalidInput, scope)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.chunk
	}
	if limit > MaxRetroChunk {
		limit = MaxRetroChunk
	}

	txs, err := s.repo.ScanForRetro(ctx, scope, req.Cursor, limit)
	if err != nil {
		return RetroResult{}, fmt.Errorf("receipts: scan transactions: %w", err)
	}

	result := RetroResult{Scanned: len(txs), Done: len(txs) < limit, NextCursor: req.Cursor}
	changed := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if !rule.Matches(tx) {
			continue
		}
		result.Matched++
		applied, diff := rule.Apply(tx)
		if diff {
			applied.UpdatedAt = s.now()
			changed = append(changed, applied)
		}
	}
	if len(txs) > 0 {
		last := txs[len(txs)-1]
		result.NextCursor = &Cursor{Date: last.TransactionDate, ID: last.ID}
	}
	if len(changed) > 0 {
		if err := s.repo.SaveRuleApplications(ctx, changed); err != nil {
			return RetroResult{}, fmt.Errorf("receipts: save rule applications: %w", err)
		}
		result.Updated = len(changed)
		s.invalidate(ctx)
	}
	s.record(ctx, actor, "receipts.rule.retro", "receipt_rule", rule.ID.String(), map[string]any{
		"scope": string(scope), "scanned": result.Scanned, "matched": result.Matched, "updated": result.Updated,
	})
	return result, nil
}

// IsRetroFatal reports whether a retroactive run error should stop retries.
func IsRetroFatal(err error) bool {
	return errors.Is(err, ErrRuleInactive) || errors.Is(err, ErrRuleNotFound) || errors.Is(err, ErrInvalidInput)
}
