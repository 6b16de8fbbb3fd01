package receipts

import (
	"strings"
)

// Keywords splits MatchDescription into lower-cased, trimmed terms.
func (r Rule) Keywords() []string {
	parts := strings.Split(r.MatchDescription, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether the rule applies to tx. An inactive rule never
// matches; a rule without keywords matches any description.
func (r Rule) Matches(tx Transaction) bool {
	if !r.IsActive {
		return false
	}

	var amount float64
	switch r.MatchDirection {
	case DirectionIn:
		if tx.AmountIn <= 0 {
			return false
		}
		amount = tx.AmountIn
	case DirectionOut:
		if tx.AmountOut <= 0 {
			return false
		}
		amount = tx.AmountOut
	default:
		amount = tx.Amount()
	}

	if want := strings.TrimSpace(r.MatchTransactionType); want != "" {
		if !strings.EqualFold(want, strings.TrimSpace(tx.TransactionType)) {
			return false
		}
	}

	if keywords := r.Keywords(); len(keywords) > 0 {
		details := strings.ToLower(tx.Details)
		found := false
		for _, kw := range keywords {
			if strings.Contains(details, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.MatchMinAmount != nil && amount < *r.MatchMinAmount {
		return false
	}
	if r.MatchMaxAmount != nil && amount > *r.MatchMaxAmount {
		return false
	}
	return true
}

// Apply classifies tx with the rule's outcome and reports whether anything
// changed. Vendor and category set by hand are left alone.
func (r Rule) Apply(tx Transaction) (Transaction, bool) {
	before := tx

	status := r.AutoStatus
	if status == "" {
		status = StatusAutoCompleted
	}
	tx.Status = status

	if r.SetVendorName != "" && tx.VendorSource != SourceManual {
		tx.VendorName = r.SetVendorName
		tx.VendorSource = SourceRule
	}
	if r.SetExpenseCategory != "" && tx.CategorySource != SourceManual {
		tx.ExpenseCategory = r.SetExpenseCategory
		tx.CategorySource = SourceRule
	}
	id := r.ID
	tx.RuleAppliedID = &id

	changed := before.Status != tx.Status ||
		before.VendorName != tx.VendorName ||
		before.VendorSource != tx.VendorSource ||
		before.ExpenseCategory != tx.ExpenseCategory ||
		before.CategorySource != tx.CategorySource ||
		before.RuleAppliedID == nil || *before.RuleAppliedID != r.ID
	return tx, changed
}

// FirstMatch returns the first rule in order that matches tx.
func FirstMatch(rules []Rule, tx Transaction) (Rule, bool) {
	for _, rule := range rules {
		if rule.Matches(tx) {
			return rule, true
		}
	}
	return Rule{}, false
}
