package receipts

import (
	"context"
	"sort"
)

// Suggester proposes classifications for grouping keys.
type Suggester interface {
	Suggest(ctx context.Context, keys []string) (map[string]Suggestion, error)
}

// HistoryLoader returns previously classified transactions.
type HistoryLoader interface {
	ClassificationHistory(ctx context.Context, limit int) ([]Transaction, error)
}

const defaultHistoryLimit = 5000

// HistorySuggester suggests the vendor and category most often given to
// transactions with the same normalised details.
type HistorySuggester struct {
	history HistoryLoader
	limit   int
}

// NewHistorySuggester builds a suggester over the classification history.
func NewHistorySuggester(history HistoryLoader) *HistorySuggester {
	return &HistorySuggester{history: history, limit: defaultHistoryLimit}
}

type tally map[string]int

func (t tally) top() (string, int) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if t[k] > bestN {
			best, bestN = k, t[k]
		}
	}
	return best, bestN
}

// Suggest returns a suggestion for each key that has history.
func (s *HistorySuggester) Suggest(ctx context.Context, keys []string) (map[string]Suggestion, error) {
	out := make(map[string]Suggestion)
	if len(keys) == 0 {
		return out, nil
	}
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	history, err := s.history.ClassificationHistory(ctx, s.limit)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		vendors    tally
		categories tally
		statuses   tally
		samples    int
	}
	buckets := make(map[string]*bucket)
	for _, tx := range history {
		key := NormalizeDetails(tx.Details)
		if _, ok := wanted[key]; !ok {
			continue
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{vendors: tally{}, categories: tally{}, statuses: tally{}}
			buckets[key] = b
		}
		b.samples++
		if tx.VendorName != "" {
			b.vendors[tx.VendorName]++
		}
		if tx.ExpenseCategory != "" {
			b.categories[tx.ExpenseCategory]++
		}
		b.statuses[string(tx.Status)]++
	}

	for key, b := range buckets {
		vendor, vendorN := b.vendors.top()
		category, categoryN := b.categories.top()
		if vendor == "" && category == "" {
			continue
		}
		status, _ := b.statuses.top()
		if Status(status) == StatusAutoCompleted {
			status = string(StatusCompleted)
		}
		agree := vendorN
		if categoryN > agree {
			agree = categoryN
		}
		out[key] = Suggestion{
			VendorName:      vendor,
			ExpenseCategory: category,
			Status:          Status(status),
			Confidence:      float64(agree) / float64(b.samples),
			Samples:         b.samples,
		}
	}
	return out, nil
}
