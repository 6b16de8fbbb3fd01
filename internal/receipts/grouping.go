package receipts

import (
	"sort"
	"strings"
	"unicode"
)

// NormalizeDetails folds statement details into a grouping key: lower case,
// digits removed, whitespace collapsed.
func NormalizeDetails(details string) string {
	var b strings.Builder
	b.Grow(len(details))
	space := false
	for _, r := range strings.ToLower(details) {
		switch {
		case unicode.IsDigit(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// groupTransactions buckets transactions by normalised details, largest
// groups first and ties broken by key.
func groupTransactions(txs []Transaction) []Group {
	index := make(map[string]int)
	groups := make([]Group, 0)
	for _, tx := range txs {
		key := NormalizeDetails(tx.Details)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{
				Key:       key,
				Details:   strings.TrimSpace(tx.Details),
				FirstDate: tx.TransactionDate,
				LastDate:  tx.TransactionDate,
			})
		}
		g := &groups[i]
		g.Count++
		g.TotalIn += tx.AmountIn
		g.TotalOut += tx.AmountOut
		g.TransactionIDs = append(g.TransactionIDs, tx.ID)
		if tx.TransactionDate.Before(g.FirstDate) {
			g.FirstDate = tx.TransactionDate
		}
		if tx.TransactionDate.After(g.LastDate) {
			g.LastDate = tx.TransactionDate
		}
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Count != groups[b].Count {
			return groups[a].Count > groups[b].Count
		}
		return groups[a].Key < groups[b].Key
	})
	return groups
}
