package receipts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/shared"
)

type memRepo struct {
	mu      sync.Mutex
	txs     map[uuid.UUID]Transaction
	rules   map[uuid.UUID]Rule
	order   []uuid.UUID
	batches []Batch
	hashes  map[string]struct{}
	saved   int
	scans   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		txs:    make(map[uuid.UUID]Transaction),
		rules:  make(map[uuid.UUID]Rule),
		hashes: make(map[string]struct{}),
	}
}

func (m *memRepo) addTx(tx Transaction) Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	m.txs[tx.ID] = tx
	if tx.DedupeHash != "" {
		m.hashes[tx.DedupeHash] = struct{}{}
	}
	return tx
}

func (m *memRepo) sorted() []Transaction {
	out := make([]Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].TransactionDate.Equal(out[b].TransactionDate) {
			return out[a].TransactionDate.Before(out[b].TransactionDate)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	return out
}

func (m *memRepo) ClassificationHistory(ctx context.Context, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, tx := range m.sorted() {
		if tx.Status != StatusPending && (tx.VendorName != "" || tx.ExpenseCategory != "") {
			out = append(out, tx)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListPending(ctx context.Context, filter PendingFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, tx := range m.sorted() {
		if tx.Status != StatusPending {
			continue
		}
		if filter.Direction == DirectionIn && tx.AmountIn <= 0 {
			continue
		}
		if filter.Direction == DirectionOut && tx.AmountOut <= 0 {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *memRepo) ListTransactions(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Transaction
	for _, tx := range m.sorted() {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		all = append(all, tx)
	}
	start := (filter.Page - 1) * filter.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *memRepo) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (m *memRepo) SaveClassification(ctx context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; !ok {
		return ErrNotFound
	}
	m.txs[tx.ID] = tx
	return nil
}

func (m *memRepo) ApplyManual(ctx context.Context, ids []uuid.UUID, c ManualClassification) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		tx, ok := m.txs[id]
		if !ok {
			continue
		}
		tx.Status = c.Status
		if c.VendorName != "" {
			tx.VendorName = c.VendorName
			tx.VendorSource = c.Source
		}
		if c.ExpenseCategory != "" {
			tx.ExpenseCategory = c.ExpenseCategory
			tx.CategorySource = c.Source
		}
		m.txs[id] = tx
		n++
	}
	return n, nil
}

func (m *memRepo) ListRules(ctx context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rules[id])
	}
	return out, nil
}

func (m *memRepo) ActiveRules(ctx context.Context) ([]Rule, error) {
	rules, _ := m.ListRules(ctx)
	var out []Rule
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) GetRule(ctx context.Context, id uuid.UUID) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return Rule{}, ErrRuleNotFound
	}
	return r, nil
}

func (m *memRepo) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = uuid.New()
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules[rule.ID] = rule
	m.order = append(m.order, rule.ID)
	return rule, nil
}

func (m *memRepo) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return Rule{}, ErrRuleNotFound
	}
	m.rules[rule.ID] = rule
	return rule, nil
}

func (m *memRepo) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	r.IsActive = active
	m.rules[id] = r
	return nil
}

func (m *memRepo) DeleteRule(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	for i, rid := range m.order {
		if rid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memRepo) ScanForRetro(ctx context.Context, scope Scope, after *Cursor, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	var out []Transaction
	for _, tx := range m.sorted() {
		if scope == ScopePending && tx.Status != StatusPending {
			continue
		}
		if after != nil {
			if tx.TransactionDate.Before(after.Date) {
				continue
			}
			if tx.TransactionDate.Equal(after.Date) && tx.ID.String() <= after.ID.String() {
				continue
			}
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) SaveRuleApplications(ctx context.Context, txs []Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		m.txs[tx.ID] = tx
		m.saved++
	}
	return nil
}

func (m *memRepo) ImportBatch(ctx context.Context, batch Batch, txs []Transaction) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	var inserted []string
	for _, tx := range txs {
		if _, dup := m.hashes[tx.DedupeHash]; dup {
			continue
		}
		m.hashes[tx.DedupeHash] = struct{}{}
		m.txs[tx.ID] = tx
		inserted = append(inserted, tx.DedupeHash)
	}
	return inserted, nil
}

type stubInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (s *stubInvalidator) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

type enqueued struct {
	ruleID uuid.UUID
	scope  Scope
}

type stubBackfiller struct {
	jobs []enqueued
}

func (s *stubBackfiller) EnqueueBackfill(ctx context.Context, ruleID uuid.UUID, scope Scope) error {
	s.jobs = append(s.jobs, enqueued{ruleID: ruleID, scope: scope})
	return nil
}

type memKeys struct {
	keys map[string]string
}

func (k *memKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if k.keys == nil {
		k.keys = make(map[string]string)
	}
	if _, ok := k.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	k.keys[key] = module
	return nil
}

func (k *memKeys) Delete(ctx context.Context, key string) error {
	delete(k.keys, key)
	return nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func amount(v float64) *float64 { return &v }
