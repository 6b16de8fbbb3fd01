package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/venuedesk/venuedesk/internal/platform/db"
)

// Repository persists transactions, rules and statement batches.
type Repository interface {
	HistoryLoader
	ListPending(ctx context.Context, filter PendingFilter) ([]Transaction, error)
	ListTransactions(ctx context.Context, filter ListFilter) ([]Transaction, int, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	SaveClassification(ctx context.Context, tx Transaction) error
	ApplyManual(ctx context.Context, ids []uuid.UUID, c ManualClassification) (int, error)

	ListRules(ctx context.Context) ([]Rule, error)
	ActiveRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (Rule, error)
	CreateRule(ctx context.Context, rule Rule) (Rule, error)
	UpdateRule(ctx context.Context, rule Rule) (Rule, error)
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteRule(ctx context.Context, id uuid.UUID) error

	ScanForRetro(ctx context.Context, scope Scope, after *Cursor, limit int) ([]Transaction, error)
	SaveRuleApplications(ctx context.Context, txs []Transaction) error
	ImportBatch(ctx context.Context, batch Batch, txs []Transaction) ([]string, error)
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	db.DBTX
	db.TxBeginner
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const maxPendingRows = 2000

const transactionColumns = `id, batch_id, transaction_date, details, COALESCE(transaction_type, ''),
       COALESCE(amount_in, 0)::float8, COALESCE(amount_out, 0)::float8, balance::float8, status,
       COALESCE(vendor_name, ''), COALESCE(vendor_source, ''), COALESCE(expense_category, ''), COALESCE(category_source, ''),
       rule_applied_id, COALESCE(notes, ''), dedupe_hash, created_at, updated_at`

func scanTransaction(row pgx.CollectableRow) (Transaction, error) {
	var tx Transaction
	err := row.Scan(&tx.ID, &tx.BatchID, &tx.TransactionDate, &tx.Details, &tx.TransactionType,
		&tx.AmountIn, &tx.AmountOut, &tx.Balance, &tx.Status,
		&tx.VendorName, &tx.VendorSource, &tx.ExpenseCategory, &tx.CategorySource,
		&tx.RuleAppliedID, &tx.Notes, &tx.DedupeHash, &tx.CreatedAt, &tx.UpdatedAt)
	return tx, err
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

// ListPending returns pending transactions, newest first.
func (r *PGRepository) ListPending(ctx context.Context, filter PendingFilter) ([]Transaction, error) {
	var w whereBuilder
	w.add("status = ?", string(StatusPending))
	switch filter.Direction {
	case DirectionIn:
		w.add("amount_in > 0")
	case DirectionOut:
		w.add("amount_out > 0")
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		w.add("details ILIKE ?", "%"+q+"%")
	}
	query := `SELECT ` + transactionColumns + ` FROM receipt_transactions` + w.sql() +
		` ORDER BY transaction_date DESC, id LIMIT ` + w.next(maxPendingRows)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// ListTransactions returns one page of transactions and the total count.
func (r *PGRepository) ListTransactions(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	var w whereBuilder
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		w.add("(details ILIKE ? OR vendor_name ILIKE ?)", "%"+q+"%", "%"+q+"%")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM receipt_transactions`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * filter.PerPage
	}
	query := `SELECT ` + transactionColumns + ` FROM receipt_transactions` + w.sql() +
		` ORDER BY transaction_date DESC, id LIMIT ` + w.next(filter.PerPage) + ` OFFSET ` + w.next(offset)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// GetTransaction fetches one transaction.
func (r *PGRepository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM receipt_transactions WHERE id = $1`, id)
	if err != nil {
		return Transaction{}, err
	}
	tx, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return tx, err
}

const updateClassificationSQL = `UPDATE receipt_transactions
SET status = $2, vendor_name = NULLIF($3, ''), vendor_source = NULLIF($4, ''),
    expense_category = NULLIF($5, ''), category_source = NULLIF($6, ''),
    rule_applied_id = $7, notes = NULLIF($8, ''), updated_at = $9
WHERE id = $1`

func classificationArgs(tx Transaction) []any {
	return []any{tx.ID, string(tx.Status), tx.VendorName, string(tx.VendorSource),
		tx.ExpenseCategory, string(tx.CategorySource), tx.RuleAppliedID, tx.Notes, tx.UpdatedAt}
}

// SaveClassification writes the classification fields of one transaction.
func (r *PGRepository) SaveClassification(ctx context.Context, tx Transaction) error {
	tag, err := r.pool.Exec(ctx, updateClassificationSQL, classificationArgs(tx)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyManual classifies many transactions at once. Blank vendor or
// category values leave the stored field unchanged.
func (r *PGRepository) ApplyManual(ctx context.Context, ids []uuid.UUID, c ManualClassification) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE receipt_transactions
SET status = $2,
    vendor_name = CASE WHEN $3 <> '' THEN $3 ELSE vendor_name END,
    vendor_source = CASE WHEN $3 <> '' THEN $5 ELSE vendor_source END,
    expense_category = CASE WHEN $4 <> '' THEN $4 ELSE expense_category END,
    category_source = CASE WHEN $4 <> '' THEN $5 ELSE category_source END,
    updated_at = NOW()
WHERE id = ANY($1)`, ids, string(c.Status), c.VendorName, c.ExpenseCategory, string(c.Source))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ClassificationHistory returns recently classified transactions.
func (r *PGRepository) ClassificationHistory(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM receipt_transactions
WHERE status <> 'pending' AND (COALESCE(vendor_name, '') <> '' OR COALESCE(expense_category, '') <> '')
ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}

const ruleColumns = `id, name, COALESCE(description, ''), COALESCE(match_description, ''), COALESCE(match_transaction_type, ''),
       match_direction, match_min_amount::float8, match_max_amount::float8, COALESCE(auto_status, ''),
       COALESCE(set_vendor_name, ''), COALESCE(set_expense_category, ''), is_active, created_at, updated_at`

func scanRule(row pgx.CollectableRow) (Rule, error) {
	var rule Rule
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.MatchDescription, &rule.MatchTransactionType,
		&rule.MatchDirection, &rule.MatchMinAmount, &rule.MatchMaxAmount, &rule.AutoStatus,
		&rule.SetVendorName, &rule.SetExpenseCategory, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	return rule, err
}

// ListRules returns rules in creation order.
func (r *PGRepository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM receipt_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRule)
}

// ActiveRules returns active rules in creation order.
func (r *PGRepository) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM receipt_rules WHERE is_active ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRule)
}

// GetRule fetches one rule.
func (r *PGRepository) GetRule(ctx context.Context, id uuid.UUID) (Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM receipt_rules WHERE id = $1`, id)
	if err != nil {
		return Rule{}, err
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrRuleNotFound
	}
	return rule, err
}

func ruleArgs(rule Rule) []any {
	return []any{rule.Name, rule.Description, rule.MatchDescription, rule.MatchTransactionType,
		string(rule.MatchDirection), rule.MatchMinAmount, rule.MatchMaxAmount, string(rule.AutoStatus),
		rule.SetVendorName, rule.SetExpenseCategory, rule.IsActive}
}

// CreateRule inserts a rule.
func (r *PGRepository) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	rows, err := r.pool.Query(ctx, `INSERT INTO receipt_rules
  (name, description, match_description, match_transaction_type, match_direction, match_min_amount, match_max_amount,
   auto_status, set_vendor_name, set_expense_category, is_active)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
RETURNING `+ruleColumns, ruleArgs(rule)...)
	if err != nil {
		return Rule{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanRule)
}

// UpdateRule overwrites a rule's editable fields.
func (r *PGRepository) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	args := append(ruleArgs(rule), rule.ID)
	rows, err := r.pool.Query(ctx, `UPDATE receipt_rules
SET name = $1, description = NULLIF($2, ''), match_description = NULLIF($3, ''), match_transaction_type = NULLIF($4, ''),
    match_direction = $5, match_min_amount = $6, match_max_amount = $7, auto_status = NULLIF($8, ''),
    set_vendor_name = NULLIF($9, ''), set_expense_category = NULLIF($10, ''), is_active = $11, updated_at = NOW()
WHERE id = $12
RETURNING `+ruleColumns, args...)
	if err != nil {
		return Rule{}, err
	}
	saved, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrRuleNotFound
	}
	return saved, err
}

// SetRuleActive toggles a rule.
func (r *PGRepository) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE receipt_rules SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule and detaches it from transactions.
func (r *PGRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE receipt_transactions SET rule_applied_id = NULL WHERE rule_applied_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM receipt_rules WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRuleNotFound
		}
		return nil
	})
}

// ScanForRetro returns the next keyset chunk ordered by (transaction_date, id).
func (r *PGRepository) ScanForRetro(ctx context.Context, scope Scope, after *Cursor, limit int) ([]Transaction, error) {
	var w whereBuilder
	if scope != ScopeAll {
		w.add("status = ?", string(StatusPending))
	}
	if after != nil {
		w.add("(transaction_date, id) > (?::date, ?::uuid)", after.Date, after.ID)
	}
	query := `SELECT ` + transactionColumns + ` FROM receipt_transactions` + w.sql() +
		` ORDER BY transaction_date, id LIMIT ` + w.next(limit)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// SaveRuleApplications writes rule outcomes in one transaction.
func (r *PGRepository) SaveRuleApplications(ctx context.Context, txs []Transaction) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range txs {
			batch.Queue(updateClassificationSQL, classificationArgs(t)...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ImportBatch stores a statement batch and its transactions, skipping rows
// whose dedupe hash already exists. It returns the hashes actually inserted.
func (r *PGRepository) ImportBatch(ctx context.Context, b Batch, txs []Transaction) ([]string, error) {
	var inserted []string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO receipt_batches (id, original_filename, file_hash, row_count, uploaded_by, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6)`, b.ID, b.Filename, b.FileHash, b.RowCount, b.UploadedBy, b.UploadedAt); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, t := range txs {
			batch.Queue(`INSERT INTO receipt_transactions
  (id, batch_id, transaction_date, details, transaction_type, amount_in, amount_out, balance, status,
   vendor_name, vendor_source, expense_category, category_source, rule_applied_id, dedupe_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14, $15, $16, $17)
ON CONFLICT (dedupe_hash) DO NOTHING
RETURNING dedupe_hash`,
				t.ID, t.BatchID, t.TransactionDate, t.Details, t.TransactionType, t.AmountIn, t.AmountOut, t.Balance,
				string(t.Status), t.VendorName, string(t.VendorSource), t.ExpenseCategory, string(t.CategorySource),
				t.RuleAppliedID, t.DedupeHash, t.CreatedAt, t.UpdatedAt)
		}
		results := tx.SendBatch(ctx, batch)
		for range txs {
			var hash string
			if err := results.QueryRow().Scan(&hash); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					continue
				}
				_ = results.Close()
				return err
			}
			inserted = append(inserted, hash)
		}
		return results.Close()
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}
