package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/shared"
)

const importKeyModule = "receipts.import"

var statementDateLayouts = []string{"02/01/2006", "2006-01-02", "02 Jan 2006", "2 Jan 2006", "02-01-2006"}

type statementColumns struct {
	date, details, txType, in, out, balance int
}

// StatementRow is one parsed CSV line.
type StatementRow struct {
	Line            int
	Date            time.Time
	Details         string
	TransactionType string
	AmountIn        float64
	AmountOut       float64
	Balance         *float64
	// Occurrence numbers identical balance-less rows within one statement,
	// starting at 0, so repeated real payments keep distinct hashes.
	Occurrence int
}

// Hash identifies the row for de-duplication across imports. Line is not
// part of it, so overlapping exports of the same period dedupe.
func (r StatementRow) Hash() string {
	balance := ""
	if r.Balance != nil {
		balance = strconv.FormatFloat(*r.Balance, 'f', 2, 64)
	}
	parts := []string{
		r.Date.Format("2006-01-02"),
		strings.TrimSpace(r.Details),
		strings.TrimSpace(r.TransactionType),
		strconv.FormatFloat(r.AmountIn, 'f', 2, 64),
		strconv.FormatFloat(r.AmountOut, 'f', 2, 64),
		balance,
	}
	if r.Occurrence > 0 {
		parts = append(parts, "#"+strconv.Itoa(r.Occurrence))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ParseStatement reads a bank statement CSV with Date, Details,
// Transaction Type, In, Out and Balance columns. Rows moving no money are
// dropped. A malformed date or amount rejects the whole file.
func ParseStatement(r io.Reader) ([]StatementRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyStatement
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	cols := statementColumns{date: -1, details: -1, txType: -1, in: -1, out: -1, balance: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "date", "transaction date":
			cols.date = i
		case "details", "description":
			cols.details = i
		case "transaction type", "type":
			cols.txType = i
		case "in", "money in", "paid in":
			cols.in = i
		case "out", "money out", "paid out":
			cols.out = i
		case "balance":
			cols.balance = i
		}
	}
	if cols.date < 0 || cols.details < 0 || cols.in < 0 || cols.out < 0 {
		return nil, fmt.Errorf("%w: missing required columns (need Date, Details, In, Out)", ErrInvalidInput)
	}

	var rows []StatementRow
	occurrences := make(map[string]int)
	for {
		record, err := nextNonEmptyRecord(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		line, _ := reader.FieldPos(0)
		row, keep, err := parseStatementRecord(record, cols)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, line, err)
		}
		if !keep {
			continue
		}
		row.Line = line
		if row.Balance == nil {
			base := row.Hash()
			row.Occurrence = occurrences[base]
			occurrences[base]++
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyStatement
	}
	return rows, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseStatementRecord(record []string, cols statementColumns) (StatementRow, bool, error) {
	var row StatementRow
	date, err := parseStatementDate(field(record, cols.date))
	if err != nil {
		return row, false, err
	}
	row.Date = date
	row.Details = field(record, cols.details)
	row.TransactionType = field(record, cols.txType)
	if row.AmountIn, err = parseAmount(field(record, cols.in)); err != nil {
		return row, false, fmt.Errorf("in: %w", err)
	}
	if row.AmountOut, err = parseAmount(field(record, cols.out)); err != nil {
		return row, false, fmt.Errorf("out: %w", err)
	}
	if raw := field(record, cols.balance); raw != "" {
		balance, err := parseSignedAmount(raw)
		if err != nil {
			return row, false, fmt.Errorf("balance: %w", err)
		}
		row.Balance = &balance
	}
	if row.AmountIn == 0 && row.AmountOut == 0 {
		return row, false, nil
	}
	if row.Details == "" {
		return row, false, errors.New("details are empty")
	}
	return row, true, nil
}

func parseStatementDate(raw string) (time.Time, error) {
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func parseSignedAmount(raw string) (float64, error) {
	cleaned := strings.NewReplacer("£", "", ",", "", " ", "").Replace(raw)
	if cleaned == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("amount %q is not a number", raw)
	}
	return v, nil
}

func parseAmount(raw string) (float64, error) {
	v, err := parseSignedAmount(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = -v
	}
	return v, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		for _, f := range record {
			if strings.TrimSpace(f) != "" {
				return record, nil
			}
		}
	}
}

// ImportStatement parses a statement, skips rows already imported, applies
// the first matching active rule to each new row and stores the batch.
func (s *Service) ImportStatement(ctx context.Context, actor uuid.UUID, filename string, r io.Reader) (ImportResult, error) {
	hasher := sha256.New()
	rows, err := ParseStatement(io.TeeReader(r, hasher))
	if err != nil {
		return ImportResult{}, err
	}
	_, _ = io.Copy(hasher, r)
	fileHash := hex.EncodeToString(hasher.Sum(nil))

	key := importKeyModule + ":" + fileHash
	if s.keys != nil {
		if err := s.keys.CheckAndInsert(ctx, key, importKeyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ImportResult{}, ErrDuplicateStatement
			}
			return ImportResult{}, fmt.Errorf("receipts: import key: %w", err)
		}
	}

	rules, err := s.repo.ActiveRules(ctx)
	if err != nil {
		s.releaseKey(ctx, key)
		return ImportResult{}, fmt.Errorf("receipts: load rules: %w", err)
	}

	now := s.now()
	batch := Batch{ID: uuid.New(), Filename: filename, FileHash: fileHash, RowCount: len(rows), UploadedBy: actor, UploadedAt: now}
	seen := make(map[string]struct{}, len(rows))
	txs := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		hash := row.Hash()
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		batchID := batch.ID
		tx := Transaction{
			ID:              uuid.New(),
			BatchID:         &batchID,
			TransactionDate: row.Date,
			Details:         row.Details,
			TransactionType: row.TransactionType,
			AmountIn:        row.AmountIn,
			AmountOut:       row.AmountOut,
			Balance:         row.Balance,
			Status:          StatusPending,
			VendorSource:    SourceImport,
			CategorySource:  SourceImport,
			DedupeHash:      hash,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if rule, ok := FirstMatch(rules, tx); ok {
			tx, _ = rule.Apply(tx)
		}
		txs = append(txs, tx)
	}

	inserted, err := s.repo.ImportBatch(ctx, batch, txs)
	if err != nil {
		s.releaseKey(ctx, key)
		return ImportResult{}, fmt.Errorf("receipts: import batch: %w", err)
	}
	insertedSet := make(map[string]struct{}, len(inserted))
	for _, h := range inserted {
		insertedSet[h] = struct{}{}
	}
	result := ImportResult{BatchID: batch.ID, Inserted: len(inserted), Skipped: len(rows) - len(inserted)}
	for _, tx := range txs {
		if _, ok := insertedSet[tx.DedupeHash]; ok && tx.RuleAppliedID != nil {
			result.AutoClassified++
		}
	}

	s.logger.Info("receipts statement imported",
		slog.String("filename", filename),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("auto_classified", result.AutoClassified))
	s.record(ctx, actor, "receipts.import", "receipt_batch", batch.ID.String(), map[string]any{
		"filename": filename, "inserted": result.Inserted, "skipped": result.Skipped, "auto_classified": result.AutoClassified,
	})
	if result.Inserted > 0 {
		s.invalidate(ctx)
	}
	return result, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if s.keys == nil {
		return
	}
	if err := s.keys.Delete(ctx, key); err != nil {
		s.logger.Warn("receipts release import key", slog.Any("error", err))
	}
}
