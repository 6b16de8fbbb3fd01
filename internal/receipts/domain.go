package receipts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the receipt state of a bank transaction.
type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusAutoCompleted     Status = "auto_completed"
	StatusNoReceiptRequired Status = "no_receipt_required"
	StatusCantFind          Status = "cant_find"
)

// Statuses lists every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusCompleted, StatusAutoCompleted, StatusNoReceiptRequired, StatusCantFind}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Label is the human readable status name.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusCompleted:
		return "Completed"
	case StatusAutoCompleted:
		return "Auto completed"
	case StatusNoReceiptRequired:
		return "No receipt required"
	case StatusCantFind:
		return "Can't find"
	default:
		return string(s)
	}
}

// Source records who last set a classification field.
type Source string

const (
	SourceManual     Source = "manual"
	SourceRule       Source = "rule"
	SourceSuggestion Source = "suggestion"
	SourceImport     Source = "import"
)

// Direction selects money in, money out or either.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// Transaction is one bank statement line.
type Transaction struct {
	ID              uuid.UUID
	BatchID         *uuid.UUID
	TransactionDate time.Time
	Details         string
	TransactionType string
	AmountIn        float64
	AmountOut       float64
	Balance         *float64
	Status          Status
	VendorName      string
	VendorSource    Source
	ExpenseCategory string
	CategorySource  Source
	RuleAppliedID   *uuid.UUID
	Notes           string
	DedupeHash      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Direction reports whether the line is money in or money out.
func (t Transaction) Direction() Direction {
	if t.AmountIn > 0 {
		return DirectionIn
	}
	return DirectionOut
}

// Amount is the absolute value moved by the line.
func (t Transaction) Amount() float64 {
	if t.AmountIn > 0 {
		return t.AmountIn
	}
	return t.AmountOut
}

// Rule auto-classifies matching transactions.
type Rule struct {
	ID                   uuid.UUID
	Name                 string
	Description          string
	MatchDescription     string
	MatchTransactionType string
	MatchDirection       Direction
	MatchMinAmount       *float64
	MatchMaxAmount       *float64
	AutoStatus           Status
	SetVendorName        string
	SetExpenseCategory   string
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Batch is one imported statement file.
type Batch struct {
	ID         uuid.UUID
	Filename   string
	FileHash   string
	RowCount   int
	UploadedBy uuid.UUID
	UploadedAt time.Time
}

// Group is a set of pending transactions sharing normalised details.
type Group struct {
	Key            string
	Details        string
	Count          int
	TotalIn        float64
	TotalOut       float64
	FirstDate      time.Time
	LastDate       time.Time
	TransactionIDs []uuid.UUID
	Suggestion     *Suggestion
}

// Suggestion is a proposed classification for a group.
type Suggestion struct {
	VendorName      string
	ExpenseCategory string
	Status          Status
	Confidence      float64
	Samples         int
}

// Scope limits which transactions a retroactive run visits.
type Scope string

const (
	ScopePending Scope = "pending"
	ScopeAll     Scope = "all"
)

// Cursor is a keyset position over (transaction_date, id).
type Cursor struct {
	Date time.Time
	ID   uuid.UUID
}

const cursorDateLayout = "2006-01-02"

// String encodes the cursor for URLs and task payloads.
func (c Cursor) String() string {
	return c.Date.Format(cursorDateLayout) + "_" + c.ID.String()
}

// ParseCursor decodes a cursor produced by Cursor.String. An empty string
// yields a nil cursor.
func ParseCursor(raw string) (*Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	datePart, idPart, ok := strings.Cut(raw, "_")
	if !ok {
		return nil, fmt.Errorf("%w: cursor %q", ErrInvalidInput, raw)
	}
	date, err := time.Parse(cursorDateLayout, datePart)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor date: %v", ErrInvalidInput, err)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, fmt.Errorf("%w: cursor id: %v", ErrInvalidInput, err)
	}
	return &Cursor{Date: date, ID: id}, nil
}

// RetroRequest asks for one chunk of a retroactive rule run.
type RetroRequest struct {
	RuleID uuid.UUID
	Scope  Scope
	Cursor *Cursor
	Limit  int
}

// RetroResult reports a processed chunk. NextCursor resumes the run.
type RetroResult struct {
	Scanned    int
	Matched    int
	Updated    int
	NextCursor *Cursor
	Done       bool
}

// ImportResult summarises a statement import.
type ImportResult struct {
	BatchID        uuid.UUID
	Inserted       int
	Skipped        int
	AutoClassified int
}

const (
	// DefaultRetroChunk is used when no chunk size is configured.
	DefaultRetroChunk = 100
	// MaxRetroChunk caps a single retroactive chunk.
	MaxRetroChunk = 500
)

var (
	ErrNotFound           = errors.New("receipts: not found")
	ErrRuleNotFound       = errors.New("receipts: rule not found")
	ErrRuleInactive       = errors.New("receipts: rule inactive")
	ErrInvalidInput       = errors.New("receipts: invalid input")
	ErrDuplicateStatement = errors.New("receipts: statement already imported")
	ErrEmptyStatement     = errors.New("receipts: statement has no transactions")
)
