package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/receipts"
)

// ImportMode enumerates supported execution strategies.
type ImportMode string

const (
	// ImportModeDry parses the statement and reports what would be imported.
	ImportModeDry ImportMode = "dry"
	// ImportModeApply persists the rows after confirmation.
	ImportModeApply ImportMode = "apply"
)

// StatementImporter is the part of receipts.Service the command needs.
type StatementImporter interface {
	ImportStatement(ctx context.Context, actor uuid.UUID, filename string, r io.Reader) (receipts.ImportResult, error)
}

// ReceiptsCLI offers operational helpers for bank statements.
type ReceiptsCLI struct {
	importer StatementImporter
}

// NewReceiptsCLI constructs a new helper instance.
func NewReceiptsCLI(importer StatementImporter) (*ReceiptsCLI, error) {
	if importer == nil {
		return nil, errors.New("receipts cli: importer required")
	}
	return &ReceiptsCLI{importer: importer}, nil
}

// ImportOptions configures the import command execution.
type ImportOptions struct {
	Path       string
	Actor      uuid.UUID
	Mode       ImportMode
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
	Confirm    func(io.Reader, io.Writer) (bool, error)
}

// ImportSummary captures the structured reporting outcome.
type ImportSummary struct {
	File           string     `json:"file"`
	Mode           ImportMode `json:"mode"`
	Rows           int        `json:"rows"`
	From           string     `json:"from,omitempty"`
	To             string     `json:"to,omitempty"`
	TotalIn        float64    `json:"total_in"`
	TotalOut       float64    `json:"total_out"`
	Inserted       int        `json:"inserted"`
	Skipped        int        `json:"skipped"`
	AutoClassified int        `json:"auto_classified"`
}

// ImportCommand executes the statement import workflow and returns the
// process exit code.
func (c *ReceiptsCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = ImportModeDry
	}
	mode := ImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case ImportModeDry, ImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "receipts import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		fmt.Fprintln(opts.Stderr, "receipts import: statement path is required")
		return 1
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receipts import: %v\n", err)
		return 1
	}
	defer f.Close()

	rows, err := receipts.ParseStatement(f)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receipts import: %v\n", err)
		return 1
	}
	summary := summarise(filepath.Base(path), mode, rows)
	if mode == ImportModeDry {
		if err := writeImportOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "receipts import: %v\n", err)
			return 1
		}
		return 0
	}

	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultImportConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "receipts import: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "receipts import: cancelled by user")
		return 1
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		fmt.Fprintf(opts.Stderr, "receipts import: %v\n", err)
		return 1
	}
	result, err := c.importer.ImportStatement(ctx, opts.Actor, summary.File, f)
	if err != nil {
		if errors.Is(err, receipts.ErrDuplicateStatement) {
			fmt.Fprintln(opts.Stderr, "receipts import: this statement was already imported")
			return 10
		}
		fmt.Fprintf(opts.Stderr, "receipts import: apply failed: %v\n", err)
		return 1
	}
	summary.Inserted = result.Inserted
	summary.Skipped = result.Skipped
	summary.AutoClassified = result.AutoClassified
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "receipts import: %v\n", err)
		return 1
	}
	return 0
}

func summarise(file string, mode ImportMode, rows []receipts.StatementRow) ImportSummary {
	summary := ImportSummary{File: file, Mode: mode, Rows: len(rows)}
	for i, row := range rows {
		summary.TotalIn += row.AmountIn
		summary.TotalOut += row.AmountOut
		if i == 0 || row.Date.Format("2006-01-02") < summary.From {
			summary.From = row.Date.Format("2006-01-02")
		}
		if row.Date.Format("2006-01-02") > summary.To {
			summary.To = row.Date.Format("2006-01-02")
		}
	}
	return summary
}

func writeImportOutput(opts ImportOptions, summary ImportSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderImportHuman(opts.Stdout, summary)
	return nil
}

func renderImportHuman(out io.Writer, summary ImportSummary) {
	fmt.Fprintf(out, "Statement import (%s) for %s\n", summary.Mode, summary.File)
	fmt.Fprintf(out, "%d row(s) from %s to %s, in %.2f, out %.2f\n", summary.Rows, summary.From, summary.To, summary.TotalIn, summary.TotalOut)
	if summary.Mode == ImportModeApply {
		fmt.Fprintf(out, "Inserted %d, skipped %d duplicate(s), auto-classified %d\n", summary.Inserted, summary.Skipped, summary.AutoClassified)
	}
}

func defaultImportConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Import statement? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
