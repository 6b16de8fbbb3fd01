package receipts

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const statementCSV = "\ufeffDate,Transaction Type,Details,Paid Out,Paid In,Balance\n" +
	"01/03/2024,DEB,CARD PAYMENT TO BOOKER LTD,\"£1,204.50\",,\"3,000.00\"\n" +
	"\n" +
	"02/03/2024,FPI,SMITH WEDDING DEPOSIT,,250.00,3250.00\n" +
	"02/03/2024,DD,SKY DIGITAL,45.00,,3205.00\n" +
	"03/03/2024,,BALANCE BROUGHT FORWARD,,,3205.00\n"

func TestParseStatement(t *testing.T) {
	rows, err := ParseStatement(strings.NewReader(statementCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, day("2024-03-01"), rows[0].Date)
	require.Equal(t, "CARD PAYMENT TO BOOKER LTD", rows[0].Details)
	require.Equal(t, "DEB", rows[0].TransactionType)
	require.InDelta(t, 1204.50, rows[0].AmountOut, 0.001)
	require.Zero(t, rows[0].AmountIn)
	require.NotNil(t, rows[0].Balance)
	require.InDelta(t, 3000, *rows[0].Balance, 0.001)

	require.InDelta(t, 250, rows[1].AmountIn, 0.001)
	require.Equal(t, 4, rows[1].Line)
}

func TestParseStatementRejects(t *testing.T) {
	cases := map[string]struct {
		csv string
		err error
	}{
		"empty file":      {"", ErrEmptyStatement},
		"header only":     {"Date,Details,In,Out\n", ErrEmptyStatement},
		"missing columns": {"Date,Details,Amount\n01/03/2024,X,1\n", ErrInvalidInput},
		"bad date":        {"Date,Details,In,Out\n31/02/2024x,X,1,\n", ErrInvalidInput},
		"bad amount":      {"Date,Details,In,Out\n01/03/2024,X,one,\n", ErrInvalidInput},
		"blank details":   {"Date,Details,In,Out\n01/03/2024,,1,\n", ErrInvalidInput},
		"nan amount":      {"Date,Details,In,Out\n01/03/2024,X,NaN,\n", ErrInvalidInput},
		"infinite amount": {"Date,Details,In,Out\n01/03/2024,X,,-Inf\n", ErrInvalidInput},
		"nan balance":     {"Date,Details,In,Out,Balance\n01/03/2024,X,1,,nan\n", ErrInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStatement(strings.NewReader(tc.csv))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestStatementRowHashIgnoresLine(t *testing.T) {
	a := StatementRow{Line: 2, Date: day("2024-03-01"), Details: "SKY ", AmountOut: 45}
	b := StatementRow{Line: 9, Date: day("2024-03-01"), Details: "SKY", AmountOut: 45}
	require.Equal(t, a.Hash(), b.Hash())
	b.AmountOut = 45.01
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestImportStatementAutoClassifiesAndDedupes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.CreateRule(ctx, Rule{Name: "Sky", MatchDescription: "sky", MatchDirection: DirectionOut, SetVendorName: "Sky", IsActive: true})
	require.NoError(t, err)
	_, err = f.repo.CreateRule(ctx, Rule{Name: "Later", MatchDescription: "sky digital", MatchDirection: DirectionOut, SetVendorName: "Never", IsActive: true})
	require.NoError(t, err)

	existing := StatementRow{Date: day("2024-03-02"), Details: "SMITH WEDDING DEPOSIT", TransactionType: "FPI", AmountIn: 250, Balance: amount(3250)}
	f.repo.addTx(Transaction{Details: existing.Details, AmountIn: 250, TransactionDate: existing.Date, DedupeHash: existing.Hash()})

	withDup := statementCSV + "02/03/2024,DD,SKY DIGITAL,45.00,,3205.00\n"
	res, err := f.svc.ImportStatement(ctx, f.actor, "march.csv", strings.NewReader(withDup))
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, 1, res.AutoClassified)
	require.Len(t, f.repo.batches, 1)
	require.Equal(t, "march.csv", f.repo.batches[0].Filename)
	require.Equal(t, 4, f.repo.batches[0].RowCount)
	require.Equal(t, 1, f.inval.calls)

	var sky *Transaction
	for _, tx := range f.repo.sorted() {
		if tx.Details == "SKY DIGITAL" {
			sky = &tx
		}
	}
	require.NotNil(t, sky)
	require.Equal(t, "Sky", sky.VendorName)
	require.Equal(t, SourceRule, sky.VendorSource)
	require.Equal(t, StatusAutoCompleted, sky.Status)
	require.Equal(t, res.BatchID, *sky.BatchID)
}

func TestImportStatementRejectsSameFileTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ImportStatement(ctx, f.actor, "a.csv", strings.NewReader(statementCSV))
	require.NoError(t, err)
	_, err = f.svc.ImportStatement(ctx, f.actor, "b.csv", strings.NewReader(statementCSV))
	require.ErrorIs(t, err, ErrDuplicateStatement)
	require.Len(t, f.repo.batches, 1)
}

func TestImportStatementMalformedLeavesNoKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ImportStatement(context.Background(), f.actor, "bad.csv", strings.NewReader("Date,Details,In,Out\nsoon,X,1,\n"))
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Empty(t, f.keys.keys)
	require.Empty(t, f.repo.batches)
}

const repeatedPaymentsCSV = "Date,Details,In,Out\n" +
	"05/03/2024,ROUND OF DRINKS CARD 1234,,12.50\n" +
	"05/03/2024,ROUND OF DRINKS CARD 1234,,12.50\n" +
	"06/03/2024,ROUND OF DRINKS CARD 1234,,12.50\n"

func TestParseStatementNumbersRepeatedRowsWithoutBalance(t *testing.T) {
	rows, err := ParseStatement(strings.NewReader(repeatedPaymentsCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 0, rows[0].Occurrence)
	require.Equal(t, 1, rows[1].Occurrence)
	require.Equal(t, 0, rows[2].Occurrence, "different date starts a new count")
	require.NotEqual(t, rows[0].Hash(), rows[1].Hash())

	withBalance, err := ParseStatement(strings.NewReader(statementCSV + "02/03/2024,DD,SKY DIGITAL,45.00,,3205.00\n"))
	require.NoError(t, err)
	require.Equal(t, withBalance[2].Hash(), withBalance[3].Hash(), "identical rows with a balance are the same line")
}

func TestImportStatementKeepsRepeatedPaymentsWithoutBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ImportStatement(ctx, f.actor, "bar.csv", strings.NewReader(repeatedPaymentsCSV))
	require.NoError(t, err)
	require.Equal(t, 3, res.Inserted)
	require.Zero(t, res.Skipped)

	overlap := repeatedPaymentsCSV + "07/03/2024,ROUND OF DRINKS CARD 1234,,12.50\n"
	res, err = f.svc.ImportStatement(ctx, f.actor, "bar-week.csv", strings.NewReader(overlap))
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 3, res.Skipped)
}
