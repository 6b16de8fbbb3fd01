package receipts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func seedRetro(t *testing.T, f *fixture, n int) Rule {
	t.Helper()
	for i := 0; i < n; i++ {
		details := "SKY DIGITAL"
		if i%2 == 1 {
			details = "BT GROUP"
		}
		f.repo.addTx(Transaction{Details: details, AmountOut: 30, TransactionDate: day("2024-01-01").AddDate(0, 0, i)})
	}
	rule, err := f.repo.CreateRule(context.Background(), Rule{
		Name: "Sky", MatchDescription: "sky", MatchDirection: DirectionOut,
		SetVendorName: "Sky", SetExpenseCategory: "Utilities", IsActive: true,
	})
	require.NoError(t, err)
	return rule
}

func TestRunRetroactiveWalksChunks(t *testing.T) {
	f := newFixture(t)
	rule := seedRetro(t, f, 5)
	ctx := context.Background()

	req := RetroRequest{RuleID: rule.ID, Scope: ScopeAll, Limit: 2}
	var total RetroResult
	chunks := 0
	for {
		res, err := f.svc.RunRetroactive(ctx, f.actor, req)
		require.NoError(t, err)
		chunks++
		total.Scanned += res.Scanned
		total.Matched += res.Matched
		total.Updated += res.Updated
		if res.Done {
			break
		}
		require.NotNil(t, res.NextCursor)
		req.Cursor = res.NextCursor
	}
	require.Equal(t, 3, chunks)
	require.Equal(t, 5, total.Scanned)
	require.Equal(t, 3, total.Matched)
	require.Equal(t, 3, total.Updated)

	for _, tx := range f.repo.sorted() {
		if NormalizeDetails(tx.Details) == "sky digital" {
			require.Equal(t, StatusAutoCompleted, tx.Status)
			require.Equal(t, "Sky", tx.VendorName)
			require.Equal(t, rule.ID, *tx.RuleAppliedID)
		} else {
			require.Equal(t, StatusPending, tx.Status)
		}
	}
	require.Equal(t, 3, f.inval.calls)
}

func TestRunRetroactiveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rule := seedRetro(t, f, 3)
	ctx := context.Background()

	first, err := f.svc.RunRetroactive(ctx, f.actor, RetroRequest{RuleID: rule.ID, Scope: ScopeAll})
	require.NoError(t, err)
	require.Equal(t, 2, first.Updated)
	require.True(t, first.Done)

	second, err := f.svc.RunRetroactive(ctx, f.actor, RetroRequest{RuleID: rule.ID, Scope: ScopeAll})
	require.NoError(t, err)
	require.Equal(t, 2, second.Matched)
	require.Zero(t, second.Updated)
}

func TestRunRetroactiveKeepsManualVendor(t *testing.T) {
	f := newFixture(t)
	rule := seedRetro(t, f, 0)
	tx := f.repo.addTx(Transaction{Details: "SKY DIGITAL", AmountOut: 30, VendorName: "Sky Business", VendorSource: SourceManual, TransactionDate: day("2024-01-01")})

	res, err := f.svc.RunRetroactive(context.Background(), f.actor, RetroRequest{RuleID: rule.ID})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	got, _ := f.repo.GetTransaction(context.Background(), tx.ID)
	require.Equal(t, "Sky Business", got.VendorName)
	require.Equal(t, "Utilities", got.ExpenseCategory)
}

func TestRunRetroactiveEmptyChunkKeepsCursor(t *testing.T) {
	f := newFixture(t)
	rule := seedRetro(t, f, 0)
	cursor := &Cursor{Date: day("2024-06-01"), ID: uuid.New()}

	res, err := f.svc.RunRetroactive(context.Background(), f.actor, RetroRequest{RuleID: rule.ID, Cursor: cursor})
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, cursor, res.NextCursor)
	require.Zero(t, f.inval.calls)
}

func TestRunRetroactiveErrors(t *testing.T) {
	f := newFixture(t)
	rule := seedRetro(t, f, 1)
	ctx := context.Background()

	_, err := f.svc.RunRetroactive(ctx, f.actor, RetroRequest{RuleID: uuid.New()})
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.True(t, IsRetroFatal(err))

	_, err = f.svc.RunRetroactive(ctx, f.actor, RetroRequest{RuleID: rule.ID, Scope: "everything"})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.True(t, IsRetroFatal(err))

	require.NoError(t, f.repo.SetRuleActive(ctx, rule.ID, false))
	_, err = f.svc.RunRetroactive(ctx, f.actor, RetroRequest{RuleID: rule.ID})
	require.ErrorIs(t, err, ErrRuleInactive)
	require.True(t, IsRetroFatal(err))
	require.Zero(t, f.repo.scans)
}

func TestRunRetroactiveClampsLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ChunkSize = 2 })
	rule := seedRetro(t, f, 3)

	res, err := f.svc.RunRetroactive(context.Background(), f.actor, RetroRequest{RuleID: rule.ID})
	require.NoError(t, err)
	require.Equal(t, 2, res.Scanned)
	require.False(t, res.Done)

	res, err = f.svc.RunRetroactive(context.Background(), f.actor, RetroRequest{RuleID: rule.ID, Scope: ScopeAll, Limit: 10_000})
	require.NoError(t, err)
	require.Equal(t, 3, res.Scanned)
	require.True(t, res.Done)
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Date: day("2024-03-09"), ID: uuid.New()}
	parsed, err := ParseCursor(c.String())
	require.NoError(t, err)
	require.Equal(t, c, *parsed)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, empty)

	for _, bad := range []string{"2024-03-09", "09/03/2024_" + c.ID.String(), "2024-03-09_nope"} {
		_, err := ParseCursor(bad)
		require.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}
