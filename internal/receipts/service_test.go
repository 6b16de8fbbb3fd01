package receipts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo     *memRepo
	inval    *stubInvalidator
	backfill *stubBackfiller
	keys     *memKeys
	svc      *Service
	actor    uuid.UUID
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		inval:    &stubInvalidator{},
		backfill: &stubBackfiller{},
		keys:     &memKeys{},
		actor:    uuid.New(),
	}
	o := Options{
		Invalidator: f.inval,
		Backfiller:  f.backfill,
		Keys:        f.keys,
		Now:         func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	}
	for _, fn := range opts {
		fn(&o)
	}
	o.Suggester = NewHistorySuggester(f.repo)
	f.svc = NewService(f.repo, o)
	return f
}

func TestGroupPendingAttachesSuggestions(t *testing.T) {
	f := newFixture(t)
	f.repo.addTx(Transaction{Details: "BOOKER 1", Status: StatusCompleted, VendorName: "Booker", TransactionDate: day("2024-01-01")})
	f.repo.addTx(Transaction{Details: "BOOKER 2", AmountOut: 10, TransactionDate: day("2024-02-01")})
	f.repo.addTx(Transaction{Details: "SKY 1", AmountOut: 20, TransactionDate: day("2024-02-02")})

	groups, err := f.svc.GroupPending(context.Background(), PendingFilter{})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	byKey := map[string]Group{}
	for _, g := range groups {
		byKey[g.Key] = g
	}
	require.NotNil(t, byKey["booker"].Suggestion)
	require.Equal(t, "Booker", byKey["booker"].Suggestion.VendorName)
	require.Nil(t, byKey["sky"].Suggestion)
}

func TestClassifyGroupByKeyCreatesRule(t *testing.T) {
	f := newFixture(t)
	a := f.repo.addTx(Transaction{Details: "BOOKER 0001", AmountOut: 10, TransactionDate: day("2024-02-01")})
	b := f.repo.addTx(Transaction{Details: "BOOKER 0002", AmountOut: 12, TransactionDate: day("2024-02-03")})
	other := f.repo.addTx(Transaction{Details: "SKY", AmountOut: 30, TransactionDate: day("2024-02-03")})

	res, err := f.svc.ClassifyGroup(context.Background(), f.actor, ClassifyInput{
		GroupKey:        "booker",
		VendorName:      "Booker",
		ExpenseCategory: "Stock",
		Status:          StatusCompleted,
		CreateRule:      true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Updated)
	require.NotNil(t, res.Rule)
	require.Equal(t, "booker", res.Rule.MatchDescription)
	require.Equal(t, StatusAutoCompleted, res.Rule.AutoStatus)
	require.Equal(t, "Booker", res.Rule.SetVendorName)
	require.True(t, res.Rule.IsActive)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		tx, _ := f.repo.GetTransaction(context.Background(), id)
		require.Equal(t, StatusCompleted, tx.Status)
		require.Equal(t, SourceManual, tx.VendorSource)
	}
	untouched, _ := f.repo.GetTransaction(context.Background(), other.ID)
	require.Equal(t, StatusPending, untouched.Status)

	require.Equal(t, []enqueued{{ruleID: res.Rule.ID, scope: ScopePending}}, f.backfill.jobs)
	require.Equal(t, 1, f.inval.calls)
}

func TestClassifyGroupFromSuggestionIsNotProtected(t *testing.T) {
	f := newFixture(t)
	tx := f.repo.addTx(Transaction{Details: "SKY", AmountOut: 30, TransactionDate: day("2024-02-03")})

	_, err := f.svc.ClassifyGroup(context.Background(), f.actor, ClassifyInput{
		TransactionIDs: []uuid.UUID{tx.ID, tx.ID},
		VendorName:     "Sky",
		Status:         StatusCompleted,
		FromSuggestion: true,
	})
	require.NoError(t, err)
	got, _ := f.repo.GetTransaction(context.Background(), tx.ID)
	require.Equal(t, SourceSuggestion, got.VendorSource)
	require.Empty(t, f.backfill.jobs)
}

func TestClassifyGroupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClassifyGroup(ctx, f.actor, ClassifyInput{GroupKey: "x", Status: "bogus"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "Status")

	_, err = f.svc.ClassifyGroup(ctx, f.actor, ClassifyInput{GroupKey: "nothing here", VendorName: "V", Status: StatusCompleted})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.ClassifyGroup(ctx, f.actor, ClassifyInput{GroupKey: "x", Status: StatusCompleted})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, f.inval.calls)
}

func TestUpdateTransactionMarksManual(t *testing.T) {
	f := newFixture(t)
	tx := f.repo.addTx(Transaction{Details: "BOOKER", AmountOut: 10, TransactionDate: day("2024-02-01")})
	status := StatusCantFind
	vendor := "  Booker  "

	got, err := f.svc.UpdateTransaction(context.Background(), f.actor, tx.ID, TransactionPatch{Status: &status, VendorName: &vendor})
	require.NoError(t, err)
	require.Equal(t, StatusCantFind, got.Status)
	require.Equal(t, "Booker", got.VendorName)
	require.Equal(t, SourceManual, got.VendorSource)
	require.Equal(t, Source(""), got.CategorySource)

	bad := Status("archived")
	_, err = f.svc.UpdateTransaction(context.Background(), f.actor, tx.ID, TransactionPatch{Status: &bad})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.UpdateTransaction(context.Background(), f.actor, uuid.New(), TransactionPatch{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListTransactionsPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.repo.addTx(Transaction{Details: "LINE", AmountOut: 1, TransactionDate: day("2024-02-01").AddDate(0, 0, i)})
	}
	txs, page, err := f.svc.ListTransactions(context.Background(), ListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, 5, page.Total)
	require.True(t, page.HasNext())
	require.True(t, page.HasPrev())

	_, _, err = f.svc.ListTransactions(context.Background(), ListFilter{Status: "nope"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateRuleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    RuleInput
		field string
	}{
		{"name required", RuleInput{MatchDirection: DirectionBoth, MatchDescription: "sky"}, "Name"},
		{"direction required", RuleInput{Name: "Sky", MatchDescription: "sky"}, "MatchDirection"},
		{"needs a criterion", RuleInput{Name: "Sky", MatchDirection: DirectionBoth, MatchDescription: " , "}, "MatchDescription"},
		{"min above max", RuleInput{Name: "Sky", MatchDirection: DirectionOut, MatchMinAmount: amount(50), MatchMaxAmount: amount(10)}, "MatchMaxAmount"},
		{"negative amount", RuleInput{Name: "Sky", MatchDirection: DirectionOut, MatchMinAmount: amount(-1)}, "MatchMinAmount"},
		{"bad status", RuleInput{Name: "Sky", MatchDirection: DirectionOut, MatchDescription: "sky", AutoStatus: StatusPending}, "AutoStatus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateRule(ctx, f.actor, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Contains(t, verr.Fields, tc.field)
			require.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
	rules, _ := f.svc.ListRules(ctx)
	require.Empty(t, rules)
}

func TestCreateAndUpdateRuleEnqueueBackfillWhenActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive, err := f.svc.CreateRule(ctx, f.actor, RuleInput{Name: "Sky", MatchDirection: DirectionOut, MatchDescription: "Sky, SKY TV "})
	require.NoError(t, err)
	require.Equal(t, "sky,sky tv", inactive.MatchDescription)
	require.Empty(t, f.backfill.jobs)

	in := InputFromRule(inactive)
	in.IsActive = true
	updated, err := f.svc.UpdateRule(ctx, f.actor, inactive.ID, in)
	require.NoError(t, err)
	require.True(t, updated.IsActive)
	require.Equal(t, inactive.CreatedAt, updated.CreatedAt)
	require.Len(t, f.backfill.jobs, 1)

	_, err = f.svc.UpdateRule(ctx, f.actor, uuid.New(), in)
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestToggleAndDeleteRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule, err := f.svc.CreateRule(ctx, f.actor, RuleInput{Name: "BT", MatchDirection: DirectionOut, MatchDescription: "bt", IsActive: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.ToggleRule(ctx, f.actor, rule.ID, false))
	got, _ := f.svc.GetRule(ctx, rule.ID)
	require.False(t, got.IsActive)

	require.NoError(t, f.svc.DeleteRule(ctx, f.actor, rule.ID))
	_, err = f.svc.GetRule(ctx, rule.ID)
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.ErrorIs(t, f.svc.DeleteRule(ctx, f.actor, rule.ID), ErrRuleNotFound)
}
