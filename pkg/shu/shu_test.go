package shu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/mcclellann/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// faultyStore fails the named methods once, inside or outside a transaction.
type faultyStore struct {
	store.Storage
	mu     *sync.Mutex
	faults map[string]error
}

func newFaultyStore(s store.Storage) *faultyStore {
	return &faultyStore{Storage: s, mu: &sync.Mutex{}, faults: make(map[string]error)}
}

func (f *faultyStore) failNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[method] = err
}

func (f *faultyStore) take(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.faults[method]
	delete(f.faults, method)
	return err
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(tx store.Storage) error) error {
	return f.Storage.WithTx(ctx, func(tx store.Storage) error {
		return fn(&faultyStore{Storage: tx, mu: f.mu, faults: f.faults})
	})
}

func (f *faultyStore) MarkSHUDistributed(ctx context.Context, id uuid.UUID) error {
	if err := f.take("MarkSHUDistributed"); err != nil {
		return err
	}
	return f.Storage.MarkSHUDistributed(ctx, id)
}

type fixture struct {
	store *faultyStore
	svc   *Service
	user  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := newFaultyStore(store.NewMemStore())
	user := &models.User{ID: uuid.New(), Name: "Bendahara", Role: "treasurer", CreatedAt: now}
	require.NoError(t, s.CreateUser(context.Background(), user))

	return &fixture{
		store: s,
		svc:   NewService(s, logger, WithClock(func() time.Time { return now })),
		user:  user.ID,
	}
}

func (f *fixture) member(t *testing.T, status models.MemberStatus, joined time.Time) uuid.UUID {
	t.Helper()
	m := &models.Member{ID: uuid.New(), Name: "anggota", Status: status, JoinedAt: joined}
	require.NoError(t, f.store.CreateMember(context.Background(), m))
	return m.ID
}

func (f *fixture) deposit(t *testing.T, memberID uuid.UUID, amount string, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateSavingsTransaction(context.Background(), &models.SavingsTransaction{
		ID: uuid.New(), MemberID: memberID, Type: models.SavingsTypeDeposit, Amount: dec(amount), TransactionDate: at,
	}))
}

func (f *fixture) loan(t *testing.T, memberID uuid.UUID, principal string, status models.LoanStatus, applied time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateLoan(context.Background(), &models.Loan{
		ID: uuid.New(), MemberID: memberID, Principal: dec(principal), InterestRate: decimal.Zero, TermMonths: 6,
		MonthlyPayment: decimal.Zero, RemainingBalance: decimal.Zero, Status: status, AppliedAt: applied, UpdatedAt: applied,
	}))
}

func sumShares(rows []*models.SHUDistribution) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.ShareAmount)
	}
	return sum
}

func byMember(rows []*models.SHUDistribution) map[uuid.UUID]*models.SHUDistribution {
	out := make(map[uuid.UUID]*models.SHUDistribution, len(rows))
	for _, r := range rows {
		out[r.MemberID] = r
	}
	return out
}

func TestCalculate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mid := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	saver := f.member(t, models.MemberStatusActive, mid)
	borrower := f.member(t, models.MemberStatusActive, mid.Add(time.Hour))
	idle := f.member(t, models.MemberStatusActive, mid.Add(2*time.Hour))
	former := f.member(t, models.MemberStatusInactive, mid)

	f.deposit(t, saver, "300", mid)
	f.deposit(t, former, "100", mid)
	f.deposit(t, saver, "5000", mid.AddDate(1, 0, 0))
	f.loan(t, borrower, "2000", models.LoanStatusActive, mid)

	calc, err := f.svc.Calculate(ctx, 2024, dec("10000"), f.user)
	require.NoError(t, err)
	assert.Equal(t, 2024, calc.Year)
	assert.False(t, calc.Distributed)
	assert.True(t, calc.MemberSharePercentage.Equal(dec("40")))
	assert.True(t, calc.TotalMemberShare.Equal(dec("4000")))
	assert.Equal(t, now, calc.CalculatedAt)

	rows, err := f.svc.GetDistributions(ctx, calc.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3, "one provisional row per active member")

	got := byMember(rows)
	assert.NotContains(t, got, former)
	for _, r := range rows {
		assert.Equal(t, models.DistributionPhaseProvisional, r.Phase)
		assert.Nil(t, r.DistributedAt)
	}
	// Savings half is 2000, split 300:100 with the inactive depositor.
	assert.True(t, got[saver].ShareAmount.Equal(dec("1500")), "saver %s", got[saver].ShareAmount)
	assert.True(t, got[saver].SavingsContribution.Equal(dec("300")))
	assert.True(t, got[borrower].ShareAmount.Equal(dec("2000")), "borrower %s", got[borrower].ShareAmount)
	assert.True(t, got[borrower].LoanContribution.Equal(dec("2000")))
	assert.True(t, got[idle].ShareAmount.IsZero())
}

func TestCalculate_NoContributions(t *testing.T) {
	f := newFixture(t)
	a := f.member(t, models.MemberStatusActive, now)

	calc, err := f.svc.Calculate(context.Background(), 2024, dec("500"), f.user)
	require.NoError(t, err)

	rows, err := f.svc.GetDistributions(context.Background(), calc.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a, rows[0].MemberID)
	assert.True(t, rows[0].ShareAmount.IsZero())
}

func TestCalculate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Calculate(ctx, 2024, dec("-1"), f.user)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Calculate(ctx, 0, dec("1"), f.user)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Calculate(ctx, 2024, dec("1"), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.Calculate(ctx, 2024, dec("1000"), f.user)
	require.NoError(t, err)
	_, err = f.svc.Calculate(ctx, 2024, dec("2000"), f.user)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCalculate_DuplicateYearReportedBeforeUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Calculate(ctx, 2024, dec("1000"), f.user)
	require.NoError(t, err)

	_, err = f.svc.Calculate(ctx, 2024, dec("1000"), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.Calculate(ctx, 2025, dec("1000"), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDistribute_EqualSplitWithoutContributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.member(t, models.MemberStatusActive, now.Add(time.Duration(i)*time.Minute))
	}

	calc, err := f.svc.Calculate(ctx, 2024, dec("1000"), f.user)
	require.NoError(t, err)

	rows, err := f.svc.Distribute(ctx, calc.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.True(t, r.ShareAmount.Equal(dec("100")), "share %s", r.ShareAmount)
		assert.Equal(t, models.DistributionPhaseFinal, r.Phase)
		require.NotNil(t, r.DistributedAt)
		assert.Equal(t, now, *r.DistributedAt)
	}
	assert.True(t, sumShares(rows).Equal(calc.TotalMemberShare))

	stored, err := f.svc.GetCalculation(ctx, calc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Distributed)

	all, err := f.svc.GetDistributions(ctx, calc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 8, "provisional and final rows are both kept")
	assert.Equal(t, models.DistributionPhaseProvisional, all[0].Phase)
	assert.Equal(t, models.DistributionPhaseFinal, all[7].Phase)
}

// Shares are kept to cents, so an equal split is exactly S/n only when n
// divides S in cents. Otherwise every member gets S/n floored to cents and
// the leftover cents go one each to the earliest members.
func TestDistribute_EqualSplitRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.member(t, models.MemberStatusActive, now.Add(time.Duration(i)*time.Minute))
	}

	calc, err := f.svc.Calculate(ctx, 2024, dec("1000"), f.user)
	require.NoError(t, err)
	rows, err := f.svc.Distribute(ctx, calc.ID)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.True(t, rows[0].ShareAmount.Equal(dec("133.34")), "first %s", rows[0].ShareAmount)
	assert.True(t, rows[1].ShareAmount.Equal(dec("133.33")), "second %s", rows[1].ShareAmount)
	assert.True(t, rows[2].ShareAmount.Equal(dec("133.33")), "third %s", rows[2].ShareAmount)
	assert.True(t, sumShares(rows).Equal(dec("400")))
}

func TestDistribute_Proportional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

	a := f.member(t, models.MemberStatusActive, old)
	b := f.member(t, models.MemberStatusActive, old.Add(time.Hour))
	c := f.member(t, models.MemberStatusActive, old.Add(2*time.Hour))
	former := f.member(t, models.MemberStatusInactive, old)

	f.deposit(t, a, "1000", old)
	f.loan(t, b, "2000", models.LoanStatusCompleted, old)
	f.loan(t, c, "9999", models.LoanStatusActive, old)
	f.deposit(t, c, "1000", old.AddDate(3, 0, 0))
	f.deposit(t, former, "50000", old)

	calc, err := f.svc.Calculate(ctx, 2024, dec("1234.57"), f.user)
	require.NoError(t, err)
	rows, err := f.svc.Distribute(ctx, calc.ID)
	require.NoError(t, err)

	got := byMember(rows)
	require.Len(t, got, 3)
	assert.NotContains(t, got, former)

	// Member share 493.828, contributions 1000:2000:1000. Floors leave 0.018,
	// a cent to a and the rest to c, which tie on the largest remainder.
	assert.True(t, got[a].ShareAmount.Equal(dec("123.46")), "a %s", got[a].ShareAmount)
	assert.True(t, got[b].ShareAmount.Equal(dec("246.91")), "b %s", got[b].ShareAmount)
	assert.True(t, got[c].ShareAmount.Equal(dec("123.458")), "c %s", got[c].ShareAmount)
	assert.True(t, got[b].LoanContribution.Equal(dec("2000")))
	assert.True(t, got[c].LoanContribution.IsZero(), "only completed loans count")
	assert.True(t, sumShares(rows).Equal(calc.TotalMemberShare), "sum %s", sumShares(rows))
}

func TestDistribute_NonContributorGetsNothing(t *testing.T) {
	cases := []struct {
		name     string
		profit   string
		deposits []string
		shares   []string
	}{
		{
			name:     "odd sub-cent pool",
			profit:   "1000.03",
			deposits: []string{"100", "100", "0"},
			shares:   []string{"200.01", "200.002", "0"},
		},
		{
			name:     "leftover cent",
			profit:   "250",
			deposits: []string{"1", "1", "1", "0"},
			shares:   []string{"33.34", "33.33", "33.33", "0"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			joined := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

			ids := make([]uuid.UUID, len(tc.deposits))
			for i, amount := range tc.deposits {
				ids[i] = f.member(t, models.MemberStatusActive, joined.Add(time.Duration(i)*time.Hour))
				if amount != "0" {
					f.deposit(t, ids[i], amount, joined)
				}
			}

			calc, err := f.svc.Calculate(ctx, 2024, dec(tc.profit), f.user)
			require.NoError(t, err)
			rows, err := f.svc.Distribute(ctx, calc.ID)
			require.NoError(t, err)

			got := byMember(rows)
			for i, id := range ids {
				assert.True(t, got[id].ShareAmount.Equal(dec(tc.shares[i])), "member %d got %s", i, got[id].ShareAmount)
			}
			assert.True(t, got[ids[len(ids)-1]].ShareAmount.IsZero())
			assert.True(t, sumShares(rows).Equal(calc.TotalMemberShare), "sum %s", sumShares(rows))
		})
	}
}

func TestDistribute_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Distribute(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	calc, err := f.svc.Calculate(ctx, 2024, dec("1000"), f.user)
	require.NoError(t, err)
	_, err = f.svc.Distribute(ctx, calc.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "no active members")

	f.member(t, models.MemberStatusActive, now)
	_, err = f.svc.Distribute(ctx, calc.ID)
	require.NoError(t, err)
	_, err = f.svc.Distribute(ctx, calc.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	rows, err := f.svc.GetDistributions(ctx, calc.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "a failed distribution writes nothing")
}

func TestDistribute_FlagFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.member(t, models.MemberStatusActive, now)
	f.member(t, models.MemberStatusActive, now.Add(time.Minute))

	calc, err := f.svc.Calculate(ctx, 2024, dec("1000"), f.user)
	require.NoError(t, err)

	f.store.failNext("MarkSHUDistributed", errors.New("connection reset"))
	_, err = f.svc.Distribute(ctx, calc.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInternal, apperrors.Kind(err))

	stored, err := f.svc.GetCalculation(ctx, calc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Distributed)
	rows, err := f.svc.GetDistributions(ctx, calc.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "only the provisional rows remain")

	rows, err = f.svc.Distribute(ctx, calc.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
