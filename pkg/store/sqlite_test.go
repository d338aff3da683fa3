package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"), logger)
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

// storeFactories runs the shared contract tests against both implementations.
func storeFactories(t *testing.T) map[string]func() Storage {
	return map[string]func() Storage{
		"sqlite": func() Storage { return newTestSQLiteStore(t) },
		"memory": func() Storage { return NewMemStore() },
	}
}

func seedMember(t *testing.T, s Storage, status models.MemberStatus) *models.Member {
	t.Helper()
	m := &models.Member{ID: uuid.New(), Name: "Siti", Status: status, JoinedAt: time.Now().UTC()}
	require.NoError(t, s.CreateMember(context.Background(), m))
	return m
}

func seedLoan(t *testing.T, s Storage, memberID uuid.UUID, appliedAt time.Time) *models.Loan {
	t.Helper()
	loan := &models.Loan{
		ID:         uuid.New(),
		MemberID:   memberID,
		Principal:  decimal.NewFromFloat(2000.50),
		TermMonths: 6,
		Status:     models.LoanStatusPending,
		Purpose:    "modal usaha",
		AppliedAt:  appliedAt,
		UpdatedAt:  appliedAt,
	}
	require.NoError(t, s.CreateLoan(context.Background(), loan))
	return loan
}

func TestStore_CreateAndGetLoan(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			loan := seedLoan(t, s, member.ID, time.Now().UTC())

			fetched, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, loan.MemberID, fetched.MemberID)
			assert.True(t, fetched.Principal.Equal(loan.Principal), "principal %s", fetched.Principal)
			assert.Equal(t, models.LoanStatusPending, fetched.Status)
			assert.Nil(t, fetched.ApprovedAt)
			assert.Nil(t, fetched.ApprovedBy)

			_, err = s.GetLoan(ctx, uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStore_CreateLoanUnknownMember(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			loan := &models.Loan{ID: uuid.New(), MemberID: uuid.New(), Principal: decimal.NewFromInt(1), TermMonths: 1,
				Status: models.LoanStatusPending, AppliedAt: time.Now(), UpdatedAt: time.Now()}
			err := s.CreateLoan(context.Background(), loan)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStore_UpdateLoanApproval(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			loan := seedLoan(t, s, member.ID, time.Now().UTC())

			approver := uuid.New()
			now := time.Now().UTC()
			loan.Status = models.LoanStatusApproved
			loan.InterestRate = decimal.NewFromInt(12)
			loan.MonthlyPayment = decimal.RequireFromString("345.1234567891")
			loan.RemainingBalance = loan.Principal
			loan.ApprovedAt = &now
			loan.ApprovedBy = &approver
			require.NoError(t, s.UpdateLoan(ctx, loan))

			fetched, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, models.LoanStatusApproved, fetched.Status)
			assert.True(t, fetched.MonthlyPayment.Equal(loan.MonthlyPayment))
			require.NotNil(t, fetched.ApprovedBy)
			assert.Equal(t, approver, *fetched.ApprovedBy)
			require.NotNil(t, fetched.ApprovedAt)

			missing := *loan
			missing.ID = uuid.New()
			assert.ErrorIs(t, s.UpdateLoan(ctx, &missing), apperrors.ErrNotFound)
		})
	}
}

func newSchedule(loanID uuid.UUID, n int, start time.Time) []*models.Installment {
	var schedule []*models.Installment
	for i := 1; i <= n; i++ {
		schedule = append(schedule, &models.Installment{
			ID:                uuid.New(),
			LoanID:            loanID,
			InstallmentNumber: i,
			DueDate:           start.AddDate(0, i, 0),
			Principal:         decimal.NewFromInt(100),
			Interest:          decimal.NewFromInt(5),
			TotalDue:          decimal.NewFromInt(105),
			Status:            models.InstallmentStatusPending,
			CreatedAt:         start,
			UpdatedAt:         start,
		})
	}
	return schedule
}

func TestStore_Installments(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			loan := seedLoan(t, s, member.ID, time.Now().UTC())

			schedule := newSchedule(loan.ID, 3, time.Now().UTC())
			// Insert out of order to check the read is sorted.
			require.NoError(t, s.CreateInstallments(ctx, []*models.Installment{schedule[2], schedule[0], schedule[1]}))

			fetched, err := s.GetInstallmentsForLoan(ctx, loan.ID)
			require.NoError(t, err)
			require.Len(t, fetched, 3)
			for i, inst := range fetched {
				assert.Equal(t, i+1, inst.InstallmentNumber)
				assert.True(t, inst.TotalDue.Equal(decimal.NewFromInt(105)))
				assert.True(t, inst.PaidAmount.IsZero())
			}

			dup := newSchedule(loan.ID, 1, time.Now().UTC())
			assert.ErrorIs(t, s.CreateInstallments(ctx, dup), apperrors.ErrConflict)
		})
	}
}

func TestStore_UpdateInstallmentVersionCheck(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			loan := seedLoan(t, s, member.ID, time.Now().UTC())
			require.NoError(t, s.CreateInstallments(ctx, newSchedule(loan.ID, 1, time.Now().UTC())))
			schedule, err := s.GetInstallmentsForLoan(ctx, loan.ID)
			require.NoError(t, err)

			first := schedule[0]
			stale := *first

			first.PaidAmount = decimal.NewFromInt(50)
			first.UpdatedAt = time.Now().UTC()
			require.NoError(t, s.UpdateInstallment(ctx, first))
			assert.Equal(t, 1, first.Version)

			stale.PaidAmount = decimal.NewFromInt(70)
			assert.ErrorIs(t, s.UpdateInstallment(ctx, &stale), apperrors.ErrConflict)

			fetched, err := s.GetInstallment(ctx, first.ID)
			require.NoError(t, err)
			assert.True(t, fetched.PaidAmount.Equal(decimal.NewFromInt(50)))

			missing := *first
			missing.ID = uuid.New()
			assert.ErrorIs(t, s.UpdateInstallment(ctx, &missing), apperrors.ErrNotFound)
		})
	}
}

func TestStore_WithTxRollsBack(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			loan := seedLoan(t, s, member.ID, time.Now().UTC())

			boom := errors.New("boom")
			err := s.WithTx(ctx, func(tx Storage) error {
				loan.Status = models.LoanStatusApproved
				if err := tx.UpdateLoan(ctx, loan); err != nil {
					return err
				}
				if err := tx.CreateInstallments(ctx, newSchedule(loan.ID, 2, time.Now().UTC())); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			fetched, err := s.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, models.LoanStatusPending, fetched.Status)
			schedule, err := s.GetInstallmentsForLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Empty(t, schedule)
		})
	}
}

func TestStore_Payments(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			loan := seedLoan(t, s, member.ID, time.Now().UTC())
			schedule := newSchedule(loan.ID, 1, time.Now().UTC())
			require.NoError(t, s.CreateInstallments(ctx, schedule))

			amount := decimal.NewFromFloat(50.25)
			payment := &models.Payment{
				ID:            uuid.New(),
				InstallmentID: schedule[0].ID,
				LoanID:        loan.ID,
				Amount:        amount,
				Method:        models.PaymentMethodCash,
				Notes:         "loket",
				PaidAt:        time.Now().UTC(),
			}
			require.NoError(t, s.CreatePayment(ctx, payment), "Failed to create payment")

			payments, err := s.GetPaymentsForLoan(ctx, loan.ID)
			require.NoError(t, err, "Failed to get payments")
			require.Len(t, payments, 1)
			assert.True(t, payments[0].Amount.Equal(amount), "Expected amount %s, got %s", amount, payments[0].Amount)
			assert.Equal(t, models.PaymentMethodCash, payments[0].Method)

			require.NoError(t, s.DeleteLoan(ctx, loan.ID))
			payments, err = s.GetPaymentsForLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Empty(t, payments)
			assert.ErrorIs(t, s.DeleteLoan(ctx, loan.ID), apperrors.ErrNotFound)
		})
	}
}

func TestStore_LoanQueries(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)

			inYear := seedLoan(t, s, member.ID, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
			seedLoan(t, s, member.ID, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC))
			completed := seedLoan(t, s, member.ID, time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC))
			completed.Status = models.LoanStatusCompleted
			require.NoError(t, s.UpdateLoan(ctx, completed))

			loans, err := s.GetLoansAppliedBetween(ctx,
				time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC))
			require.NoError(t, err)
			require.Len(t, loans, 1)
			assert.Equal(t, inYear.ID, loans[0].ID)

			done, err := s.GetLoansByStatus(ctx, models.LoanStatusCompleted)
			require.NoError(t, err)
			require.Len(t, done, 1)
			assert.Equal(t, completed.ID, done[0].ID)

			all, err := s.GetAllLoans(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, completed.ID, all[0].ID)
		})
	}
}

func TestStore_MembersAndSavings(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			active := seedMember(t, s, models.MemberStatusActive)
			seedMember(t, s, models.MemberStatusInactive)

			members, err := s.GetActiveMembers(ctx)
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.Equal(t, active.ID, members[0].ID)

			_, err = s.GetMember(ctx, uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrNotFound)

			dates := []time.Time{
				time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			}
			for _, d := range dates {
				require.NoError(t, s.CreateSavingsTransaction(ctx, &models.SavingsTransaction{
					ID: uuid.New(), MemberID: active.ID, Type: models.SavingsTypeDeposit, Amount: decimal.NewFromInt(100), TransactionDate: d,
				}))
			}
			require.NoError(t, s.CreateSavingsTransaction(ctx, &models.SavingsTransaction{
				ID: uuid.New(), MemberID: active.ID, Type: models.SavingsTypeWithdrawal, Amount: decimal.NewFromInt(40), TransactionDate: dates[1],
			}))

			all, err := s.GetSavingsDeposits(ctx, nil, nil)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
			inYear, err := s.GetSavingsDeposits(ctx, &from, &to)
			require.NoError(t, err)
			require.Len(t, inYear, 1)
			assert.True(t, inYear[0].TransactionDate.Equal(dates[1]))
		})
	}
}

func TestStore_SHURecords(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			ctx := context.Background()
			member := seedMember(t, s, models.MemberStatusActive)
			user := &models.User{ID: uuid.New(), Name: "Bendahara", Role: "treasurer", CreatedAt: time.Now().UTC()}
			require.NoError(t, s.CreateUser(ctx, user))

			calc := &models.SHUCalculation{
				ID:                    uuid.New(),
				Year:                  2024,
				TotalProfit:           decimal.NewFromInt(1000000),
				MemberSharePercentage: decimal.NewFromInt(40),
				TotalMemberShare:      decimal.NewFromInt(400000),
				CalculatedBy:          user.ID,
				CalculatedAt:          time.Now().UTC(),
			}
			require.NoError(t, s.CreateSHUCalculation(ctx, calc))

			again := *calc
			again.ID = uuid.New()
			assert.ErrorIs(t, s.CreateSHUCalculation(ctx, &again), apperrors.ErrConflict)

			now := time.Now().UTC()
			require.NoError(t, s.CreateSHUDistributions(ctx, []*models.SHUDistribution{
				{ID: uuid.New(), CalculationID: calc.ID, MemberID: member.ID, Phase: models.DistributionPhaseFinal,
					SavingsContribution: decimal.NewFromInt(10), LoanContribution: decimal.Zero, ShareAmount: decimal.NewFromInt(400000), DistributedAt: &now},
				{ID: uuid.New(), CalculationID: calc.ID, MemberID: member.ID, Phase: models.DistributionPhaseProvisional,
					SavingsContribution: decimal.NewFromInt(10), LoanContribution: decimal.Zero, ShareAmount: decimal.NewFromInt(200000)},
			}))

			dists, err := s.GetSHUDistributions(ctx, calc.ID)
			require.NoError(t, err)
			require.Len(t, dists, 2)
			assert.Equal(t, models.DistributionPhaseProvisional, dists[0].Phase)
			assert.Nil(t, dists[0].DistributedAt)
			assert.Equal(t, models.DistributionPhaseFinal, dists[1].Phase)
			assert.NotNil(t, dists[1].DistributedAt)

			require.NoError(t, s.MarkSHUDistributed(ctx, calc.ID))
			assert.ErrorIs(t, s.MarkSHUDistributed(ctx, calc.ID), apperrors.ErrConflict)
			assert.ErrorIs(t, s.MarkSHUDistributed(ctx, uuid.New()), apperrors.ErrNotFound)

			fetched, err := s.GetSHUCalculation(ctx, calc.ID)
			require.NoError(t, err)
			assert.True(t, fetched.Distributed)
			assert.True(t, fetched.TotalMemberShare.Equal(calc.TotalMemberShare))

			byYear, err := s.GetSHUCalculationByYear(ctx, 2024)
			require.NoError(t, err)
			assert.Equal(t, calc.ID, byYear.ID)
			assert.True(t, byYear.Distributed)
			_, err = s.GetSHUCalculationByYear(ctx, 2023)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStore_SHUCalculationUnknownUser(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			calc := &models.SHUCalculation{ID: uuid.New(), Year: 2024, TotalProfit: decimal.NewFromInt(1),
				MemberSharePercentage: decimal.NewFromInt(40), TotalMemberShare: decimal.NewFromFloat(0.4),
				CalculatedBy: uuid.New(), CalculatedAt: time.Now()}
			assert.ErrorIs(t, s.CreateSHUCalculation(context.Background(), calc), apperrors.ErrNotFound)
		})
	}
}
