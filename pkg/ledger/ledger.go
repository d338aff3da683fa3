package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/amortization"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/mcclellann/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultInterestRate is the annual rate, in percent, applied when an
// approval does not name one.
var DefaultInterestRate = decimal.NewFromInt(12)

// Ledger handles the loan lifecycle: applications, approvals, schedules and
// installment payments.
type Ledger struct {
	storage     store.Storage
	logger      *logrus.Logger
	now         func() time.Time
	defaultRate decimal.Decimal
}

type Option func(*Ledger)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDefaultInterestRate overrides DefaultInterestRate.
func WithDefaultInterestRate(rate decimal.Decimal) Option {
	return func(l *Ledger) { l.defaultRate = rate }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *logrus.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:     s,
		logger:      logger,
		now:         time.Now,
		defaultRate: DefaultInterestRate,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyLoan records a pending loan application for an active member.
func (l *Ledger) ApplyLoan(ctx context.Context, memberID uuid.UUID, principal decimal.Decimal, termMonths int, purpose string) (*models.Loan, error) {
	if !principal.IsPositive() {
		return nil, apperrors.Validation("principal must be positive, got %s", principal)
	}
	if termMonths < 1 {
		return nil, apperrors.Validation("term must be at least one month, got %d", termMonths)
	}

	now := l.now()
	loan := &models.Loan{
		ID:               uuid.New(),
		MemberID:         memberID,
		Principal:        principal,
		InterestRate:     decimal.Zero,
		TermMonths:       termMonths,
		MonthlyPayment:   decimal.Zero,
		RemainingBalance: decimal.Zero,
		Status:           models.LoanStatusPending,
		Purpose:          purpose,
		AppliedAt:        now,
		UpdatedAt:        now,
	}

	err := l.storage.WithTx(ctx, func(tx store.Storage) error {
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member.Status != models.MemberStatusActive {
			return apperrors.InvalidState("member %s is %s, only active members may apply", memberID, member.Status)
		}
		return tx.CreateLoan(ctx, loan)
	})
	if err != nil {
		l.logger.WithError(err).WithField("member_id", memberID).Warn("Loan application rejected")
		return nil, fmt.Errorf("apply loan: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"member_id": memberID,
		"principal": principal.StringFixed(2),
		"term":      termMonths,
	}).Info("Loan application recorded")
	return loan, nil
}

// Approval is a decision on a pending loan.
type Approval struct {
	LoanID       uuid.UUID
	Approved     bool
	InterestRate *decimal.Decimal // Annual percent; nil means the default rate
	Notes        string
	ApproverID   uuid.UUID
}

// ApproveLoan approves or rejects a pending loan. An approval generates the
// installment schedule; the loan update and the schedule are written in one
// transaction.
func (l *Ledger) ApproveLoan(ctx context.Context, a Approval) (*models.Loan, error) {
	var result *models.Loan
	var installments int

	err := l.storage.WithTx(ctx, func(tx store.Storage) error {
		loan, err := tx.GetLoan(ctx, a.LoanID)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, a.ApproverID); err != nil {
			return err
		}
		if loan.Status != models.LoanStatusPending {
			return apperrors.InvalidState("loan %s is not pending approval (status %s)", loan.ID, loan.Status)
		}

		now := l.now()
		approver := a.ApproverID
		loan.ApprovedAt = &now
		loan.ApprovedBy = &approver
		loan.Notes = a.Notes
		loan.UpdatedAt = now

		if !a.Approved {
			loan.Status = models.LoanStatusRejected
			result = loan
			return tx.UpdateLoan(ctx, loan)
		}

		rate := l.defaultRate
		if a.InterestRate != nil {
			rate = *a.InterestRate
		}
		plan, err := amortization.ComputeSchedule(loan.Principal, rate, loan.TermMonths)
		if err != nil {
			return err
		}

		loan.Status = models.LoanStatusApproved
		loan.InterestRate = rate
		loan.MonthlyPayment = plan.MonthlyPayment
		loan.RemainingBalance = loan.Principal
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		schedule := buildInstallments(loan.ID, plan, now)
		if err := tx.CreateInstallments(ctx, schedule); err != nil {
			return err
		}
		installments = len(schedule)
		result = loan
		return nil
	})
	if err != nil {
		l.logger.WithError(err).WithField("loan_id", a.LoanID).Warn("Loan approval failed")
		return nil, fmt.Errorf("approve loan: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":      result.ID,
		"status":       result.Status,
		"approver_id":  a.ApproverID,
		"installments": installments,
	}).Info("Loan decision recorded")
	return result, nil
}

// addMonths moves t forward n calendar months, clamping the day to the end
// of the target month so Jan 31 becomes Feb 28 instead of Mar 3.
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	lastDay := time.Date(year, month+time.Month(n)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+time.Month(n), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// buildInstallments materializes a schedule with due dates one calendar
// month apart, the first falling one month after start.
func buildInstallments(loanID uuid.UUID, plan *amortization.Result, start time.Time) []*models.Installment {
	installments := make([]*models.Installment, 0, len(plan.Schedule))
	for _, entry := range plan.Schedule {
		installments = append(installments, &models.Installment{
			ID:                uuid.New(),
			LoanID:            loanID,
			InstallmentNumber: entry.Month,
			DueDate:           addMonths(start, entry.Month),
			Principal:         entry.Principal,
			Interest:          entry.Interest,
			TotalDue:          entry.Principal.Add(entry.Interest),
			PaidAmount:        decimal.Zero,
			Status:            models.InstallmentStatusPending,
			LateFee:           decimal.Zero,
			CreatedAt:         start,
			UpdatedAt:         start,
		})
	}
	return installments
}

// WithdrawLoan deletes a loan application that has not been decided yet.
func (l *Ledger) WithdrawLoan(ctx context.Context, id uuid.UUID) error {
	err := l.storage.WithTx(ctx, func(tx store.Storage) error {
		loan, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusPending {
			return apperrors.InvalidState("loan %s is %s, only pending applications can be withdrawn", id, loan.Status)
		}
		return tx.DeleteLoan(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("withdraw loan: %w", err)
	}
	l.logger.WithField("loan_id", id).Info("Loan application withdrawn")
	return nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// ListLoans returns every loan, or only those in status when it is non-empty.
func (l *Ledger) ListLoans(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	if status == "" {
		return l.storage.GetAllLoans(ctx)
	}
	if !status.Valid() {
		return nil, apperrors.Validation("unknown loan status %q", status)
	}
	return l.storage.GetLoansByStatus(ctx, status)
}

// GetPaymentSchedules returns a loan's installments by installment number.
func (l *Ledger) GetPaymentSchedules(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetInstallmentsForLoan(ctx, loanID)
}

// GetLoanPayments returns the payments recorded against a loan, oldest first.
func (l *Ledger) GetLoanPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentsForLoan(ctx, loanID)
}
