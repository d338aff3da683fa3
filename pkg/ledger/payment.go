package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/mcclellann/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const lateFeePeriod = 30 * 24 * time.Hour

var (
	// lateFeeRate is charged per started 30-day period past the due date.
	lateFeeRate = decimal.NewFromFloat(0.01)

	// settlementTolerance absorbs sub-cent drift when deciding whether an
	// installment is fully paid.
	settlementTolerance = decimal.New(5, -3)
)

func settled(paid, due decimal.Decimal) bool {
	return paid.Add(settlementTolerance).GreaterThanOrEqual(due)
}

// lateFee returns the fee for an installment paid at now, counting each
// started 30-day period past the due date.
func lateFee(totalDue decimal.Decimal, due, now time.Time) decimal.Decimal {
	overdue := now.Sub(due)
	periods := int64(overdue / lateFeePeriod)
	if overdue%lateFeePeriod != 0 {
		periods++
	}
	return totalDue.Mul(lateFeeRate).Mul(decimal.NewFromInt(periods))
}

// ProcessPayment applies amount to an installment. Partial payments
// accumulate and overpayment is kept as paid. The installment, the payment
// record and the owning loan's progress are written in one transaction, and
// the installment update is version-checked so concurrent payments cannot
// lose each other's amounts.
func (l *Ledger) ProcessPayment(ctx context.Context, installmentID uuid.UUID, amount decimal.Decimal, method models.PaymentMethod, notes string) (*models.Installment, error) {
	if !amount.IsPositive() {
		return nil, apperrors.Validation("payment amount must be positive, got %s", amount)
	}
	if !method.Valid() {
		return nil, apperrors.Validation("unknown payment method %q", method)
	}

	var result *models.Installment
	err := l.storage.WithTx(ctx, func(tx store.Storage) error {
		inst, err := tx.GetInstallment(ctx, installmentID)
		if err != nil {
			return err
		}
		if settled(inst.PaidAmount, inst.TotalDue) {
			return apperrors.Conflict("installment %s already fully paid", inst.ID)
		}

		now := l.now()
		overdue := now.After(inst.DueDate)
		wasPaid := inst.Status == models.InstallmentStatusPaid

		if overdue && inst.Status == models.InstallmentStatusPending && inst.LateFee.IsZero() {
			inst.LateFee = lateFee(inst.TotalDue, inst.DueDate, now)
		}

		inst.PaidAmount = inst.PaidAmount.Add(amount)
		switch {
		case settled(inst.PaidAmount, inst.TotalDue):
			inst.Status = models.InstallmentStatusPaid
			inst.PaidDate = &now
		case overdue:
			inst.Status = models.InstallmentStatusLate
		}
		inst.UpdatedAt = now

		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return err
		}

		payment := &models.Payment{
			ID:            uuid.New(),
			InstallmentID: inst.ID,
			LoanID:        inst.LoanID,
			Amount:        amount,
			Method:        method,
			Notes:         notes,
			PaidAt:        now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}

		if err := l.updateLoanProgress(ctx, tx, inst, !wasPaid && inst.Status == models.InstallmentStatusPaid, now); err != nil {
			return err
		}
		result = inst
		return nil
	})
	if err != nil {
		l.logger.WithError(err).WithField("installment_id", installmentID).Warn("Payment failed")
		return nil, fmt.Errorf("process payment: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"installment_id": result.ID,
		"loan_id":        result.LoanID,
		"amount":         amount.StringFixed(2),
		"paid":           result.PaidAmount.StringFixed(2),
		"status":         result.Status,
		"late_fee":       result.LateFee.StringFixed(2),
	}).Info("Payment applied")
	return result, nil
}

// updateLoanProgress moves the owning loan along after a payment: the
// principal of a newly settled installment leaves the remaining balance, and
// the loan status follows its schedule.
func (l *Ledger) updateLoanProgress(ctx context.Context, tx store.Storage, inst *models.Installment, newlySettled bool, now time.Time) error {
	loan, err := tx.GetLoan(ctx, inst.LoanID)
	if err != nil {
		return err
	}
	switch loan.Status {
	case models.LoanStatusApproved, models.LoanStatusActive, models.LoanStatusOverdue:
	default:
		return nil
	}

	if newlySettled {
		loan.RemainingBalance = decimal.Max(loan.RemainingBalance.Sub(inst.Principal), decimal.Zero)
	}

	schedule, err := tx.GetInstallmentsForLoan(ctx, loan.ID)
	if err != nil {
		return err
	}
	allPaid, anyLate := true, false
	for _, s := range schedule {
		if s.Status != models.InstallmentStatusPaid {
			allPaid = false
		}
		if s.Status == models.InstallmentStatusLate {
			anyLate = true
		}
	}

	switch {
	case allPaid:
		loan.Status = models.LoanStatusCompleted
		loan.RemainingBalance = decimal.Zero
	case anyLate:
		loan.Status = models.LoanStatusOverdue
	default:
		loan.Status = models.LoanStatusActive
	}
	loan.UpdatedAt = now

	if err := tx.UpdateLoan(ctx, loan); err != nil {
		return err
	}
	if loan.Status == models.LoanStatusCompleted {
		l.logger.WithField("loan_id", loan.ID).Info("Loan fully repaid")
	}
	return nil
}
