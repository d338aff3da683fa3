package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/models"
)

// Storage defines the interface for database operations on loans, schedules,
// SHU records and the collaborator data they are computed from.
//
// Lookups of missing rows return an error wrapping apperrors.ErrNotFound.
type Storage interface {
	// WithTx runs fn against a Storage bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Writers are serialized for the duration of the transaction.
	WithTx(ctx context.Context, fn func(tx Storage) error) error

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error)
	GetLoansAppliedBetween(ctx context.Context, from, to time.Time) ([]*models.Loan, error)

	CreateInstallments(ctx context.Context, installments []*models.Installment) error
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	// GetInstallmentsForLoan returns the schedule ordered by installment number.
	GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	// UpdateInstallment writes inst if its stored version still equals
	// inst.Version and bumps the version. A stale version is a conflict.
	UpdateInstallment(ctx context.Context, inst *models.Installment) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)

	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error)
	GetActiveMembers(ctx context.Context) ([]*models.Member, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	CreateSavingsTransaction(ctx context.Context, st *models.SavingsTransaction) error
	// GetSavingsDeposits returns deposits dated within [from, to]. A nil bound
	// is open.
	GetSavingsDeposits(ctx context.Context, from, to *time.Time) ([]*models.SavingsTransaction, error)

	// CreateSHUCalculation fails with a conflict if the year already has one.
	CreateSHUCalculation(ctx context.Context, calc *models.SHUCalculation) error
	GetSHUCalculation(ctx context.Context, id uuid.UUID) (*models.SHUCalculation, error)
	GetSHUCalculationByYear(ctx context.Context, year int) (*models.SHUCalculation, error)
	// MarkSHUDistributed flips the distributed flag; it fails with a conflict
	// if the flag is already set.
	MarkSHUDistributed(ctx context.Context, id uuid.UUID) error
	CreateSHUDistributions(ctx context.Context, dists []*models.SHUDistribution) error
	GetSHUDistributions(ctx context.Context, calculationID uuid.UUID) ([]*models.SHUDistribution, error)

	Close() error
}

var (
	_ Storage = (*SQLiteStore)(nil)
	_ Storage = (*MemStore)(nil)
)
