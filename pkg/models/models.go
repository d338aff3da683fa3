package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusApproved  LoanStatus = "approved"
	LoanStatusRejected  LoanStatus = "rejected"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
	LoanStatusOverdue   LoanStatus = "overdue"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusPending, LoanStatusApproved, LoanStatusRejected,
		LoanStatusActive, LoanStatusCompleted, LoanStatusOverdue:
		return true
	}
	return false
}

type Loan struct {
	ID               uuid.UUID       `json:"id"`
	MemberID         uuid.UUID       `json:"member_id"`
	Principal        decimal.Decimal `json:"principal"`
	InterestRate     decimal.Decimal `json:"interest_rate"`     // Annual rate in percent, set on approval
	TermMonths       int             `json:"term_months"`
	MonthlyPayment   decimal.Decimal `json:"monthly_payment"`   // Zero until approved
	RemainingBalance decimal.Decimal `json:"remaining_balance"` // Zero until approved
	Status           LoanStatus      `json:"status"`
	Purpose          string          `json:"purpose,omitempty"`
	Notes            string          `json:"notes,omitempty"` // Approver's notes
	AppliedAt        time.Time       `json:"applied_at"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"` // Also set on rejection
	ApprovedBy       *uuid.UUID      `json:"approved_by,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusLate    InstallmentStatus = "late"
	InstallmentStatusMissed  InstallmentStatus = "missed"
)

// Installment is one entry of a loan's payment schedule.
type Installment struct {
	ID                uuid.UUID         `json:"id"`
	LoanID            uuid.UUID         `json:"loan_id"`
	InstallmentNumber int               `json:"installment_number"`
	DueDate           time.Time         `json:"due_date"`
	Principal         decimal.Decimal   `json:"principal"`
	Interest          decimal.Decimal   `json:"interest"`
	TotalDue          decimal.Decimal   `json:"total_due"`
	PaidAmount        decimal.Decimal   `json:"paid_amount"`
	PaidDate          *time.Time        `json:"paid_date,omitempty"`
	Status            InstallmentStatus `json:"status"`
	LateFee           decimal.Decimal   `json:"late_fee"`
	Version           int               `json:"version"` // Bumped on every update
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type PaymentMethod string

const (
	PaymentMethodCash             PaymentMethod = "cash"
	PaymentMethodBankTransfer     PaymentMethod = "bank_transfer"
	PaymentMethodSavingsDeduction PaymentMethod = "savings_deduction"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodSavingsDeduction:
		return true
	}
	return false
}

// Payment records a single amount applied to an installment.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	InstallmentID uuid.UUID       `json:"installment_id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Notes         string          `json:"notes,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
}

type SHUCalculation struct {
	ID                    uuid.UUID       `json:"id"`
	Year                  int             `json:"year"`
	TotalProfit           decimal.Decimal `json:"total_profit"`
	MemberSharePercentage decimal.Decimal `json:"member_share_percentage"`
	TotalMemberShare      decimal.Decimal `json:"total_member_share"`
	CalculatedBy          uuid.UUID       `json:"calculated_by"`
	CalculatedAt          time.Time       `json:"calculated_at"`
	Distributed           bool            `json:"distributed"`
}

type DistributionPhase string

const (
	// DistributionPhaseProvisional rows are written when the SHU is calculated.
	DistributionPhaseProvisional DistributionPhase = "provisional"
	// DistributionPhaseFinal rows are written when the SHU is distributed.
	DistributionPhaseFinal DistributionPhase = "final"
)

type SHUDistribution struct {
	ID                  uuid.UUID         `json:"id"`
	CalculationID       uuid.UUID         `json:"calculation_id"`
	MemberID            uuid.UUID         `json:"member_id"`
	Phase               DistributionPhase `json:"phase"`
	SavingsContribution decimal.Decimal   `json:"savings_contribution"`
	LoanContribution    decimal.Decimal   `json:"loan_contribution"`
	ShareAmount         decimal.Decimal   `json:"share_amount"`
	DistributedAt       *time.Time        `json:"distributed_at,omitempty"`
}

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusInactive  MemberStatus = "inactive"
	MemberStatusSuspended MemberStatus = "suspended"
)

// Member is the registry's view of a cooperative member.
type Member struct {
	ID       uuid.UUID    `json:"id"`
	Name     string       `json:"name"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joined_at"`
}

// User is a staff account that approves loans and computes SHU.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type SavingsType string

const (
	SavingsTypeDeposit    SavingsType = "deposit"
	SavingsTypeWithdrawal SavingsType = "withdrawal"
)

type SavingsTransaction struct {
	ID              uuid.UUID       `json:"id"`
	MemberID        uuid.UUID       `json:"member_id"`
	Type            SavingsType     `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionDate time.Time       `json:"transaction_date"`
}
