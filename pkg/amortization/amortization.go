// Package amortization computes fixed-payment loan schedules.
package amortization

import (
	"fmt"

	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept for every figure in a
// schedule. Display code rounds further.
const Precision int32 = 10

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// Entry is one month of a schedule.
type Entry struct {
	Month            int             `json:"month"`
	Principal        decimal.Decimal `json:"principal"`
	Interest         decimal.Decimal `json:"interest"`
	Total            decimal.Decimal `json:"total"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// Result is a full amortization of a loan.
type Result struct {
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalPayment   decimal.Decimal `json:"total_payment"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	Schedule       []Entry         `json:"schedule"`
}

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(hundred).Div(monthsInYear)
}

// MonthlyPayment returns the fixed annuity payment for the loan. With a zero
// rate the principal is split evenly.
func MonthlyPayment(principal, annualRatePercent decimal.Decimal, termMonths int) decimal.Decimal {
	r := MonthlyRate(annualRatePercent)
	n := decimal.NewFromInt(int64(termMonths))
	if r.IsZero() {
		return principal.Div(n).Round(Precision)
	}
	growth := compound(decimal.NewFromInt(1).Add(r), termMonths)
	return principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))).Round(Precision)
}

// compound returns base^n, rounding each step so the digit count stays bounded.
func compound(base decimal.Decimal, n int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		result = result.Mul(base).Round(2 * Precision)
	}
	return result
}

// ComputeSchedule amortizes principal over termMonths at annualRatePercent.
// The last month takes whatever balance is left, so the principal portions
// always sum to principal and the final remaining balance is exactly zero.
func ComputeSchedule(principal, annualRatePercent decimal.Decimal, termMonths int) (*Result, error) {
	if !principal.IsPositive() {
		return nil, apperrors.Validation("principal must be positive, got %s", principal)
	}
	if annualRatePercent.IsNegative() {
		return nil, apperrors.Validation("interest rate must not be negative, got %s", annualRatePercent)
	}
	if termMonths < 1 {
		return nil, apperrors.Validation("term must be at least one month, got %d", termMonths)
	}

	r := MonthlyRate(annualRatePercent)
	payment := MonthlyPayment(principal, annualRatePercent, termMonths)

	schedule := make([]Entry, 0, termMonths)
	remaining := principal
	totalPayment := decimal.Zero

	for month := 1; month <= termMonths; month++ {
		interest := remaining.Mul(r).Round(Precision)
		var portion, total decimal.Decimal
		if month == termMonths {
			portion = remaining
			total = portion.Add(interest)
			remaining = decimal.Zero
		} else {
			portion = payment.Sub(interest)
			total = payment
			remaining = remaining.Sub(portion)
		}
		totalPayment = totalPayment.Add(total)
		schedule = append(schedule, Entry{
			Month:            month,
			Principal:        portion,
			Interest:         interest,
			Total:            total,
			RemainingBalance: remaining,
		})
	}

	return &Result{
		MonthlyPayment: payment,
		TotalPayment:   totalPayment,
		TotalInterest:  totalPayment.Sub(principal),
		Schedule:       schedule,
	}, nil
}

// Simulation is a rounded, display-ready amortization.
type Simulation struct {
	Amount            decimal.Decimal `json:"amount"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months"`
	Result
}

// Simulate runs ComputeSchedule and rounds every figure to cents.
func Simulate(amount, annualRatePercent decimal.Decimal, termMonths int) (*Simulation, error) {
	res, err := ComputeSchedule(amount, annualRatePercent, termMonths)
	if err != nil {
		return nil, fmt.Errorf("simulate loan: %w", err)
	}
	sim := &Simulation{
		Amount:            amount,
		AnnualRatePercent: annualRatePercent,
		TermMonths:        termMonths,
		Result: Result{
			MonthlyPayment: res.MonthlyPayment.Round(2),
			TotalPayment:   res.TotalPayment.Round(2),
			TotalInterest:  res.TotalInterest.Round(2),
			Schedule:       make([]Entry, len(res.Schedule)),
		},
	}
	for i, e := range res.Schedule {
		sim.Schedule[i] = Entry{
			Month:            e.Month,
			Principal:        e.Principal.Round(2),
			Interest:         e.Interest.Round(2),
			Total:            e.Total.Round(2),
			RemainingBalance: e.RemainingBalance.Round(2),
		}
	}
	return sim, nil
}
