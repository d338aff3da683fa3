// Package contribution measures how much each member put into the
// cooperative: savings deposited and loan principal taken. SHU shares are
// allocated in proportion to these figures.
package contribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/shopspring/decimal"
)

// Source is the slice of the store the aggregator reads from. A
// store.Storage, including one bound to a transaction, satisfies it.
type Source interface {
	GetActiveMembers(ctx context.Context) ([]*models.Member, error)
	GetSavingsDeposits(ctx context.Context, from, to *time.Time) ([]*models.SavingsTransaction, error)
	GetLoansAppliedBetween(ctx context.Context, from, to time.Time) ([]*models.Loan, error)
	GetLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error)
}

// Totals is one member's contribution.
type Totals struct {
	Savings decimal.Decimal
	Loans   decimal.Decimal
}

// Combined is savings plus loans.
func (t Totals) Combined() decimal.Decimal {
	return t.Savings.Add(t.Loans)
}

// Contributions maps member id to that member's totals. Every active member
// has an entry, zero if they had no activity.
type Contributions map[uuid.UUID]Totals

// Get returns the member's totals, zero when the member is absent.
func (c Contributions) Get(memberID uuid.UUID) Totals {
	t, ok := c[memberID]
	if !ok {
		return Totals{Savings: decimal.Zero, Loans: decimal.Zero}
	}
	return t
}

// Sum adds up every entry, active member or not.
func (c Contributions) Sum() Totals {
	sum := Totals{Savings: decimal.Zero, Loans: decimal.Zero}
	for _, t := range c {
		sum.Savings = sum.Savings.Add(t.Savings)
		sum.Loans = sum.Loans.Add(t.Loans)
	}
	return sum
}

type Aggregator struct {
	src Source
}

func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// Window sums deposits dated in [from, to] and the principal of loans
// applied for in the same window, whatever their status.
func (a *Aggregator) Window(ctx context.Context, from, to time.Time) (Contributions, error) {
	deposits, err := a.src.GetSavingsDeposits(ctx, &from, &to)
	if err != nil {
		return nil, fmt.Errorf("load deposits: %w", err)
	}
	loans, err := a.src.GetLoansAppliedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load loans: %w", err)
	}
	return a.collect(ctx, deposits, loans)
}

// Lifetime sums every deposit ever made and the principal of every
// completed loan.
func (a *Aggregator) Lifetime(ctx context.Context) (Contributions, error) {
	deposits, err := a.src.GetSavingsDeposits(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load deposits: %w", err)
	}
	loans, err := a.src.GetLoansByStatus(ctx, models.LoanStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("load loans: %w", err)
	}
	return a.collect(ctx, deposits, loans)
}

func (a *Aggregator) collect(ctx context.Context, deposits []*models.SavingsTransaction, loans []*models.Loan) (Contributions, error) {
	members, err := a.src.GetActiveMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active members: %w", err)
	}

	out := make(Contributions, len(members))
	for _, m := range members {
		out[m.ID] = Totals{Savings: decimal.Zero, Loans: decimal.Zero}
	}
	for _, d := range deposits {
		t := out.Get(d.MemberID)
		t.Savings = t.Savings.Add(d.Amount)
		out[d.MemberID] = t
	}
	for _, l := range loans {
		t := out.Get(l.MemberID)
		t.Loans = t.Loans.Add(l.Principal)
		out[l.MemberID] = t
	}
	return out, nil
}
