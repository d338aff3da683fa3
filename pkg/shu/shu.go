// Package shu computes and distributes the cooperative's yearly surplus
// (Sisa Hasil Usaha) to its members.
//
// Calculate records the year's member share and a provisional per-member
// split weighted half by savings and half by loans taken during the year.
// Distribute later finalizes the split from lifetime contributions using one
// combined ratio. Both sets of rows are kept and told apart by their phase.
package shu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/contribution"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/mcclellann/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MemberSharePercentage is the part of the yearly profit, in percent, that
// goes to members.
var MemberSharePercentage = decimal.NewFromInt(40)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
	cent    = decimal.New(1, -shareScale)
)

// shareScale is the number of fractional digits kept on allocated shares.
const shareScale = 2

type Service struct {
	storage store.Storage
	logger  *logrus.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(s store.Storage, logger *logrus.Logger, opts ...Option) *Service {
	svc := &Service{storage: s, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// fiscalYear returns the first and last instant of year in UTC.
func fiscalYear(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond)
}

// ratio returns part/whole, or zero when whole is zero.
func ratio(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole)
}

// Calculate records the SHU for year and the provisional split across
// active members in one transaction.
func (s *Service) Calculate(ctx context.Context, year int, totalProfit decimal.Decimal, calculatedBy uuid.UUID) (*models.SHUCalculation, error) {
	if year < 1 {
		return nil, apperrors.Validation("year must be positive, got %d", year)
	}
	if totalProfit.IsNegative() {
		return nil, apperrors.Validation("total profit must not be negative, got %s", totalProfit)
	}

	now := s.now()
	calc := &models.SHUCalculation{
		ID:                    uuid.New(),
		Year:                  year,
		TotalProfit:           totalProfit,
		MemberSharePercentage: MemberSharePercentage,
		TotalMemberShare:      totalProfit.Mul(MemberSharePercentage).Div(hundred),
		CalculatedBy:          calculatedBy,
		CalculatedAt:          now,
	}

	var rows []*models.SHUDistribution
	err := s.storage.WithTx(ctx, func(tx store.Storage) error {
		existing, err := tx.GetSHUCalculationByYear(ctx, year)
		switch {
		case err == nil:
			return apperrors.Conflict("SHU calculation for year %d already exists as %s", year, existing.ID)
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}
		if _, err := tx.GetUser(ctx, calculatedBy); err != nil {
			return err
		}
		if err := tx.CreateSHUCalculation(ctx, calc); err != nil {
			return err
		}

		members, err := tx.GetActiveMembers(ctx)
		if err != nil {
			return err
		}
		from, to := fiscalYear(year)
		contribs, err := contribution.NewAggregator(tx).Window(ctx, from, to)
		if err != nil {
			return err
		}

		rows = provisionalShares(calc, members, contribs)
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateSHUDistributions(ctx, rows)
	})
	if err != nil {
		s.logger.WithError(err).WithField("year", year).Warn("SHU calculation failed")
		return nil, fmt.Errorf("calculate SHU: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"calculation_id":     calc.ID,
		"year":               year,
		"total_profit":       totalProfit.StringFixed(2),
		"total_member_share": calc.TotalMemberShare.StringFixed(2),
		"members":            len(rows),
	}).Info("SHU calculated")
	return calc, nil
}

// provisionalShares splits the member share in two halves, one allocated by
// savings ratio and one by loan ratio. Ratios are taken against the totals
// of every contributor, so shares of inactive contributors are simply not
// paid out.
func provisionalShares(calc *models.SHUCalculation, members []*models.Member, contribs contribution.Contributions) []*models.SHUDistribution {
	totals := contribs.Sum()
	pool := calc.TotalMemberShare.Mul(half)

	rows := make([]*models.SHUDistribution, 0, len(members))
	for _, m := range members {
		c := contribs.Get(m.ID)
		share := pool.Mul(ratio(c.Savings, totals.Savings)).
			Add(pool.Mul(ratio(c.Loans, totals.Loans)))
		rows = append(rows, &models.SHUDistribution{
			ID:                  uuid.New(),
			CalculationID:       calc.ID,
			MemberID:            m.ID,
			Phase:               models.DistributionPhaseProvisional,
			SavingsContribution: c.Savings,
			LoanContribution:    c.Loans,
			ShareAmount:         share.Round(shareScale),
		})
	}
	return rows
}

// Distribute finalizes a calculation: it allocates the member share over
// active members by lifetime contribution, writes one final row per member
// and marks the calculation distributed, all in one transaction.
func (s *Service) Distribute(ctx context.Context, calculationID uuid.UUID) ([]*models.SHUDistribution, error) {
	var rows []*models.SHUDistribution
	err := s.storage.WithTx(ctx, func(tx store.Storage) error {
		calc, err := tx.GetSHUCalculation(ctx, calculationID)
		if err != nil {
			return err
		}
		if calc.Distributed {
			return apperrors.Conflict("SHU calculation %s already distributed", calc.ID)
		}

		members, err := tx.GetActiveMembers(ctx)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return apperrors.InvalidState("no active members to distribute SHU to")
		}
		contribs, err := contribution.NewAggregator(tx).Lifetime(ctx)
		if err != nil {
			return err
		}

		rows = finalShares(calc, members, contribs, s.now())
		if err := tx.CreateSHUDistributions(ctx, rows); err != nil {
			return err
		}
		return tx.MarkSHUDistributed(ctx, calc.ID)
	})
	if err != nil {
		s.logger.WithError(err).WithField("calculation_id", calculationID).Warn("SHU distribution failed")
		return nil, fmt.Errorf("distribute SHU: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"calculation_id": calculationID,
		"members":        len(rows),
	}).Info("SHU distributed")
	return rows, nil
}

// finalShares allocates the member share by each member's combined
// contribution, or equally when nobody contributed. Every share is floored to
// cents and the leftover is handed out a cent at a time to members with a
// positive weight, largest remainder first. Shares add up to the member share
// exactly and a member who contributed nothing while others did gets nothing.
func finalShares(calc *models.SHUCalculation, members []*models.Member, contribs contribution.Contributions, now time.Time) []*models.SHUDistribution {
	weights := make([]decimal.Decimal, len(members))
	total := decimal.Zero
	for i, m := range members {
		weights[i] = contribs.Get(m.ID).Combined()
		total = total.Add(weights[i])
	}
	if !total.IsPositive() {
		for i := range weights {
			weights[i] = decimal.NewFromInt(1)
		}
		total = decimal.NewFromInt(int64(len(members)))
	}

	shares := make([]decimal.Decimal, len(members))
	remainders := make([]decimal.Decimal, len(members))
	eligible := make([]int, 0, len(members))
	allocated := decimal.Zero
	for i, w := range weights {
		exact := calc.TotalMemberShare.Mul(w).Div(total)
		shares[i] = exact.RoundFloor(shareScale)
		remainders[i] = exact.Sub(shares[i])
		allocated = allocated.Add(shares[i])
		if w.IsPositive() {
			eligible = append(eligible, i)
		}
	}

	// Ties keep join order.
	sort.SliceStable(eligible, func(a, b int) bool {
		return remainders[eligible[a]].GreaterThan(remainders[eligible[b]])
	})
	leftover := calc.TotalMemberShare.Sub(allocated)
	for k := 0; leftover.IsPositive() && len(eligible) > 0; k++ {
		step := decimal.Min(cent, leftover)
		i := eligible[k%len(eligible)]
		shares[i] = shares[i].Add(step)
		leftover = leftover.Sub(step)
	}

	rows := make([]*models.SHUDistribution, 0, len(members))
	for i, m := range members {
		c := contribs.Get(m.ID)
		at := now
		rows = append(rows, &models.SHUDistribution{
			ID:                  uuid.New(),
			CalculationID:       calc.ID,
			MemberID:            m.ID,
			Phase:               models.DistributionPhaseFinal,
			SavingsContribution: c.Savings,
			LoanContribution:    c.Loans,
			ShareAmount:         shares[i],
			DistributedAt:       &at,
		})
	}
	return rows
}

// GetCalculation retrieves a calculation by its ID.
func (s *Service) GetCalculation(ctx context.Context, id uuid.UUID) (*models.SHUCalculation, error) {
	return s.storage.GetSHUCalculation(ctx, id)
}

// GetDistributions returns a calculation's rows, provisional ones first.
func (s *Service) GetDistributions(ctx context.Context, calculationID uuid.UUID) ([]*models.SHUDistribution, error) {
	if _, err := s.storage.GetSHUCalculation(ctx, calculationID); err != nil {
		return nil, err
	}
	return s.storage.GetSHUDistributions(ctx, calculationID)
}
