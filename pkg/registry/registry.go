// Package registry records the members, staff users and savings activity
// that loans and SHU are computed from.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/mcclellann/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Registry struct {
	storage store.Storage
	logger  *logrus.Logger
	now     func() time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(s store.Storage, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{storage: s, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterMember adds a member. An empty status registers the member as
// active.
func (r *Registry) RegisterMember(ctx context.Context, name string, status models.MemberStatus) (*models.Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("member name is required")
	}
	if status == "" {
		status = models.MemberStatusActive
	}
	switch status {
	case models.MemberStatusActive, models.MemberStatusInactive, models.MemberStatusSuspended:
	default:
		return nil, apperrors.Validation("unknown member status %q", status)
	}

	m := &models.Member{ID: uuid.New(), Name: name, Status: status, JoinedAt: r.now()}
	if err := r.storage.CreateMember(ctx, m); err != nil {
		return nil, fmt.Errorf("register member: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"member_id": m.ID, "status": status}).Info("Member registered")
	return m, nil
}

func (r *Registry) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	return r.storage.GetMember(ctx, id)
}

// RegisterUser adds a staff account allowed to approve loans and compute SHU.
func (r *Registry) RegisterUser(ctx context.Context, name, role string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("user name is required")
	}
	u := &models.User{ID: uuid.New(), Name: name, Role: role, CreatedAt: r.now()}
	if err := r.storage.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"user_id": u.ID, "role": role}).Info("User registered")
	return u, nil
}

// RecordSavings books a deposit or withdrawal. A zero date means now.
func (r *Registry) RecordSavings(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal, typ models.SavingsType, date time.Time) (*models.SavingsTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperrors.Validation("savings amount must be positive, got %s", amount)
	}
	if typ != models.SavingsTypeDeposit && typ != models.SavingsTypeWithdrawal {
		return nil, apperrors.Validation("unknown savings type %q", typ)
	}
	if date.IsZero() {
		date = r.now()
	}

	st := &models.SavingsTransaction{
		ID:              uuid.New(),
		MemberID:        memberID,
		Type:            typ,
		Amount:          amount,
		TransactionDate: date,
	}
	if err := r.storage.CreateSavingsTransaction(ctx, st); err != nil {
		return nil, fmt.Errorf("record savings: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"member_id": memberID,
		"type":      typ,
		"amount":    amount.StringFixed(2),
	}).Info("Savings recorded")
	return st, nil
}
