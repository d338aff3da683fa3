package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
)

type memData struct {
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID]models.Installment
	payments     []models.Payment
	members      map[uuid.UUID]models.Member
	users        map[uuid.UUID]models.User
	savings      []models.SavingsTransaction
	calcs        map[uuid.UUID]models.SHUCalculation
	dists        []models.SHUDistribution
}

func newMemData() *memData {
	return &memData{
		loans:        make(map[uuid.UUID]models.Loan),
		installments: make(map[uuid.UUID]models.Installment),
		members:      make(map[uuid.UUID]models.Member),
		users:        make(map[uuid.UUID]models.User),
		calcs:        make(map[uuid.UUID]models.SHUCalculation),
	}
}

// clone copies every table. Records are stored by value, so a shallow copy
// of each map is enough.
func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.loans {
		c.loans[k] = v
	}
	for k, v := range d.installments {
		c.installments[k] = v
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.calcs {
		c.calcs[k] = v
	}
	c.payments = append([]models.Payment(nil), d.payments...)
	c.savings = append([]models.SavingsTransaction(nil), d.savings...)
	c.dists = append([]models.SHUDistribution(nil), d.dists...)
	return c
}

// MemStore is an in-memory Storage. Transactions work on a copy of the data
// that replaces the live tables on commit, and hold the store's lock
// throughout, so they are fully serialized.
type MemStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

func NewMemStore() *MemStore {
	return &MemStore{mu: &sync.Mutex{}, data: newMemData()}
}

func (m *MemStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemStore) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &MemStore{mu: m.mu, data: m.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *MemStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	defer m.lock()()
	if _, ok := m.data.members[loan.MemberID]; !ok {
		return apperrors.NotFound("member", loan.MemberID)
	}
	m.data.loans[loan.ID] = *loan
	return nil
}

func (m *MemStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	defer m.lock()()
	loan, ok := m.data.loans[id]
	if !ok {
		return nil, apperrors.NotFound("loan", id)
	}
	return &loan, nil
}

func (m *MemStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	defer m.lock()()
	stored, ok := m.data.loans[loan.ID]
	if !ok {
		return apperrors.NotFound("loan", loan.ID)
	}
	updated := *loan
	updated.MemberID = stored.MemberID
	updated.AppliedAt = stored.AppliedAt
	m.data.loans[loan.ID] = updated
	return nil
}

func (m *MemStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	if _, ok := m.data.loans[id]; !ok {
		return apperrors.NotFound("loan", id)
	}
	for instID, inst := range m.data.installments {
		if inst.LoanID == id {
			delete(m.data.installments, instID)
		}
	}
	payments := m.data.payments[:0]
	for _, p := range m.data.payments {
		if p.LoanID != id {
			payments = append(payments, p)
		}
	}
	m.data.payments = payments
	delete(m.data.loans, id)
	return nil
}

func (m *MemStore) filterLoans(keep func(models.Loan) bool) []*models.Loan {
	var loans []*models.Loan
	for _, l := range m.data.loans {
		if keep(l) {
			loan := l
			loans = append(loans, &loan)
		}
	}
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].AppliedAt.Before(loans[j].AppliedAt)
	})
	return loans
}

func (m *MemStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	defer m.lock()()
	return m.filterLoans(func(models.Loan) bool { return true }), nil
}

func (m *MemStore) GetLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	defer m.lock()()
	return m.filterLoans(func(l models.Loan) bool { return l.Status == status }), nil
}

func (m *MemStore) GetLoansAppliedBetween(ctx context.Context, from, to time.Time) ([]*models.Loan, error) {
	defer m.lock()()
	return m.filterLoans(func(l models.Loan) bool {
		return !l.AppliedAt.Before(from) && !l.AppliedAt.After(to)
	}), nil
}

func (m *MemStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	defer m.lock()()
	for _, inst := range installments {
		if _, ok := m.data.loans[inst.LoanID]; !ok {
			return apperrors.NotFound("loan", inst.LoanID)
		}
		for _, existing := range m.data.installments {
			if existing.LoanID == inst.LoanID && existing.InstallmentNumber == inst.InstallmentNumber {
				return apperrors.Conflict("installment %d already exists for loan %s", inst.InstallmentNumber, inst.LoanID)
			}
		}
		m.data.installments[inst.ID] = *inst
	}
	return nil
}

func (m *MemStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	defer m.lock()()
	inst, ok := m.data.installments[id]
	if !ok {
		return nil, apperrors.NotFound("installment", id)
	}
	return &inst, nil
}

func (m *MemStore) GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	defer m.lock()()
	var installments []*models.Installment
	for _, i := range m.data.installments {
		if i.LoanID == loanID {
			inst := i
			installments = append(installments, &inst)
		}
	}
	sort.Slice(installments, func(i, j int) bool {
		return installments[i].InstallmentNumber < installments[j].InstallmentNumber
	})
	return installments, nil
}

func (m *MemStore) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	defer m.lock()()
	stored, ok := m.data.installments[inst.ID]
	if !ok {
		return apperrors.NotFound("installment", inst.ID)
	}
	if stored.Version != inst.Version {
		return apperrors.Conflict("installment %s was modified concurrently", inst.ID)
	}
	stored.PaidAmount = inst.PaidAmount
	stored.PaidDate = inst.PaidDate
	stored.Status = inst.Status
	stored.LateFee = inst.LateFee
	stored.UpdatedAt = inst.UpdatedAt
	stored.Version++
	m.data.installments[inst.ID] = stored
	inst.Version = stored.Version
	return nil
}

func (m *MemStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	defer m.lock()()
	m.data.payments = append(m.data.payments, *payment)
	return nil
}

func (m *MemStore) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	defer m.lock()()
	var payments []*models.Payment
	for _, p := range m.data.payments {
		if p.LoanID == loanID {
			payment := p
			payments = append(payments, &payment)
		}
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].PaidAt.Before(payments[j].PaidAt)
	})
	return payments, nil
}

func (m *MemStore) CreateMember(ctx context.Context, member *models.Member) error {
	defer m.lock()()
	m.data.members[member.ID] = *member
	return nil
}

func (m *MemStore) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	defer m.lock()()
	member, ok := m.data.members[id]
	if !ok {
		return nil, apperrors.NotFound("member", id)
	}
	return &member, nil
}

func (m *MemStore) GetActiveMembers(ctx context.Context) ([]*models.Member, error) {
	defer m.lock()()
	var members []*models.Member
	for _, mb := range m.data.members {
		if mb.Status == models.MemberStatusActive {
			member := mb
			members = append(members, &member)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].ID.String() < members[j].ID.String()
	})
	return members, nil
}

func (m *MemStore) CreateUser(ctx context.Context, user *models.User) error {
	defer m.lock()()
	m.data.users[user.ID] = *user
	return nil
}

func (m *MemStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer m.lock()()
	user, ok := m.data.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return &user, nil
}

func (m *MemStore) CreateSavingsTransaction(ctx context.Context, st *models.SavingsTransaction) error {
	defer m.lock()()
	if _, ok := m.data.members[st.MemberID]; !ok {
		return apperrors.NotFound("member", st.MemberID)
	}
	m.data.savings = append(m.data.savings, *st)
	return nil
}

func (m *MemStore) GetSavingsDeposits(ctx context.Context, from, to *time.Time) ([]*models.SavingsTransaction, error) {
	defer m.lock()()
	var deposits []*models.SavingsTransaction
	for _, st := range m.data.savings {
		if st.Type != models.SavingsTypeDeposit {
			continue
		}
		if from != nil && st.TransactionDate.Before(*from) {
			continue
		}
		if to != nil && st.TransactionDate.After(*to) {
			continue
		}
		deposit := st
		deposits = append(deposits, &deposit)
	}
	return deposits, nil
}

func (m *MemStore) CreateSHUCalculation(ctx context.Context, calc *models.SHUCalculation) error {
	defer m.lock()()
	for _, c := range m.data.calcs {
		if c.Year == calc.Year {
			return apperrors.Conflict("SHU calculation for year %d already exists", calc.Year)
		}
	}
	if _, ok := m.data.users[calc.CalculatedBy]; !ok {
		return apperrors.NotFound("user", calc.CalculatedBy)
	}
	m.data.calcs[calc.ID] = *calc
	return nil
}

func (m *MemStore) GetSHUCalculation(ctx context.Context, id uuid.UUID) (*models.SHUCalculation, error) {
	defer m.lock()()
	calc, ok := m.data.calcs[id]
	if !ok {
		return nil, apperrors.NotFound("SHU calculation", id)
	}
	return &calc, nil
}

func (m *MemStore) GetSHUCalculationByYear(ctx context.Context, year int) (*models.SHUCalculation, error) {
	defer m.lock()()
	for _, c := range m.data.calcs {
		if c.Year == year {
			calc := c
			return &calc, nil
		}
	}
	return nil, fmt.Errorf("%w: SHU calculation for year %d", apperrors.ErrNotFound, year)
}

func (m *MemStore) MarkSHUDistributed(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	calc, ok := m.data.calcs[id]
	if !ok {
		return apperrors.NotFound("SHU calculation", id)
	}
	if calc.Distributed {
		return apperrors.Conflict("SHU calculation %s already distributed", id)
	}
	calc.Distributed = true
	m.data.calcs[id] = calc
	return nil
}

func (m *MemStore) CreateSHUDistributions(ctx context.Context, dists []*models.SHUDistribution) error {
	defer m.lock()()
	for _, d := range dists {
		if _, ok := m.data.calcs[d.CalculationID]; !ok {
			return apperrors.NotFound("SHU calculation", d.CalculationID)
		}
		m.data.dists = append(m.data.dists, *d)
	}
	return nil
}

func (m *MemStore) GetSHUDistributions(ctx context.Context, calculationID uuid.UUID) ([]*models.SHUDistribution, error) {
	defer m.lock()()
	var dists []*models.SHUDistribution
	for _, d := range m.data.dists {
		if d.CalculationID == calculationID {
			dist := d
			dists = append(dists, &dist)
		}
	}
	sort.Slice(dists, func(i, j int) bool {
		if dists[i].Phase != dists[j].Phase {
			return dists[i].Phase > dists[j].Phase
		}
		return dists[i].MemberID.String() < dists[j].MemberID.String()
	})
	return dists, nil
}

func (m *MemStore) Close() error {
	return nil
}
