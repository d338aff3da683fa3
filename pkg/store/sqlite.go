package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/koperasi/pkg/apperrors"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/sirupsen/logrus"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore manages the database connection and operations for SQLite.
// All timestamps are written in UTC so range filters compare correctly.
type SQLiteStore struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// NewSQLiteStore opens the database at path and initializes the schema.
// Transactions take the write lock up front (_txlock=immediate), so
// read-modify-write sequences inside WithTx never interleave.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, q: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.WithField("path", path).Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		joined_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS savings_transactions (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		transaction_date DATETIME NOT NULL,
		FOREIGN KEY(member_id) REFERENCES members(id)
	);
	CREATE INDEX IF NOT EXISTS idx_savings_date ON savings_transactions(transaction_date);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL DEFAULT '0',
		term_months INTEGER NOT NULL,
		monthly_payment TEXT NOT NULL DEFAULT '0',
		remaining_balance TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		applied_at DATETIME NOT NULL,
		approved_at DATETIME,
		approved_by TEXT,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(member_id) REFERENCES members(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_applied ON loans(applied_at);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		total_due TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_date DATETIME,
		status TEXT NOT NULL,
		late_fee TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(loan_id, installment_number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		paid_at DATETIME NOT NULL,
		FOREIGN KEY(installment_id) REFERENCES installments(id),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS shu_calculations (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL UNIQUE,
		total_profit TEXT NOT NULL,
		member_share_percentage TEXT NOT NULL,
		total_member_share TEXT NOT NULL,
		calculated_by TEXT NOT NULL,
		calculated_at DATETIME NOT NULL,
		distributed INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(calculated_by) REFERENCES users(id)
	);
	CREATE TABLE IF NOT EXISTS shu_distributions (
		id TEXT PRIMARY KEY,
		calculation_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		savings_contribution TEXT NOT NULL,
		loan_contribution TEXT NOT NULL,
		share_amount TEXT NOT NULL,
		distributed_at DATETIME,
		FOREIGN KEY(calculation_id) REFERENCES shu_calculations(id),
		FOREIGN KEY(member_id) REFERENCES members(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction. Nested calls join the outer one.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// checkAffected turns a zero-row update into a not-found error.
func checkAffected(result sql.Result, entity string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NotFound(entity, id)
	}
	return nil
}

const loanColumns = `id, member_id, principal, interest_rate, term_months, monthly_payment, remaining_balance, status, purpose, notes, applied_at, approved_at, approved_by, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MemberID.String(), loan.Principal, loan.InterestRate, loan.TermMonths, loan.MonthlyPayment, loan.RemainingBalance,
		loan.Status, loan.Purpose, loan.Notes, utc(loan.AppliedAt), nullTime(loan.ApprovedAt), nullUUID(loan.ApprovedBy), utc(loan.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("member", loan.MemberID)
		}
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("loan", id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE loans SET principal = ?, interest_rate = ?, term_months = ?, monthly_payment = ?, remaining_balance = ?, status = ?, purpose = ?, notes = ?, approved_at = ?, approved_by = ?, updated_at = ? WHERE id = ?`,
		loan.Principal, loan.InterestRate, loan.TermMonths, loan.MonthlyPayment, loan.RemainingBalance, loan.Status, loan.Purpose, loan.Notes,
		nullTime(loan.ApprovedAt), nullUUID(loan.ApprovedBy), utc(loan.UpdatedAt), loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return checkAffected(result, "loan", loan.ID)
}

// DeleteLoan removes a loan together with its schedule and payments.
func (s *SQLiteStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(txs Storage) error {
		tx := txs.(*SQLiteStore)
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM payments WHERE loan_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete associated payments: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete associated installments: %w", err)
		}
		result, err := tx.q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return checkAffected(result, "loan", id)
	})
}

// GetAllLoans retrieves all loans, oldest application first.
func (s *SQLiteStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY applied_at ASC`)
}

func (s *SQLiteStore) GetLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY applied_at ASC`, status)
}

func (s *SQLiteStore) GetLoansAppliedBetween(ctx context.Context, from, to time.Time) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE applied_at >= ? AND applied_at <= ? ORDER BY applied_at ASC`, utc(from), utc(to))
}

func (s *SQLiteStore) queryLoans(ctx context.Context, query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var approvedAt sql.NullTime
	var approvedBy uuid.NullUUID
	err := row.Scan(&loan.ID, &loan.MemberID, &loan.Principal, &loan.InterestRate, &loan.TermMonths, &loan.MonthlyPayment, &loan.RemainingBalance,
		&loan.Status, &loan.Purpose, &loan.Notes, &loan.AppliedAt, &approvedAt, &approvedBy, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}
	if approvedBy.Valid {
		loan.ApprovedBy = &approvedBy.UUID
	}
	return &loan, nil
}

const installmentColumns = `id, loan_id, installment_number, due_date, principal, interest, total_due, paid_amount, paid_date, status, late_fee, version, created_at, updated_at`

// CreateInstallments inserts a schedule row by row. Callers that need
// atomicity with other writes wrap it in WithTx.
func (s *SQLiteStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	for _, inst := range installments {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID.String(), inst.LoanID.String(), inst.InstallmentNumber, utc(inst.DueDate), inst.Principal, inst.Interest,
			inst.TotalDue, inst.PaidAmount, nullTime(inst.PaidDate), inst.Status, inst.LateFee, inst.Version, utc(inst.CreatedAt), utc(inst.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.Conflict("installment %d already exists for loan %s", inst.InstallmentNumber, inst.LoanID)
			}
			if isForeignKeyViolation(err) {
				return apperrors.NotFound("loan", inst.LoanID)
			}
			return fmt.Errorf("failed to create installment %d: %w", inst.InstallmentNumber, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id.String())
	inst, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("installment", id)
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

func (s *SQLiteStore) GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY installment_number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	return installments, nil
}

func (s *SQLiteStore) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE installments SET paid_amount = ?, paid_date = ?, status = ?, late_fee = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		inst.PaidAmount, nullTime(inst.PaidDate), inst.Status, inst.LateFee, utc(inst.UpdatedAt), inst.ID.String(), inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetInstallment(ctx, inst.ID); err != nil {
			return err
		}
		return apperrors.Conflict("installment %s was modified concurrently", inst.ID)
	}
	inst.Version++
	return nil
}

func scanInstallment(row rowScanner) (*models.Installment, error) {
	var inst models.Installment
	var paidDate sql.NullTime
	err := row.Scan(&inst.ID, &inst.LoanID, &inst.InstallmentNumber, &inst.DueDate, &inst.Principal, &inst.Interest, &inst.TotalDue,
		&inst.PaidAmount, &paidDate, &inst.Status, &inst.LateFee, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if paidDate.Valid {
		inst.PaidDate = &paidDate.Time
	}
	return &inst, nil
}

// CreatePayment inserts a new payment record.
func (s *SQLiteStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payments (id, installment_id, loan_id, amount, method, notes, paid_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.InstallmentID.String(), payment.LoanID.String(), payment.Amount, payment.Method, payment.Notes, utc(payment.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPaymentsForLoan retrieves all payments for a given loan ID.
func (s *SQLiteStore) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, installment_id, loan_id, amount, method, notes, paid_at FROM payments WHERE loan_id = ? ORDER BY paid_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.InstallmentID, &p.LoanID, &p.Amount, &p.Method, &p.Notes, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

func (s *SQLiteStore) CreateMember(ctx context.Context, member *models.Member) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO members (id, name, status, joined_at) VALUES (?, ?, ?, ?)`,
		member.ID.String(), member.Name, member.Status, utc(member.JoinedAt))
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	var m models.Member
	err := s.q.QueryRowContext(ctx, `SELECT id, name, status, joined_at FROM members WHERE id = ?`, id.String()).
		Scan(&m.ID, &m.Name, &m.Status, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("member", id)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) GetActiveMembers(ctx context.Context) ([]*models.Member, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, status, joined_at FROM members WHERE status = ? ORDER BY joined_at ASC, id ASC`, models.MemberStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get active members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Status, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for members: %w", err)
	}
	return members, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO users (id, name, role, created_at) VALUES (?, ?, ?, ?)`,
		user.ID.String(), user.Name, user.Role, utc(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.q.QueryRowContext(ctx, `SELECT id, name, role, created_at FROM users WHERE id = ?`, id.String()).
		Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("user", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateSavingsTransaction(ctx context.Context, st *models.SavingsTransaction) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO savings_transactions (id, member_id, type, amount, transaction_date) VALUES (?, ?, ?, ?, ?)`,
		st.ID.String(), st.MemberID.String(), st.Type, st.Amount, utc(st.TransactionDate))
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("member", st.MemberID)
		}
		return fmt.Errorf("failed to create savings transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSavingsDeposits(ctx context.Context, from, to *time.Time) ([]*models.SavingsTransaction, error) {
	query := `SELECT id, member_id, type, amount, transaction_date FROM savings_transactions WHERE type = ?`
	args := []any{models.SavingsTypeDeposit}
	if from != nil {
		query += ` AND transaction_date >= ?`
		args = append(args, from.UTC())
	}
	if to != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY transaction_date ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get savings deposits: %w", err)
	}
	defer rows.Close()

	var deposits []*models.SavingsTransaction
	for rows.Next() {
		var st models.SavingsTransaction
		if err := rows.Scan(&st.ID, &st.MemberID, &st.Type, &st.Amount, &st.TransactionDate); err != nil {
			return nil, fmt.Errorf("failed to scan savings row: %w", err)
		}
		deposits = append(deposits, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for savings: %w", err)
	}
	return deposits, nil
}

func (s *SQLiteStore) CreateSHUCalculation(ctx context.Context, calc *models.SHUCalculation) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO shu_calculations (id, year, total_profit, member_share_percentage, total_member_share, calculated_by, calculated_at, distributed) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		calc.ID.String(), calc.Year, calc.TotalProfit, calc.MemberSharePercentage, calc.TotalMemberShare, calc.CalculatedBy.String(), utc(calc.CalculatedAt), calc.Distributed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("SHU calculation for year %d already exists", calc.Year)
		}
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("user", calc.CalculatedBy)
		}
		return fmt.Errorf("failed to create SHU calculation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSHUCalculation(ctx context.Context, id uuid.UUID) (*models.SHUCalculation, error) {
	var c models.SHUCalculation
	err := s.q.QueryRowContext(ctx,
		`SELECT id, year, total_profit, member_share_percentage, total_member_share, calculated_by, calculated_at, distributed FROM shu_calculations WHERE id = ?`, id.String()).
		Scan(&c.ID, &c.Year, &c.TotalProfit, &c.MemberSharePercentage, &c.TotalMemberShare, &c.CalculatedBy, &c.CalculatedAt, &c.Distributed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("SHU calculation", id)
		}
		return nil, fmt.Errorf("failed to get SHU calculation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetSHUCalculationByYear(ctx context.Context, year int) (*models.SHUCalculation, error) {
	var c models.SHUCalculation
	err := s.q.QueryRowContext(ctx,
		`SELECT id, year, total_profit, member_share_percentage, total_member_share, calculated_by, calculated_at, distributed FROM shu_calculations WHERE year = ?`, year).
		Scan(&c.ID, &c.Year, &c.TotalProfit, &c.MemberSharePercentage, &c.TotalMemberShare, &c.CalculatedBy, &c.CalculatedAt, &c.Distributed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: SHU calculation for year %d", apperrors.ErrNotFound, year)
		}
		return nil, fmt.Errorf("failed to get SHU calculation for year %d: %w", year, err)
	}
	return &c, nil
}

func (s *SQLiteStore) MarkSHUDistributed(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `UPDATE shu_calculations SET distributed = 1 WHERE id = ? AND distributed = 0`, id.String())
	if err != nil {
		return fmt.Errorf("failed to mark SHU calculation distributed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetSHUCalculation(ctx, id); err != nil {
			return err
		}
		return apperrors.Conflict("SHU calculation %s already distributed", id)
	}
	return nil
}

func (s *SQLiteStore) CreateSHUDistributions(ctx context.Context, dists []*models.SHUDistribution) error {
	for _, d := range dists {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO shu_distributions (id, calculation_id, member_id, phase, savings_contribution, loan_contribution, share_amount, distributed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID.String(), d.CalculationID.String(), d.MemberID.String(), d.Phase, d.SavingsContribution, d.LoanContribution, d.ShareAmount, nullTime(d.DistributedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create SHU distribution for member %s: %w", d.MemberID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetSHUDistributions(ctx context.Context, calculationID uuid.UUID) ([]*models.SHUDistribution, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, calculation_id, member_id, phase, savings_contribution, loan_contribution, share_amount, distributed_at FROM shu_distributions WHERE calculation_id = ? ORDER BY phase DESC, member_id ASC`,
		calculationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get SHU distributions: %w", err)
	}
	defer rows.Close()

	var dists []*models.SHUDistribution
	for rows.Next() {
		var d models.SHUDistribution
		var distributedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.CalculationID, &d.MemberID, &d.Phase, &d.SavingsContribution, &d.LoanContribution, &d.ShareAmount, &distributedAt); err != nil {
			return nil, fmt.Errorf("failed to scan SHU distribution row: %w", err)
		}
		if distributedAt.Valid {
			d.DistributedAt = &distributedAt.Time
		}
		dists = append(dists, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for SHU distributions: %w", err)
	}
	return dists, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
