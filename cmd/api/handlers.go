package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/koperasi/pkg/amortization"
	"github.com/mcclellann/koperasi/pkg/ledger"
	"github.com/mcclellann/koperasi/pkg/models"
	"github.com/shopspring/decimal"
)

func (s *Server) registerMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string              `json:"name" validate:"required"`
		Status models.MemberStatus `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	member, err := s.registry.RegisterMember(r.Context(), req.Name, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) getMemberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.registry.GetMember(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) registerUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required"`
		Role string `json:"role"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.registry.RegisterUser(r.Context(), req.Name, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) recordSavingsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID          `json:"member_id" validate:"required"`
		Amount   decimal.Decimal    `json:"amount" validate:"gt=0"`
		Type     models.SavingsType `json:"type" validate:"required,oneof=deposit withdrawal"`
		Date     *time.Time         `json:"date"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var date time.Time
	if req.Date != nil {
		date = *req.Date
	}
	st, err := s.registry.RecordSavings(r.Context(), req.MemberID, req.Amount, req.Type, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) applyLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID   uuid.UUID       `json:"member_id" validate:"required"`
		Principal  decimal.Decimal `json:"principal" validate:"gt=0"`
		TermMonths int             `json:"term_months" validate:"gte=1"`
		Purpose    string          `json:"purpose"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	loan, err := s.ledger.ApplyLoan(r.Context(), req.MemberID, req.Principal, req.TermMonths, req.Purpose)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := models.LoanStatus(r.URL.Query().Get("status"))
	loans, err := s.ledger.ListLoans(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) simulateLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount            decimal.Decimal  `json:"amount" validate:"gt=0"`
		AnnualRatePercent *decimal.Decimal `json:"annual_rate_percent" validate:"omitempty,gte=0"`
		TermMonths        int              `json:"term_months" validate:"gte=1"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rate := s.defaultRate
	if req.AnnualRatePercent != nil {
		rate = *req.AnnualRatePercent
	}
	sim, err := amortization.Simulate(req.Amount, rate, req.TermMonths)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) withdrawLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.WithdrawLoan(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Approved     bool             `json:"approved"`
		InterestRate *decimal.Decimal `json:"interest_rate" validate:"omitempty,gte=0"`
		Notes        string           `json:"notes"`
		ApproverID   uuid.UUID        `json:"approver_id" validate:"required"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	loan, err := s.ledger.ApproveLoan(r.Context(), ledger.Approval{
		LoanID:       id,
		Approved:     req.Approved,
		InterestRate: req.InterestRate,
		Notes:        req.Notes,
		ApproverID:   req.ApproverID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	installments, err := s.ledger.GetPaymentSchedules(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if installments == nil {
		installments = []*models.Installment{}
	}
	writeJSON(w, http.StatusOK, installments)
}

func (s *Server) getLoanPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payments, err := s.ledger.GetLoanPayments(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) processPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Amount decimal.Decimal      `json:"amount" validate:"gt=0"`
		Method models.PaymentMethod `json:"method" validate:"required,oneof=cash bank_transfer savings_deduction"`
		Notes  string               `json:"notes"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	inst, err := s.ledger.ProcessPayment(r.Context(), id, req.Amount, req.Method, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) calculateSHUHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year         int             `json:"year" validate:"gte=1"`
		TotalProfit  decimal.Decimal `json:"total_profit" validate:"gte=0"`
		CalculatedBy uuid.UUID       `json:"calculated_by" validate:"required"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	calc, err := s.shu.Calculate(r.Context(), req.Year, req.TotalProfit, req.CalculatedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, calc)
}

func (s *Server) getSHUCalculationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	calc, err := s.shu.GetCalculation(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (s *Server) getSHUDistributionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.shu.GetDistributions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*models.SHUDistribution{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) distributeSHUHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.shu.Distribute(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rows)
}
