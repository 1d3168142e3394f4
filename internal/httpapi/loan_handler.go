package httpapi

import (
	"errors"

	"github.com/biblioteca/services/lending/internal/events"
	"github.com/biblioteca/services/lending/internal/repo"
	"github.com/gofiber/fiber/v2"
)

// createLoan handles POST /api/loans
func (s *Server) createLoan(c *fiber.Ctx) error {
	var req CreateLoanRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, map[string][]string{"body": {"invalid request body"}})
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, validationMessages(err))
	}

	loan, err := s.loans.CreateLoan(c.UserContext(), req.MemberID, req.BookID)
	if err != nil {
		s.countConflict(err)
		return s.writeRepoError(c, err)
	}

	s.metrics.LoansCreated.Inc()
	s.publishAsync(events.EventTypeLoanCreated, map[string]interface{}{
		"loan_id":              loan.ID,
		"member_id":            loan.MemberID,
		"book_id":              loan.BookID,
		"loan_date":            formatDate(loan.LoanDate),
		"expected_return_date": formatDate(loan.ExpectedReturnDate),
	})

	return c.Status(fiber.StatusCreated).JSON(loanToResponse(loan))
}

// returnLoan handles PUT /api/loans/:id/return
func (s *Server) returnLoan(c *fiber.Ctx) error {
	loanID := c.Params("id")

	loan, err := s.loans.ReturnLoan(c.UserContext(), loanID)
	if err != nil {
		s.countConflict(err)
		return s.writeRepoError(c, err)
	}

	s.metrics.LoansReturned.Inc()
	s.publishAsync(events.EventTypeLoanReturned, map[string]interface{}{
		"loan_id":            loan.ID,
		"member_id":          loan.MemberID,
		"book_id":            loan.BookID,
		"actual_return_date": formatDate(*loan.ActualReturnDate),
	})

	return c.JSON(loanToResponse(loan))
}

func (s *Server) countConflict(err error) {
	switch {
	case errors.Is(err, repo.ErrMemberHasActiveLoan):
		s.metrics.Conflicts.WithLabelValues("member_active_loan").Inc()
	case errors.Is(err, repo.ErrBookUnavailable):
		s.metrics.Conflicts.WithLabelValues("book_unavailable").Inc()
	case errors.Is(err, repo.ErrLoanAlreadyReturned):
		s.metrics.Conflicts.WithLabelValues("already_returned").Inc()
	}
}
