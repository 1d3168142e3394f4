package repo

import (
	"context"
	"errors"

	"github.com/biblioteca/services/lending/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoanPeriodDays is the fixed loan period. It is policy, not input: due
// dates are computed here and never accepted from a caller.
const LoanPeriodDays = 14

var (
	// ErrLoanNotFound is returned when a loan id does not resolve
	ErrLoanNotFound = errors.New("loan not found")

	// ErrLoanAlreadyReturned is returned on a second return of the same loan
	ErrLoanAlreadyReturned = errors.New("loan already returned")

	// ErrMemberHasActiveLoan is returned when the member still holds a book
	ErrMemberHasActiveLoan = errors.New("member already has an active loan")

	// ErrBookUnavailable is returned when the book is out on loan
	ErrBookUnavailable = errors.New("book is not available")
)

// LoanRepository is the loan lifecycle engine. It is the single writer of
// Book.Available and keeps the flag equal to "no active loan references the
// book" through every transition.
type LoanRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(database *db.DB, logger *zap.Logger) *LoanRepository {
	return &LoanRepository{
		db:  database,
		log: logger,
	}
}

// CreateLoan lends a book to a member. The whole check-then-act sequence
// runs in one transaction; the winner of concurrent calls on the same book
// is decided by the conditional availability flip (exactly one update can
// match available = true), and the partial unique indexes on loans reject
// anything that still slips through on the member side.
func (r *LoanRepository) CreateLoan(ctx context.Context, memberID, bookID string) (*db.Loan, error) {
	var loan *db.Loan

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member db.Member
		if err := tx.First(&member, "id = ?", memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}

		var book db.Book
		if err := tx.First(&book, "id = ?", bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		var active int64
		if err := tx.Model(&db.Loan{}).
			Where("member_id = ? AND status = ?", memberID, db.LoanStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrMemberHasActiveLoan
		}

		result := tx.Model(&db.Book{}).
			Where("id = ? AND available = ?", bookID, true).
			Update("available", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBookUnavailable
		}

		today := db.Today()
		loan = &db.Loan{
			MemberID:           memberID,
			BookID:             bookID,
			LoanDate:           today,
			ExpectedReturnDate: today.AddDate(0, 0, LoanPeriodDays),
			Status:             db.LoanStatusActive,
		}
		return tx.Create(loan).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrMemberNotFound),
			errors.Is(err, ErrBookNotFound),
			errors.Is(err, ErrMemberHasActiveLoan),
			errors.Is(err, ErrBookUnavailable):
			return nil, err
		}
		if isUniqueViolation(err) {
			// The insert hit a partial unique index. The book side is
			// already guarded by the conditional flip, so the collision is
			// the member's active loan.
			return nil, ErrMemberHasActiveLoan
		}
		r.log.Error("Failed to create loan",
			zap.String("member_id", memberID),
			zap.String("book_id", bookID),
			zap.Error(err),
		)
		return nil, err
	}

	r.log.Info("Loan created",
		zap.String("loan_id", loan.ID),
		zap.String("member_id", memberID),
		zap.String("book_id", bookID),
	)
	return loan, nil
}

// ReturnLoan closes an active loan and frees its book. The conditional
// status update picks exactly one winner of a double return; the loser sees
// ErrLoanAlreadyReturned and no state change.
func (r *LoanRepository) ReturnLoan(ctx context.Context, loanID string) (*db.Loan, error) {
	var loan db.Loan

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&loan, "id = ?", loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}

		today := db.Today()
		result := tx.Model(&db.Loan{}).
			Where("id = ? AND status = ?", loanID, db.LoanStatusActive).
			Updates(map[string]interface{}{
				"status":             db.LoanStatusReturned,
				"actual_return_date": today,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLoanAlreadyReturned
		}

		if err := tx.Model(&db.Book{}).
			Where("id = ?", loan.BookID).
			Update("available", true).Error; err != nil {
			return err
		}

		loan.Status = db.LoanStatusReturned
		loan.ActualReturnDate = &today
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrLoanNotFound), errors.Is(err, ErrLoanAlreadyReturned):
			return nil, err
		}
		r.log.Error("Failed to return loan", zap.String("loan_id", loanID), zap.Error(err))
		return nil, err
	}

	r.log.Info("Loan returned",
		zap.String("loan_id", loan.ID),
		zap.String("book_id", loan.BookID),
	)
	return &loan, nil
}

// GetLoan retrieves a loan by id
func (r *LoanRepository) GetLoan(ctx context.Context, id string) (*db.Loan, error) {
	var loan db.Loan
	err := r.db.WithContext(ctx).First(&loan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		r.log.Error("Failed to get loan", zap.String("loan_id", id), zap.Error(err))
		return nil, err
	}

	return &loan, nil
}
