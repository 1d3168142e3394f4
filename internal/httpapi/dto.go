package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/biblioteca/services/lending/internal/db"
	"github.com/biblioteca/services/lending/internal/repo"
	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

// CreateMemberRequest carries the member registration fields. Limits match
// the column sizes in internal/db.
type CreateMemberRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Email string `json:"email" validate:"required,email,max=100"`
	Phone string `json:"phone" validate:"required,min=8,max=20"`
}

// CreateBookRequest carries the book catalog fields
type CreateBookRequest struct {
	Title           string `json:"title" validate:"required,min=2,max=200"`
	Author          string `json:"author" validate:"required,min=2,max=100"`
	ISBN            string `json:"isbn" validate:"required,min=10,max=13"`
	Genre           string `json:"genre" validate:"required,min=2,max=50"`
	PublicationDate string `json:"publication_date" validate:"required,datetime=2006-01-02"`
}

// CreateLoanRequest names the member and the book; the loan dates are
// computed server-side and never accepted here.
type CreateLoanRequest struct {
	MemberID string `json:"member_id" validate:"required,uuid4"`
	BookID   string `json:"book_id" validate:"required,uuid4"`
}

// MemberResponse is the wire shape of a member; dates are date-only strings
type MemberResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	RegistrationDate string `json:"registration_date"`
	Active           bool   `json:"active"`
}

// CurrentLoanResponse is the denormalized active-loan slice of a member view
type CurrentLoanResponse struct {
	LoanID             string `json:"loan_id"`
	BookTitle          string `json:"book_title"`
	BookAuthor         string `json:"book_author"`
	LoanDate           string `json:"loan_date"`
	ExpectedReturnDate string `json:"expected_return_date"`
}

// MemberViewResponse is a member plus its current loan, null when idle
type MemberViewResponse struct {
	MemberResponse
	CurrentLoan *CurrentLoanResponse `json:"current_loan"`
}

// BookResponse is the wire shape of a book
type BookResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Genre           string `json:"genre"`
	PublicationDate string `json:"publication_date"`
	Available       bool   `json:"available"`
}

// LoanResponse is the wire shape of a loan
type LoanResponse struct {
	ID                 string  `json:"id"`
	MemberID           string  `json:"member_id"`
	BookID             string  `json:"book_id"`
	LoanDate           string  `json:"loan_date"`
	ExpectedReturnDate string  `json:"expected_return_date"`
	ActualReturnDate   *string `json:"actual_return_date"`
	Status             string  `json:"status"`
}

func memberToResponse(m *db.Member) MemberResponse {
	return MemberResponse{
		ID:               m.ID,
		Name:             m.Name,
		Email:            m.Email,
		Phone:            m.Phone,
		RegistrationDate: formatDate(m.RegistrationDate),
		Active:           m.Active,
	}
}

func memberViewToResponse(v *repo.MemberWithLoan) MemberViewResponse {
	out := MemberViewResponse{MemberResponse: memberToResponse(v.Member)}
	if v.CurrentLoan != nil {
		out.CurrentLoan = &CurrentLoanResponse{
			LoanID:             v.CurrentLoan.LoanID,
			BookTitle:          v.CurrentLoan.BookTitle,
			BookAuthor:         v.CurrentLoan.BookAuthor,
			LoanDate:           formatDate(v.CurrentLoan.LoanDate),
			ExpectedReturnDate: formatDate(v.CurrentLoan.ExpectedReturnDate),
		}
	}
	return out
}

func bookToResponse(b *db.Book) BookResponse {
	return BookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		PublicationDate: formatDate(b.PublicationDate),
		Available:       b.Available,
	}
}

func loanToResponse(l *db.Loan) LoanResponse {
	out := LoanResponse{
		ID:                 l.ID,
		MemberID:           l.MemberID,
		BookID:             l.BookID,
		LoanDate:           formatDate(l.LoanDate),
		ExpectedReturnDate: formatDate(l.ExpectedReturnDate),
		Status:             string(l.Status),
	}
	if l.ActualReturnDate != nil {
		returned := formatDate(*l.ActualReturnDate)
		out.ActualReturnDate = &returned
	}
	return out
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// newValidator builds a validator that reports fields by their json names,
// so error bodies address the fields the caller actually sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessages flattens validator errors into a field -> messages map
func validationMessages(err error) map[string][]string {
	out := make(map[string][]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = []string{"invalid request body"}
		return out
	}

	for _, fe := range verrs {
		out[fe.Field()] = append(out[fe.Field()], messageFor(fe))
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "uuid4":
		return "must be a valid id"
	default:
		return "is invalid"
	}
}
