package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoanStatus is the closed set of loan states. A loan starts active and
// moves to returned exactly once; returned is terminal.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusReturned LoanStatus = "returned"
)

// Member represents a person eligible to borrow books
type Member struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name             string    `gorm:"type:varchar(100);not null" json:"name"`
	Email            string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_members_email" json:"email"`
	Phone            string    `gorm:"type:varchar(20);not null" json:"phone"`
	RegistrationDate time.Time `gorm:"type:date;not null" json:"registration_date"`
	Active           bool      `gorm:"not null;default:true" json:"active"`
}

// TableName specifies the table name for Member model
func (Member) TableName() string {
	return "members"
}

// BeforeCreate hook to assign an id and the registration date
func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.RegistrationDate.IsZero() {
		m.RegistrationDate = Today()
	}
	return nil
}

// Book represents a single physical copy available for loan
type Book struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title           string    `gorm:"type:varchar(200);not null;index:idx_books_title" json:"title"`
	Author          string    `gorm:"type:varchar(100);not null;index:idx_books_author" json:"author"`
	ISBN            string    `gorm:"type:varchar(13);not null;uniqueIndex:idx_books_isbn" json:"isbn"`
	Genre           string    `gorm:"type:varchar(50);not null" json:"genre"`
	PublicationDate time.Time `gorm:"type:date;not null" json:"publication_date"`
	// Available is derived from active-loan existence but stored so that
	// listing available books needs no join. The loan repository is its
	// only writer after creation.
	Available bool `gorm:"not null;default:true;index:idx_books_available" json:"available"`
}

// TableName specifies the table name for Book model
func (Book) TableName() string {
	return "books"
}

// BeforeCreate hook to assign an id
func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// Loan records one book held by one member over a time span. Rows are kept
// after return as the historical record; nothing deletes them.
type Loan struct {
	ID                 string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MemberID           string     `gorm:"type:varchar(36);not null;index:idx_loans_member" json:"member_id"`
	BookID             string     `gorm:"type:varchar(36);not null;index:idx_loans_book" json:"book_id"`
	LoanDate           time.Time  `gorm:"type:date;not null" json:"loan_date"`
	ExpectedReturnDate time.Time  `gorm:"type:date;not null" json:"expected_return_date"`
	ActualReturnDate   *time.Time `gorm:"type:date" json:"actual_return_date"`
	Status             LoanStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_loans_status" json:"status"`
}

// TableName specifies the table name for Loan model
func (Loan) TableName() string {
	return "loans"
}

// BeforeCreate hook to assign an id
func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// Today returns the current UTC date truncated to midnight. Loan date math
// works on whole days, so the time component stays zero.
func Today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
