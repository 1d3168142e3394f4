package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/biblioteca/services/lending/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMemberNotFound is returned when a member id does not resolve
	ErrMemberNotFound = errors.New("member not found")

	// ErrEmailTaken is returned when another member already holds the email
	ErrEmailTaken = errors.New("email already registered")
)

// MemberRepository handles member records and the member-side projection
type MemberRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(database *db.DB, logger *zap.Logger) *MemberRepository {
	return &MemberRepository{
		db:  database,
		log: logger,
	}
}

// CreateMember registers a new member. The email uniqueness check runs in
// the same transaction as the insert, and the unique index on email rejects
// any concurrent duplicate the check misses.
func (r *MemberRepository) CreateMember(ctx context.Context, member *db.Member) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Member{}).Where("email = ?", member.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		return tx.Create(member).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || isUniqueViolation(err) {
			return ErrEmailTaken
		}
		r.log.Error("Failed to create member", zap.String("email", member.Email), zap.Error(err))
		return err
	}

	r.log.Info("Member registered", zap.String("member_id", member.ID), zap.String("email", member.Email))
	return nil
}

// GetMember retrieves a member by id
func (r *MemberRepository) GetMember(ctx context.Context, id string) (*db.Member, error) {
	var member db.Member
	err := r.db.WithContext(ctx).First(&member, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		r.log.Error("Failed to get member", zap.String("member_id", id), zap.Error(err))
		return nil, err
	}

	return &member, nil
}

// ListMembers returns all members
func (r *MemberRepository) ListMembers(ctx context.Context) ([]*db.Member, error) {
	var members []*db.Member
	if err := r.db.WithContext(ctx).Order("registration_date, id").Find(&members).Error; err != nil {
		r.log.Error("Failed to list members", zap.Error(err))
		return nil, err
	}
	return members, nil
}

// CurrentLoan is the denormalized active-loan slice of a member view
type CurrentLoan struct {
	LoanID             string
	BookTitle          string
	BookAuthor         string
	LoanDate           time.Time
	ExpectedReturnDate time.Time
}

// MemberWithLoan pairs a member with its active loan, if any
type MemberWithLoan struct {
	Member      *db.Member
	CurrentLoan *CurrentLoan
}

// ListMembersWithCurrentLoan assembles the member view: every member plus
// the book title/author of its active loan. Each member has at most one
// active loan, so a single batched join replaces a query per member. Reads
// run without locking; a concurrent return may or may not show up, which is
// acceptable for this listing.
func (r *MemberRepository) ListMembersWithCurrentLoan(ctx context.Context) ([]*MemberWithLoan, error) {
	members, err := r.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	type activeLoanRow struct {
		LoanID             string
		MemberID           string
		LoanDate           time.Time
		ExpectedReturnDate time.Time
		Title              string
		Author             string
	}

	var rows []activeLoanRow
	err = r.db.WithContext(ctx).Table("loans").
		Select("loans.id AS loan_id, loans.member_id, loans.loan_date, loans.expected_return_date, books.title, books.author").
		Joins("JOIN books ON books.id = loans.book_id").
		Where("loans.status = ?", db.LoanStatusActive).
		Scan(&rows).Error
	if err != nil {
		r.log.Error("Failed to load active loans", zap.Error(err))
		return nil, err
	}

	byMember := make(map[string]*CurrentLoan, len(rows))
	for _, row := range rows {
		byMember[row.MemberID] = &CurrentLoan{
			LoanID:             row.LoanID,
			BookTitle:          row.Title,
			BookAuthor:         row.Author,
			LoanDate:           row.LoanDate,
			ExpectedReturnDate: row.ExpectedReturnDate,
		}
	}

	views := make([]*MemberWithLoan, len(members))
	for i, member := range members {
		views[i] = &MemberWithLoan{
			Member:      member,
			CurrentLoan: byMember[member.ID],
		}
	}

	return views, nil
}

// isUniqueViolation matches the unique-constraint error texts of PostgreSQL
// and SQLite; GORM does not normalize them across drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
