package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/biblioteca/services/lending/internal/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLoan(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	member := createTestMember(t, members, "Ana Torres", "ana@example.com")
	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	loan, err := loans.CreateLoan(ctx, member.ID, book.ID)
	require.NoError(t, err)

	assert.Equal(t, db.LoanStatusActive, loan.Status)
	assert.Nil(t, loan.ActualReturnDate)
	assert.Equal(t, 14*24*time.Hour, loan.ExpectedReturnDate.Sub(loan.LoanDate))

	// The book flips to unavailable in the same transaction
	loanedBook, err := books.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, loanedBook.Available)

	assertAvailabilityInvariant(t, database)
}

func TestCreateLoanMemberNotFound(t *testing.T) {
	database, _, books, loans := newTestRepos(t)
	ctx := context.Background()

	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	_, err := loans.CreateLoan(ctx, uuid.New().String(), book.ID)
	assert.Equal(t, ErrMemberNotFound, err)

	// Nothing was written
	var count int64
	require.NoError(t, database.Model(&db.Loan{}).Count(&count).Error)
	assert.Zero(t, count)
	assertAvailabilityInvariant(t, database)
}

func TestCreateLoanBookNotFound(t *testing.T) {
	database, members, _, loans := newTestRepos(t)
	ctx := context.Background()

	member := createTestMember(t, members, "Ana Torres", "ana@example.com")

	_, err := loans.CreateLoan(ctx, member.ID, uuid.New().String())
	assert.Equal(t, ErrBookNotFound, err)

	var count int64
	require.NoError(t, database.Model(&db.Loan{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateLoanMemberAlreadyBorrowing(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	member := createTestMember(t, members, "Ana Torres", "ana@example.com")
	first := createTestBook(t, books, "Pedro Páramo", "9786071602466")
	second := createTestBook(t, books, "Ficciones", "9780802130303")

	_, err := loans.CreateLoan(ctx, member.ID, first.ID)
	require.NoError(t, err)

	_, err = loans.CreateLoan(ctx, member.ID, second.ID)
	assert.Equal(t, ErrMemberHasActiveLoan, err)

	// The second book stays untouched
	untouched, err := books.GetBook(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Available)
	assertAvailabilityInvariant(t, database)
}

func TestCreateLoanBookUnavailable(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	first := createTestMember(t, members, "Ana Torres", "ana@example.com")
	second := createTestMember(t, members, "Luis Mora", "luis@example.com")
	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	_, err := loans.CreateLoan(ctx, first.ID, book.ID)
	require.NoError(t, err)

	_, err = loans.CreateLoan(ctx, second.ID, book.ID)
	assert.Equal(t, ErrBookUnavailable, err)

	// Exactly one active loan references the book
	var active int64
	err = database.Model(&db.Loan{}).
		Where("book_id = ? AND status = ?", book.ID, db.LoanStatusActive).
		Count(&active).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	assertAvailabilityInvariant(t, database)
}

func TestReturnLoanRoundTrip(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	member := createTestMember(t, members, "Ana Torres", "ana@example.com")
	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	loan, err := loans.CreateLoan(ctx, member.ID, book.ID)
	require.NoError(t, err)

	returned, err := loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, db.LoanStatusReturned, returned.Status)
	require.NotNil(t, returned.ActualReturnDate)

	// Availability restored, one historical record retained
	freed, err := books.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, freed.Available)

	var count int64
	require.NoError(t, database.Model(&db.Loan{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, db.LoanStatusReturned, stored.Status)
	assert.NotNil(t, stored.ActualReturnDate)

	// The member can borrow again
	_, err = loans.CreateLoan(ctx, member.ID, book.ID)
	assert.NoError(t, err)
	assertAvailabilityInvariant(t, database)
}

func TestReturnLoanTwice(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	member := createTestMember(t, members, "Ana Torres", "ana@example.com")
	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	loan, err := loans.CreateLoan(ctx, member.ID, book.ID)
	require.NoError(t, err)

	first, err := loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	_, err = loans.ReturnLoan(ctx, loan.ID)
	assert.Equal(t, ErrLoanAlreadyReturned, err)

	// The losing call changed nothing
	stored, err := loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, stored.Status)
	require.NotNil(t, stored.ActualReturnDate)
	assert.Equal(t, first.ActualReturnDate.Format("2006-01-02"), stored.ActualReturnDate.Format("2006-01-02"))
	assertAvailabilityInvariant(t, database)
}

func TestReturnLoanNotFound(t *testing.T) {
	_, _, _, loans := newTestRepos(t)

	_, err := loans.ReturnLoan(context.Background(), uuid.New().String())
	assert.Equal(t, ErrLoanNotFound, err)
}

func TestConcurrentCreateLoanSingleWinner(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	const contenders = 8

	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	memberIDs := make([]string, contenders)
	for i := 0; i < contenders; i++ {
		member := createTestMember(t, members,
			fmt.Sprintf("Member %d", i),
			fmt.Sprintf("member%d@example.com", i),
		)
		memberIDs[i] = member.ID
	}

	results := make([]error, contenders)
	var wg sync.WaitGroup
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = loans.CreateLoan(ctx, memberIDs[i], book.ID)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch err {
		case nil:
			wins++
		case ErrBookUnavailable:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)

	var active int64
	err := database.Model(&db.Loan{}).
		Where("book_id = ? AND status = ?", book.ID, db.LoanStatusActive).
		Count(&active).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	assertAvailabilityInvariant(t, database)
}

func TestConcurrentReturnSingleWinner(t *testing.T) {
	database, members, books, loans := newTestRepos(t)
	ctx := context.Background()

	member := createTestMember(t, members, "Ana Torres", "ana@example.com")
	book := createTestBook(t, books, "Pedro Páramo", "9786071602466")

	loan, err := loans.CreateLoan(ctx, member.ID, book.ID)
	require.NoError(t, err)

	const contenders = 4
	results := make([]error, contenders)
	var wg sync.WaitGroup
	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = loans.ReturnLoan(ctx, loan.ID)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch err {
		case nil:
			wins++
		case ErrLoanAlreadyReturned:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)
	assertAvailabilityInvariant(t, database)
}
