package repo

import (
	"context"
	"testing"

	"github.com/biblioteca/services/lending/internal/db"
	"github.com/biblioteca/services/lending/pkg/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// SQLite allows a single writer; one pooled connection keeps concurrent
	// test writers from tripping SQLITE_BUSY
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	database := &db.DB{DB: gormDB}

	// Full migrations, partial unique indexes included
	err = db.RunMigrations(database)
	require.NoError(t, err)

	return database
}

func newTestRepos(t *testing.T) (*db.DB, *MemberRepository, *BookRepository, *LoanRepository) {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")

	return database,
		NewMemberRepository(database, log),
		NewBookRepository(database, log),
		NewLoanRepository(database, log)
}

func createTestMember(t *testing.T, members *MemberRepository, name, email string) *db.Member {
	member := &db.Member{
		Name:   name,
		Email:  email,
		Phone:  "555-0100-22",
		Active: true,
	}
	require.NoError(t, members.CreateMember(context.Background(), member))
	return member
}

func createTestBook(t *testing.T, books *BookRepository, title, isbn string) *db.Book {
	book := &db.Book{
		Title:           title,
		Author:          "Test Author",
		ISBN:            isbn,
		Genre:           "fiction",
		PublicationDate: db.Today(),
	}
	require.NoError(t, books.CreateBook(context.Background(), book))
	return book
}

// assertAvailabilityInvariant checks that every book's availability flag
// equals the negation of "an active loan references it", and that no book
// or member carries more than one active loan.
func assertAvailabilityInvariant(t *testing.T, database *db.DB) {
	t.Helper()

	var books []*db.Book
	require.NoError(t, database.Find(&books).Error)

	for _, book := range books {
		var active int64
		err := database.Model(&db.Loan{}).
			Where("book_id = ? AND status = ?", book.ID, db.LoanStatusActive).
			Count(&active).Error
		require.NoError(t, err)
		require.LessOrEqual(t, active, int64(1), "book %s has %d active loans", book.ID, active)
		require.Equal(t, active == 0, book.Available, "book %s availability out of sync", book.ID)
	}

	var members []*db.Member
	require.NoError(t, database.Find(&members).Error)

	for _, member := range members {
		var active int64
		err := database.Model(&db.Loan{}).
			Where("member_id = ? AND status = ?", member.ID, db.LoanStatusActive).
			Count(&active).Error
		require.NoError(t, err)
		require.LessOrEqual(t, active, int64(1), "member %s has %d active loans", member.ID, active)
	}
}
