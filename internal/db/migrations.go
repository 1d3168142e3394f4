package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&Member{}, &Book{}, &Loan{}); err != nil {
		return err
	}

	if err := createIndexes(db.DB); err != nil {
		return err
	}

	return nil
}

func createIndexes(db *gorm.DB) error {
	// Partial unique indexes enforce the one-active-loan rules inside the
	// store itself: a writer that slips past the repository's conditional
	// checks fails the insert instead of corrupting state. Supported by
	// both PostgreSQL and SQLite.
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_member ON loans(member_id) WHERE status = 'active'`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_active_book ON loans(book_id) WHERE status = 'active'`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
