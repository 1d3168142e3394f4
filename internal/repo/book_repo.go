package repo

import (
	"context"
	"errors"

	"github.com/biblioteca/services/lending/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrBookNotFound is returned when a book id does not resolve
	ErrBookNotFound = errors.New("book not found")

	// ErrISBNTaken is returned when another book already carries the ISBN
	ErrISBNTaken = errors.New("isbn already registered")
)

// BookRepository handles book records
type BookRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewBookRepository creates a new book repository
func NewBookRepository(database *db.DB, logger *zap.Logger) *BookRepository {
	return &BookRepository{
		db:  database,
		log: logger,
	}
}

// CreateBook adds a new book to the catalog. New books start available; the
// ISBN uniqueness check and the insert share one transaction, backed by the
// unique index on isbn.
func (r *BookRepository) CreateBook(ctx context.Context, book *db.Book) error {
	book.Available = true

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Book{}).Where("isbn = ?", book.ISBN).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrISBNTaken
		}
		return tx.Create(book).Error
	})
	if err != nil {
		if errors.Is(err, ErrISBNTaken) || isUniqueViolation(err) {
			return ErrISBNTaken
		}
		r.log.Error("Failed to create book", zap.String("isbn", book.ISBN), zap.Error(err))
		return err
	}

	r.log.Info("Book added", zap.String("book_id", book.ID), zap.String("isbn", book.ISBN), zap.String("title", book.Title))
	return nil
}

// GetBook retrieves a book by id
func (r *BookRepository) GetBook(ctx context.Context, id string) (*db.Book, error) {
	var book db.Book
	err := r.db.WithContext(ctx).First(&book, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		r.log.Error("Failed to get book", zap.String("book_id", id), zap.Error(err))
		return nil, err
	}

	return &book, nil
}

// ListBooks returns all books
func (r *BookRepository) ListBooks(ctx context.Context) ([]*db.Book, error) {
	var books []*db.Book
	if err := r.db.WithContext(ctx).Order("title, id").Find(&books).Error; err != nil {
		r.log.Error("Failed to list books", zap.Error(err))
		return nil, err
	}
	return books, nil
}

// ListAvailableBooks returns books not currently out on loan. The stored
// availability flag keeps this a plain filter, no join with loans.
func (r *BookRepository) ListAvailableBooks(ctx context.Context) ([]*db.Book, error) {
	var books []*db.Book
	if err := r.db.WithContext(ctx).Where("available = ?", true).Order("title, id").Find(&books).Error; err != nil {
		r.log.Error("Failed to list available books", zap.Error(err))
		return nil, err
	}
	return books, nil
}
