package httpapi

import (
	"time"

	"github.com/biblioteca/services/lending/internal/db"
	"github.com/biblioteca/services/lending/internal/events"
	"github.com/gofiber/fiber/v2"
)

// createBook handles POST /api/books
func (s *Server) createBook(c *fiber.Ctx) error {
	var req CreateBookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, map[string][]string{"body": {"invalid request body"}})
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, validationMessages(err))
	}

	// Format is already validated; parse cannot fail here
	publicationDate, _ := time.Parse(dateLayout, req.PublicationDate)

	book := &db.Book{
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		Genre:           req.Genre,
		PublicationDate: publicationDate,
	}
	if err := s.books.CreateBook(c.UserContext(), book); err != nil {
		return s.writeRepoError(c, err)
	}

	s.publishAsync(events.EventTypeBookAdded, map[string]interface{}{
		"book_id": book.ID,
		"title":   book.Title,
		"author":  book.Author,
		"isbn":    book.ISBN,
	})

	return c.Status(fiber.StatusCreated).JSON(bookToResponse(book))
}

// listBooks handles GET /api/books
func (s *Server) listBooks(c *fiber.Ctx) error {
	books, err := s.books.ListBooks(c.UserContext())
	if err != nil {
		return s.writeRepoError(c, err)
	}
	return c.JSON(booksToResponse(books))
}

// listAvailableBooks handles GET /api/books/available
func (s *Server) listAvailableBooks(c *fiber.Ctx) error {
	books, err := s.books.ListAvailableBooks(c.UserContext())
	if err != nil {
		return s.writeRepoError(c, err)
	}
	return c.JSON(booksToResponse(books))
}

func booksToResponse(books []*db.Book) []BookResponse {
	out := make([]BookResponse, len(books))
	for i, book := range books {
		out[i] = bookToResponse(book)
	}
	return out
}
