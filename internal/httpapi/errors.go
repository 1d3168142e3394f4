package httpapi

import (
	"context"
	"errors"

	"github.com/biblioteca/services/lending/internal/repo"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// writeRepoError maps repository errors onto the HTTP taxonomy: NotFound
// and Conflict get specific, field-addressable bodies; anything else is
// reported generically so store-level detail never leaks to the caller.
func (s *Server) writeRepoError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repo.ErrMemberNotFound):
		return notFound(c, "member not found")
	case errors.Is(err, repo.ErrBookNotFound):
		return notFound(c, "book not found")
	case errors.Is(err, repo.ErrLoanNotFound):
		return notFound(c, "loan not found")

	case errors.Is(err, repo.ErrEmailTaken):
		return fieldConflict(c, "email", "email already registered")
	case errors.Is(err, repo.ErrISBNTaken):
		return fieldConflict(c, "isbn", "isbn already registered")
	case errors.Is(err, repo.ErrMemberHasActiveLoan):
		return fieldConflict(c, "member_id", "member already has an active loan")
	case errors.Is(err, repo.ErrBookUnavailable):
		return fieldConflict(c, "book_id", "book is not available")
	case errors.Is(err, repo.ErrLoanAlreadyReturned):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "loan already returned",
		})

	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	}

	s.log.Error("Unhandled repository error",
		zap.String("path", c.OriginalURL()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": msg})
}

// fieldConflict reports a business-rule conflict attributed to the request
// field that caused it, in the same shape validation errors use.
func fieldConflict(c *fiber.Ctx, field, msg string) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"errors": map[string][]string{field: {msg}},
	})
}

func badRequest(c *fiber.Ctx, fields map[string][]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": fields})
}
