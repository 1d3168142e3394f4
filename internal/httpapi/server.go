package httpapi

import (
	"context"
	"time"

	"github.com/biblioteca/services/lending/internal/events"
	"github.com/biblioteca/services/lending/internal/metrics"
	"github.com/biblioteca/services/lending/internal/repo"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// requestTimeout bounds every handler's store work; a request that cannot
// finish within it surfaces a transient failure instead of hanging.
const requestTimeout = 5 * time.Second

// Server is the HTTP front of the lending service
type Server struct {
	app       *fiber.App
	members   *repo.MemberRepository
	books     *repo.BookRepository
	loans     *repo.LoanRepository
	publisher events.Publisher
	metrics   *metrics.Metrics
	validate  *validator.Validate
	log       *zap.Logger
}

// NewServer wires repositories, publisher and metrics into a Fiber app.
// The publisher may be nil when the broker is unreachable; the API then
// runs with event publishing disabled.
func NewServer(
	members *repo.MemberRepository,
	books *repo.BookRepository,
	loans *repo.LoanRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *Server {
	s := &Server{
		members:   members,
		books:     books,
		loans:     loans,
		publisher: publisher,
		metrics:   m,
		validate:  newValidator(),
		log:       log,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           90 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(s.requestContext())
	app.Use(m.Middleware())

	api := app.Group("/api")
	api.Get("/members", s.listMembers)
	api.Post("/members", s.createMember)
	api.Get("/books", s.listBooks)
	api.Get("/books/available", s.listAvailableBooks)
	api.Post("/books", s.createBook)
	api.Post("/loans", s.createLoan)
	api.Put("/loans/:id/return", s.returnLoan)

	s.app = app
	return s
}

// App exposes the underlying Fiber app, used by tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts serving on the given address
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requestContext tags each request with an id, bounds it with the store
// timeout, and logs method/status/duration on completion.
func (s *Server) requestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("X-Request-ID", id)

		ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
		defer cancel()
		c.SetUserContext(ctx)

		start := time.Now()
		err := c.Next()

		s.log.Info("request",
			zap.String("request_id", id),
			zap.String("method", c.Method()),
			zap.String("path", c.OriginalURL()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// publishAsync fires a domain event without blocking or failing the
// request; the store is the source of truth, events are best-effort.
func (s *Server) publishAsync(eventType string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.publisher.Publish(ctx, eventType, payload); err != nil {
			s.log.Error("Failed to publish event",
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}()
}
