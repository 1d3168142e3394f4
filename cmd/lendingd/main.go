package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biblioteca/services/lending/internal/config"
	"github.com/biblioteca/services/lending/internal/db"
	"github.com/biblioteca/services/lending/internal/events"
	"github.com/biblioteca/services/lending/internal/httpapi"
	"github.com/biblioteca/services/lending/internal/metrics"
	"github.com/biblioteca/services/lending/internal/repo"
	"github.com/biblioteca/services/lending/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Lending service starting")

	// Connect to database
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Run migrations
	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	memberRepo := repo.NewMemberRepository(database, log)
	bookRepo := repo.NewBookRepository(database, log)
	loanRepo := repo.NewLoanRepository(database, log)

	// Connect to RabbitMQ; the API stays up without it, events disabled
	log.Info("Connecting to RabbitMQ")
	var publisher events.Publisher
	amqpPublisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, event publishing disabled", zap.Error(err))
	} else {
		publisher = amqpPublisher
		defer amqpPublisher.Close()
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// API server
	server := httpapi.NewServer(memberRepo, bookRepo, loanRepo, publisher, m, log)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.HTTPPort)
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.Listen(addr); err != nil {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Ops server for health checks and metrics scraping
	opsMux := http.NewServeMux()
	opsMux.HandleFunc("/healthz", healthHandler(database, publisher, log))
	opsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	opsServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.OpsPort),
		Handler:      opsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting ops server", zap.String("address", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve ops endpoints", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := opsServer.Shutdown(ctx); err != nil {
		log.Error("Ops server shutdown error", zap.Error(err))
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := database.Close(); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	log.Info("Server stopped")
}

func healthHandler(database *db.DB, publisher events.Publisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check database connection
		if err := database.Ping(); err != nil {
			log.Error("Database health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: database connection failed"))
			return
		}

		// Check RabbitMQ connection when publishing is enabled
		if publisher != nil && !publisher.IsHealthy() {
			log.Error("RabbitMQ health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: rabbitmq connection failed"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}
}
