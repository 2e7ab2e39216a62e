package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/wargadesa/desaflow/internal/adapter/fsm"
	"github.com/wargadesa/desaflow/internal/adapter/otel"
	"github.com/wargadesa/desaflow/internal/adapter/river"
	"github.com/wargadesa/desaflow/internal/adapter/sqlite"
	"github.com/wargadesa/desaflow/internal/app"
	"github.com/wargadesa/desaflow/internal/config"

	handler "github.com/wargadesa/desaflow/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("desaflow: %v", err)
	}
}

func run() error {
	cfg := config.Load()
	ctx := context.Background()

	// --- Telemetry ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()

	queueClient, err := river.Setup(ctx, db, cfg.QueueWorkers)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	if err := queueClient.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}

	queue := otel.NewTracingQueue(river.NewPublisher(queueClient))
	requests := otel.NewTracingRepository(store.Requests)

	// --- Application ---
	policy := app.NewNotificationPolicy(queue, slog.Default(), cfg.AdminRecipients)
	svc := app.NewRequestService(requests, store.Subjects, fsm.New(), policy)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware("desaflow", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("desaflow", "0.1.0"))
	handler.Register(api, svc)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("desaflow listening on :%s", cfg.Port)
		log.Printf("API docs: http://localhost:%s/docs", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := queueClient.Stop(shutdownCtx); err != nil {
		log.Printf("queue shutdown error: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown error: %v", err)
	}

	log.Println("stopped")
	return nil
}
