/*
Package main is the entry point for the Kwite server.

It is responsible for loading configuration, initializing the global logging
system, selecting the store and verifier backends, setting up the HTTP server,
and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kwite/internal/app/chat"
	"kwite/internal/app/db"
	"kwite/internal/app/identity"
	"kwite/internal/app/store"
	"kwite/internal/configs"
	"kwite/internal/handler"
	"kwite/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("in_memory_store", cfg.DatabaseDSN == "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Select the store and verifier backends. An empty DSN runs everything in
	// memory, which LoadConfig only permits in development.
	var (
		directoryStore store.Store
		verifier       identity.Verifier
	)
	if cfg.DatabaseDSN == "" {
		directoryStore = store.NewMemory()
		verifier = identity.NewMemoryVerifier()
	} else {
		pool, err := db.NewPool(cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		directoryStore = store.NewPostgres(pool)
		verifier = identity.NewPostgresVerifier(pool)
	}

	deps := &handler.AppDeps{
		Store:    directoryStore,
		Identity: identity.NewController(directoryStore, verifier),
		Engine:   chat.NewEngine(directoryStore),
		Config:   cfg,
	}

	// Setup HTTP server and routes
	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Kwite Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	directoryStore.Close()

	logx.Info("Server gracefully stopped.")
}
