package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muralhub/wallpaper-service/internal/categories"
	"github.com/muralhub/wallpaper-service/internal/config"
	"github.com/muralhub/wallpaper-service/internal/ingestion"
	"github.com/muralhub/wallpaper-service/internal/logger"
	"github.com/muralhub/wallpaper-service/internal/providers"
	"github.com/muralhub/wallpaper-service/internal/server"
	"github.com/muralhub/wallpaper-service/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logg, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logg.Sync()

	// Initialize storage
	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		logg.Fatal("failed to initialize storage", "error", err)
	}
	defer store.Close()

	// Seed the built-in categories; idempotent across restarts
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.SeedCategories(seedCtx, categories.Defaults()); err != nil {
		seedCancel()
		logg.Fatal("failed to seed categories", "error", err)
	}
	seedCancel()

	// Initialize provider adapters and the ingestion service
	unsplash := providers.NewUnsplashProvider(cfg.Ingestion.UnsplashAccessKey, cfg.Ingestion.ProviderTimeout, logg)
	pexels := providers.NewPexelsProvider(cfg.Ingestion.PexelsAPIKey, cfg.Ingestion.ProviderTimeout, logg)
	ingestor := ingestion.NewService(cfg.Ingestion, store, unsplash, pexels, logg)

	// Initialize HTTP server for API endpoints
	httpServer := server.NewServer(cfg.Server, store, ingestor, []providers.Provider{unsplash, pexels}, logg)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server
	go func() {
		logg.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			logg.Error("HTTP server error", "error", err)
		}
	}()

	// Start ingestion service
	go func() {
		logg.Info("starting ingestion service", "interval", cfg.Ingestion.Interval.String())
		if err := ingestor.Start(ctx); err != nil {
			logg.Error("ingestion service stopped", "error", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logg.Info("shutdown signal received, gracefully shutting down")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown services
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("HTTP server shutdown error", "error", err)
	}

	cancel() // Cancel ingestion context
	logg.Info("shutdown complete")
}
