package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/api"
	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"github.com/k05m0navt/mafia-insight-sub007/internal/notify"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scheduler"
	"github.com/k05m0navt/mafia-insight-sub007/internal/scraper"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
)

const Version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Server.Environment); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Mafia Insight Import Service",
		zap.String("version", Version),
		zap.String("environment", cfg.Server.Environment),
	)

	// Initialize database
	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer config.CloseDatabase(db)

	logger.Info("Database initialized successfully")

	// Wire the import pipeline
	source := scraper.NewSource(cfg)
	alerter := notify.NewWebhookAlerter(cfg.Alerts.WebhookURL)
	orchestrator := importer.NewOrchestrator(db, source, alerter, cfg.Import)
	verifier := importer.NewVerifier(db, source)

	// Initialize scheduler
	cronScheduler := scheduler.NewScheduler(cfg, orchestrator, verifier)
	if cfg.Scheduler.Enabled {
		if err := cronScheduler.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	// Initialize HTTP router
	router := api.NewRouter(cfg, db, orchestrator, verifier)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop scheduler
	cronScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Cancel any in-flight import cooperatively; its checkpoint makes the
	// next start resume where it left off.
	if err := orchestrator.Shutdown(ctx); err != nil {
		logger.Error("Import pipeline did not stop cleanly", zap.Error(err))
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
