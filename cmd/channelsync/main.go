package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/staybridge/channelsync/internal/config"
	"github.com/staybridge/channelsync/internal/db"
	"github.com/staybridge/channelsync/internal/engine"
	"github.com/staybridge/channelsync/internal/feed"
	"github.com/staybridge/channelsync/internal/notify"
	"github.com/staybridge/channelsync/internal/scheduler"
	"github.com/staybridge/channelsync/internal/validator"
	"github.com/staybridge/channelsync/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting ChannelSync...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Initialize notifier for alerts
	notifyCfg := &notify.Config{
		WebhookEnabled: cfg.Notify.WebhookEnabled,
		WebhookURL:     cfg.Notify.WebhookURL,
		CooldownPeriod: time.Duration(cfg.Notify.CooldownMinutes) * time.Minute,
	}
	if notifyCfg.WebhookEnabled {
		if err := notify.ValidateConfig(notifyCfg); err != nil {
			log.Fatalf("Invalid alert configuration: %v", err)
		}
	}
	notifier := notify.New(notifyCfg)
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (cooldown: %d min)", cfg.Notify.CooldownMinutes)
	}

	// Initialize feed fetcher with a shared outbound rate limit
	fetcher := feed.New(
		feed.WithTimeout(cfg.Sync.FetchTimeout),
		feed.WithRateLimit(cfg.Sync.FetchRPS, cfg.Sync.FetchBurst),
	)

	// Initialize the sync engine
	orchestrator := engine.NewOrchestrator(database, fetcher, cfg.Sync, notifier)
	coordinator := engine.NewCoordinator(database, orchestrator, cfg.Sync.MaxConcurrentProperties)
	resolver := engine.NewResolver(database)
	detector := engine.NewDetector(database, time.Duration(cfg.Sync.TurnoverHours)*time.Hour)

	// Initialize feed URL validator
	urlValidator := validator.New()

	// Initialize scheduler
	sched := scheduler.New(database, orchestrator, cfg.Sync.LogRetentionDays)

	// Initialize handlers
	handlers := web.NewHandlers(
		cfg,
		database,
		fetcher,
		urlValidator,
		orchestrator,
		coordinator,
		resolver,
		detector,
		sched,
		notifier,
	)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	// Setup routes
	web.SetupRoutes(router, handlers)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop scheduler
	sched.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
