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
	"github.com/macjediwizard/officebridge/internal/activity"
	"github.com/macjediwizard/officebridge/internal/auth"
	"github.com/macjediwizard/officebridge/internal/config"
	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/notify"
	"github.com/macjediwizard/officebridge/internal/scheduler"
	syncengine "github.com/macjediwizard/officebridge/internal/sync"
	"github.com/macjediwizard/officebridge/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
	alertCooldown   = time.Hour
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting OfficeBridge...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	if err := cfg.Validate(ctx); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
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

	// Initialize Azure AD provider for the consent flow
	azure, err := auth.NewAzureProvider(
		ctx,
		cfg.Azure.Issuer(),
		cfg.Azure.ClientID,
		cfg.Azure.ClientSecret,
		cfg.Azure.RedirectURL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize Azure provider: %v", err)
	}

	// Initialize session manager
	sessionManager := auth.NewSessionManager(cfg.Security.SessionSecret, cfg.IsProduction())

	// Token provider refreshes Graph access tokens per account
	tokens := auth.NewTokenProvider(database, azure.OAuthConfig())

	// Initialize sync engine
	engine := syncengine.NewEngine(database, tokens, syncengine.Options{
		BaseURL:           cfg.Graph.BaseURL,
		PageSize:          cfg.Graph.PageSize,
		WindowWeeks:       cfg.Sync.WindowWeeks,
		RequestsPerSecond: cfg.Graph.RPS,
		Burst:             cfg.Graph.Burst,
	})

	// Activity tracker feeds the dashboard
	tracker := activity.NewTracker()

	// Initialize notifier for alerts
	notifier := notify.New(cfg.Alerts, alertCooldown)
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (webhook: %v, email: %v)",
			cfg.Alerts.WebhookEnabled(), cfg.Alerts.EmailEnabled())
	}

	// Initialize scheduler
	sched := scheduler.New(database, engine, tracker, notifier,
		time.Duration(cfg.Sync.Interval)*time.Second)

	// Initialize handlers
	handlers := web.NewHandlers(
		cfg,
		database,
		azure,
		sessionManager,
		engine,
		sched,
		tracker,
		notifier,
	)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())
	router.Use(web.RateLimiter(cfg.RateLimiting.RPS, cfg.RateLimiting.Burst))

	// Setup routes
	web.SetupRoutes(router, handlers, sessionManager)

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
