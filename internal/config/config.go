package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/macjediwizard/officebridge/internal/validator"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrSessionSecretSize = errors.New("session secret must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Azure        AzureConfig
	Graph        GraphConfig
	Security     SecurityConfig
	Database     DatabaseConfig
	RateLimiting RateLimitConfig
	Sync         SyncConfig
	Alerts       AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	BaseURL     string
	Environment Environment
}

// AzureConfig holds the Azure AD app registration used for the Microsoft
// Graph consent flow and token refresh.
type AzureConfig struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	RedirectURL  string
}

// Issuer returns the Azure AD v2.0 OIDC issuer for the configured tenant.
func (a AzureConfig) Issuer() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", a.Tenant)
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	BaseURL  string
	PageSize int
	RPS      float64
	Burst    int
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	SessionSecret string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SyncConfig holds sync interval and window configuration.
type SyncConfig struct {
	Interval     int // seconds between scheduled cycles
	MinInterval  int
	MaxInterval  int
	WindowWeeks  int // event sync window extends this many weeks either side of now
}

// AlertConfig holds sync failure alert configuration.
type AlertConfig struct {
	WebhookURL string
	SMTPHost   string
	SMTPPort   int
	SMTPFrom   string
	SMTPTo     []string
}

// WebhookEnabled returns true when a webhook alert target is configured.
func (a AlertConfig) WebhookEnabled() bool {
	return a.WebhookURL != ""
}

// EmailEnabled returns true when SMTP alerting is fully configured.
func (a AlertConfig) EmailEnabled() bool {
	return a.SMTPHost != "" && a.SMTPFrom != "" && len(a.SMTPTo) > 0
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	// Server configuration
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.BaseURL = getEnvRequired("BASE_URL")
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// Azure AD configuration
	cfg.Azure.ClientID = getEnvRequired("AZURE_CLIENT_ID")
	cfg.Azure.ClientSecret = getEnvRequired("AZURE_CLIENT_SECRET")
	cfg.Azure.Tenant = getEnv("AZURE_TENANT", "common")
	cfg.Azure.RedirectURL = getEnvRequired("AZURE_REDIRECT_URL")

	// Microsoft Graph configuration
	cfg.Graph.BaseURL = getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0")
	pageSize, err := getEnvInt("GRAPH_PAGE_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("%w: GRAPH_PAGE_SIZE: %w", ErrInvalidConfig, err)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: GRAPH_PAGE_SIZE must be positive", ErrInvalidConfig)
	}
	cfg.Graph.PageSize = pageSize

	graphRPS, err := getEnvFloat("GRAPH_RPS", 4.0)
	if err != nil {
		return nil, fmt.Errorf("%w: GRAPH_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.Graph.RPS = graphRPS

	graphBurst, err := getEnvInt("GRAPH_BURST", 8)
	if err != nil {
		return nil, fmt.Errorf("%w: GRAPH_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.Graph.Burst = graphBurst

	// Security configuration
	cfg.Security.SessionSecret = getEnvRequired("SESSION_SECRET")
	if cfg.Security.SessionSecret != "" && len(cfg.Security.SessionSecret) < 32 {
		return nil, ErrSessionSecretSize
	}

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/officebridge.db")

	// Rate limiting configuration
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10.0)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.RPS = rps

	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.Burst = burst

	// Sync configuration
	interval, err := getEnvInt("SYNC_INTERVAL", 900)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Interval = interval

	minInterval, err := getEnvInt("MIN_SYNC_INTERVAL", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: MIN_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MinInterval = minInterval

	maxInterval, err := getEnvInt("MAX_SYNC_INTERVAL", 86400)
	if err != nil {
		return nil, fmt.Errorf("%w: MAX_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxInterval = maxInterval

	windowWeeks, err := getEnvInt("SYNC_WINDOW_WEEKS", 10)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_WINDOW_WEEKS: %w", ErrInvalidConfig, err)
	}
	if windowWeeks < 1 {
		return nil, fmt.Errorf("%w: SYNC_WINDOW_WEEKS must be positive", ErrInvalidConfig)
	}
	cfg.Sync.WindowWeeks = windowWeeks

	// Alert configuration
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Alerts.SMTPHost = getEnv("ALERT_SMTP_HOST", "")
	smtpPort, err := getEnvInt("ALERT_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("%w: ALERT_SMTP_PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.SMTPPort = smtpPort
	cfg.Alerts.SMTPFrom = getEnv("ALERT_SMTP_FROM", "")
	if to := getEnv("ALERT_SMTP_TO", ""); to != "" {
		cfg.Alerts.SMTPTo = strings.Split(to, ",")
	}

	// Check for missing required configuration
	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if c.Server.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.Azure.ClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	if c.Azure.ClientSecret == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}
	if c.Azure.RedirectURL == "" {
		missing = append(missing, "AZURE_REDIRECT_URL")
	}
	if c.Security.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	return missing
}

// Validate validates URL formats and endpoint reachability.
func (c *Config) Validate(ctx context.Context) error {
	v := validator.New()

	// Validate base URL format
	if err := v.ValidateURL(c.Server.BaseURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: BASE_URL: %w", ErrValidationFailed, err)
	}

	// Validate redirect URL format
	if err := v.ValidateURL(c.Azure.RedirectURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: AZURE_REDIRECT_URL: %w", ErrValidationFailed, err)
	}

	// Validate the Azure AD issuer is reachable
	if err := v.ValidateOIDCIssuer(ctx, c.Azure.Issuer()); err != nil {
		return fmt.Errorf("%w: AZURE_TENANT: %w", ErrValidationFailed, err)
	}

	// Validate the Graph endpoint answers
	if err := v.ValidateGraphEndpoint(ctx, c.Graph.BaseURL); err != nil {
		return fmt.Errorf("%w: GRAPH_BASE_URL: %w", ErrValidationFailed, err)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}
