package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the RFQ settlement service.
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string

	// Database Configuration
	DatabaseURL         string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxIdleTime   time.Duration
	DBConnMaxLifetime   time.Duration
	DatabaseRequired    bool

	// Domain configuration file (asset pairs, per-chain vault endpoints)
	ChainsConfigPath string

	// Vault Client Configuration
	VaultRequestTimeout   time.Duration
	VaultRetryAttempts    int
	VaultRetryBaseDelay   time.Duration
	VaultRetryMaxDelay    time.Duration
	VaultBreakerThreshold int           // consecutive failures before the breaker opens
	VaultBreakerCooldown  time.Duration // time the breaker stays open before probing again

	// RFQ protocol tuning
	QuoteRequestTTL   time.Duration // lifetime of a quote request before lazy expiry applies
	QuoteTTL          time.Duration // lifetime of an individual quote before lazy expiry applies
	WhitelistMode     string        // "permissioned" or "permissionless"

	// Security Configuration
	AdminKey    string
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	// Rate Limiting
	RateLimitRequests int
	RateLimitWindow   int

	// Firestore Configuration (optional real-time RFQ board sync)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	LogLevel string
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables have no defaults and must be explicitly set.
// Call Validate() after Load() to ensure all required configuration is present.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		DatabaseRequired:  getEnvBool("DATABASE_REQUIRED", true),

		ChainsConfigPath: getEnv("CHAINS_CONFIG_PATH", "./config/chains.yaml"),

		VaultRequestTimeout:   getEnvDuration("VAULT_REQUEST_TIMEOUT", 10*time.Second),
		VaultRetryAttempts:    getEnvInt("VAULT_RETRY_ATTEMPTS", 3),
		VaultRetryBaseDelay:   getEnvDuration("VAULT_RETRY_BASE_DELAY", 200*time.Millisecond),
		VaultRetryMaxDelay:    getEnvDuration("VAULT_RETRY_MAX_DELAY", 5*time.Second),
		VaultBreakerThreshold: getEnvInt("VAULT_BREAKER_THRESHOLD", 5),
		VaultBreakerCooldown:  getEnvDuration("VAULT_BREAKER_COOLDOWN", 30*time.Second),

		QuoteRequestTTL: getEnvDuration("QUOTE_REQUEST_TTL", 5*time.Minute),
		QuoteTTL:        getEnvDuration("QUOTE_TTL", 30*time.Second),
		WhitelistMode:   getEnv("WHITELIST_MODE", "permissioned"),

		AdminKey:    getEnv("ADMIN_KEY", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW", 60),

		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else {
		if strings.Contains(c.DatabaseURL, "sslmode=disable") {
			errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
		}
	}

	if c.AdminKey == "" {
		errs = append(errs, "ADMIN_KEY is required but not set")
	} else if len(c.AdminKey) < 32 {
		errs = append(errs, "ADMIN_KEY must be at least 32 characters for security")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lowerSecret := strings.ToLower(c.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, "JWT_SECRET contains weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters for security")
		}
	}

	switch c.WhitelistMode {
	case "permissioned", "permissionless":
	default:
		errs = append(errs, "WHITELIST_MODE must be one of permissioned, permissionless")
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local development.
// WARNING: Do not use this in production - use Validate() instead.
func (c *Config) ValidateForDevelopment() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("development configuration validation failed:\n  - DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
