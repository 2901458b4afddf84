// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Incident backend
	BackendURL     string
	BackendTimeout time.Duration

	// Database (audit trail); empty disables it outside production
	DatabaseURL string

	// Redis (session cache); empty falls back to the in-memory store
	RedisURL string

	// RabbitMQ (report events); empty disables publishing
	AMQPURL     string
	EventsQueue string

	// Security
	JWTSecret      string
	SessionTTL     time.Duration
	AllowedOrigins []string
	RateLimitRPM   int

	// Editor send behaviour: "auto_save" | "require_clean"
	SendPolicy string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:5000"), "/"),
		BackendTimeout: time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 15)) * time.Second,

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		AMQPURL:     getEnv("AMQP_URL", ""),
		EventsQueue: getEnv("EVENTS_QUEUE", "triage.reports"),

		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_MINUTES", 480)) * time.Minute,
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),

		SendPolicy: getEnv("SEND_POLICY", "auto_save"),
	}

	// Validate required fields in production
	if cfg.Environment == "production" {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if os.Getenv("BACKEND_URL") == "" {
			return nil, fmt.Errorf("BACKEND_URL is required in production")
		}
		if cfg.JWTSecret == defaultJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	switch cfg.SendPolicy {
	case "auto_save", "require_clean":
	default:
		return nil, fmt.Errorf("SEND_POLICY must be auto_save or require_clean, got %q", cfg.SendPolicy)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
