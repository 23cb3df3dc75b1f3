package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Issuer   string   // Issuer claim for tokens (default: notevault-auth)
	Audience []string // Audience claims for access tokens

	AccessTokenTTL      time.Duration // Access token lifetime (default: 15m)
	RefreshTokenTTL     time.Duration // Refresh token lifetime (default: 30 days)
	KeyRotationInterval time.Duration // Rotate the signing key once the active key is this old (default: 90 days)
	KeyGracePeriod      time.Duration // Grace period for retired keys (default: 7 days)
	RSABits             int           // RSA key size (default: 2048)
	SessionCap          int           // Max live sessions per user (default: 10)

	MasterKeyPath string // Optional: path to master encryption key file for private keys at rest
	DatabaseFile  string // Path to SQLite database file (default: ./auth.db)
	RedisAddr     string // Optional: Redis address for the login limiter; empty disables it
	RedisPassword string
	RedisDB       int
	SentryDSN     string // Optional: error reporting

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	RotationSchedule     string        // Cron expression for the rotation check (default: daily at 03:00)
}

func LoadConfig() Config {
	// A local .env is a development convenience; missing is fine.
	_ = godotenv.Load()

	return Config{
		Issuer:   getEnvOrDefault("AUTH_ISSUER", "notevault-auth"),
		Audience: []string{getEnvOrDefault("AUTH_AUDIENCE", "notevault")},

		AccessTokenTTL:      getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:     getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		KeyRotationInterval: getEnvDurationOrDefault("AUTH_KEY_ROTATION_INTERVAL", 90*24*time.Hour),
		KeyGracePeriod:      getEnvDurationOrDefault("AUTH_KEY_GRACE_PERIOD", 7*24*time.Hour),
		RSABits:             getEnvIntOrDefault("AUTH_RSA_BITS", 2048),
		SessionCap:          getEnvIntOrDefault("AUTH_SESSION_CAP", 10),

		MasterKeyPath: os.Getenv("AUTH_MASTER_KEY_PATH"),
		DatabaseFile:  getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),
		SentryDSN:     os.Getenv("SENTRY_DSN"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		RotationSchedule:     getEnvOrDefault("AUTH_ROTATION_SCHEDULE", "0 3 * * *"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
