package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Merchant MerchantConfig
	Webhook  WebhookConfig
	Queue    QueueConfig
}

// MerchantConfig seeds the default caller credential.
type MerchantConfig struct {
	Name   string
	APIKey string
}

// WebhookConfig controls outbound webhook delivery.
type WebhookConfig struct {
	SigningSecret  string
	RequestTimeout time.Duration
}

// QueueConfig controls the background queue workers.
type QueueConfig struct {
	BaseRetryDelay time.Duration
	MaxAttempts    int
	Concurrency    int
	PollTimeout    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "payment-gateway"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gateway"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Merchant: MerchantConfig{
			Name:   getenv("MERCHANT_NAME", "mrc_test_001"),
			APIKey: strings.TrimSpace(getenv("MERCHANT_API_KEY", "")),
		},
		Webhook: WebhookConfig{
			SigningSecret:  strings.TrimSpace(getenv("WEBHOOK_SIGNING_SECRET", "")),
			RequestTimeout: getenvDuration("WEBHOOK_REQUEST_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			BaseRetryDelay: getenvDuration("QUEUE_BASE_RETRY_DELAY", time.Minute),
			MaxAttempts:    getenvInt("QUEUE_MAX_ATTEMPTS", 4),
			Concurrency:    getenvInt("QUEUE_CONCURRENCY", 2),
			PollTimeout:    getenvDuration("QUEUE_POLL_TIMEOUT", 5*time.Second),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
