package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS (empty URL disables event publishing)
	NatsURL string

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort         string
	ServiceApiPort  string
	CorsAllowOrigin string

	// Logging
	LogLevel  string
	LogFormat string

	// Booking engine
	StrictTransitions bool
	BookingLockTTL    time.Duration

	// Auto-expiry sweep
	SweepCron    string
	SweepOnStart bool

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ImageBaseS3URL     string
	ImageMaxDimension  int
	ImageMaxSizeMB     int

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load reads configuration from the environment, after loading .env if present.
// RunMode comes from the command-line flag.
func Load(runMode string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{RunMode: runMode}
	var err error

	if cfg.MongoURI, err = getRequiredEnv("MONGO_URI"); err != nil {
		return nil, err
	}
	if cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET"); err != nil {
		return nil, err
	}

	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "rentmarket")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.NatsURL = getEnv("NATS_URL", "")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsAllowOrigin = getEnv("CORS_ALLOW_ORIGIN", "*")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.SweepCron = getEnv("SWEEP_CRON", "@every 1h")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.ImageBaseS3URL = getEnv("IMAGE_BASE_S3_URL", "")

	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.JwtTTL, err = getSeconds("JWT_TTL_SECONDS", 3600); err != nil {
		return nil, err
	}
	if cfg.BookingLockTTL, err = getSeconds("BOOKING_LOCK_TTL_SECONDS", 10); err != nil {
		return nil, err
	}
	if cfg.StrictTransitions, err = getBool("BOOKING_STRICT_TRANSITIONS", true); err != nil {
		return nil, err
	}
	if cfg.SweepOnStart, err = getBool("SWEEP_ON_START", true); err != nil {
		return nil, err
	}
	if cfg.ImageMaxDimension, err = getInt("IMAGE_MAX_DIMENSION", 2048); err != nil {
		return nil, err
	}
	if cfg.ImageMaxSizeMB, err = getInt("IMAGE_MAX_SIZE_MB", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitBucketSize, err = getInt("RATE_LIMIT_BUCKET_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimitRefillRate, err = getInt("RATE_LIMIT_REFILL_RATE", 10); err != nil {
		return nil, err
	}

	return cfg, nil
}

// StorageEnabled reports whether an S3 bucket is configured for listing images.
func (c *Config) StorageEnabled() bool {
	return c.AwsS3Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getRequiredEnv(key string) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return "", fmt.Errorf("missing required environment variable: %s", key)
	}
	return value, nil
}

func getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getSeconds(key string, defaultSeconds int64) (time.Duration, error) {
	v, err := strconv.ParseInt(getEnv(key, strconv.FormatInt(defaultSeconds, 10)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(v) * time.Second, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
