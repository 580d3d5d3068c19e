package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Upcoming-appointments API
	AppointmentsBaseURL string
	AppointmentsUserID  int
	AppointmentsTimeout time.Duration

	// Booking flow
	BookingRefreshDelay time.Duration
	BookingCueTimeout   time.Duration
	BookingCuesFile     string

	// Session snapshots
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	DatabaseURL string

	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	BookingEventsQueueURL   string
	TranscriptArchiveBucket string

	CORSAllowedOrigins []string
	SessionCreateRate  float64
	SessionCreateBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		AppointmentsBaseURL: strings.TrimRight(getEnv("APPOINTMENTS_BASE_URL", "https://api-dev.physiotattva247.com"), "/"),
		AppointmentsUserID:  getEnvAsInt("APPOINTMENTS_USER_ID", 1),
		AppointmentsTimeout: getEnvAsDuration("APPOINTMENTS_TIMEOUT", 10*time.Second),

		BookingRefreshDelay: getEnvAsDuration("BOOKING_REFRESH_DELAY", 2*time.Second),
		BookingCueTimeout:   getEnvAsDuration("BOOKING_CUE_TIMEOUT", 2*time.Minute),
		BookingCuesFile:     getEnv("BOOKING_CUES_FILE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:               getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BookingEventsQueueURL:   getEnv("BOOKING_EVENTS_QUEUE_URL", ""),
		TranscriptArchiveBucket: getEnv("TRANSCRIPT_ARCHIVE_BUCKET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		SessionCreateRate:  getEnvAsFloat("SESSION_CREATE_RATE", 1),
		SessionCreateBurst: getEnvAsInt("SESSION_CREATE_BURST", 5),
	}
}

// AWSEnabled reports whether any AWS-backed adapter is configured.
func (c *Config) AWSEnabled() bool {
	return c.BookingEventsQueueURL != "" || c.TranscriptArchiveBucket != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
