// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue backends.
const (
	BackendJetStream = "jetstream"
	BackendSQS       = "sqs"
	BackendMemory    = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// Queue selection
	QueueBackend string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	QueueStream  string
	QueueSubject string
	QueueMaxAge  time.Duration

	// SQS settings
	SQSQueueURL          string
	SQSEndpoint          string
	SQSVisibilityTimeout time.Duration
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSSessionToken      string

	// Sync loop
	PollInterval       time.Duration
	ReceiveMaxMessages int
	ReceiveWait        time.Duration
	CallGrace          time.Duration
	SendTimeout        time.Duration

	// Images
	ImageBucket   string
	PublicBaseURL string
	MaxImageBytes int64

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory if one exists.
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		CORSOrigins:        getListEnv("CORS_ORIGINS", []string{"http://localhost:3000"}),

		QueueBackend: strings.ToLower(getEnv("QUEUE_BACKEND", BackendJetStream)),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		QueueStream:  getEnv("QUEUE_STREAM", "CHAT_QUEUE"),
		QueueSubject: getEnv("QUEUE_SUBJECT", "chat.queue"),
		QueueMaxAge:  getDurationEnv("QUEUE_MAX_AGE", 7*24*time.Hour),

		// SQS
		SQSQueueURL:          getEnv("SQS_QUEUE_URL", ""),
		SQSEndpoint:          getEnv("SQS_ENDPOINT", ""),
		SQSVisibilityTimeout: getDurationEnv("SQS_VISIBILITY_TIMEOUT", 0),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSSessionToken:      getEnv("AWS_SESSION_TOKEN", ""),

		// Sync loop
		PollInterval:       getDurationEnv("POLL_INTERVAL", 7*time.Second),
		ReceiveMaxMessages: getIntEnv("RECEIVE_MAX_MESSAGES", 10),
		ReceiveWait:        getDurationEnv("RECEIVE_WAIT", 5*time.Second),
		CallGrace:          getDurationEnv("RECEIVE_GRACE", 2*time.Second),
		SendTimeout:        getDurationEnv("SEND_TIMEOUT", 10*time.Second),

		// Images
		ImageBucket:   getEnv("IMAGE_BUCKET", "chat-images"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		MaxImageBytes: int64(getIntEnv("MAX_IMAGE_BYTES", 10<<20)),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// ImagesEnabled reports whether image uploads are configured. Images live in
// the JetStream object store, so only that backend can host them.
func (c *Config) ImagesEnabled() bool {
	return c.PublicBaseURL != "" && c.QueueBackend == BackendJetStream
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.QueueBackend {
	case BackendJetStream:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the jetstream backend"))
		}
	case BackendSQS:
		if c.SQSQueueURL == "" {
			errs = append(errs, errors.New("SQS_QUEUE_URL is required for the sqs backend"))
		}
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the sqs backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.ReceiveMaxMessages <= 0 {
		errs = append(errs, errors.New("RECEIVE_MAX_MESSAGES must be positive"))
	}
	if c.ReceiveWait <= 0 {
		errs = append(errs, errors.New("RECEIVE_WAIT must be positive"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be positive"))
	}
	if c.PublicBaseURL != "" && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		errs = append(errs, errors.New("PUBLIC_BASE_URL must start with https://"))
	}
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_BYTES must be positive"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
