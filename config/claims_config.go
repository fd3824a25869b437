package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "claims"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// OCR engine
	OCRBaseURL string
	OCRAPIKey  string

	// Claim submission API
	SubmitBaseURL    string
	SubmitAPIKey     string
	SubmitTimeoutSec int
	SubmitMaxRetries int
	SubmitBackoffMS  int

	// Circuit breaker (shared across submission workers)
	BreakerFailureThreshold int
	BreakerOpenSec          int

	// Fusion
	HighThreshold       float64
	MediumThreshold     float64
	ConfidenceCeiling   float64
	ExactMatchBoost     float64
	FuzzyMatchBoost     float64
	SimilarityThreshold float64

	// Deduplication
	DedupRetention time.Duration

	// Worker
	WorkerID             string
	WorkerMax            int
	WorkerQueueSize      int
	ExtractionTimeoutSec int

	// Consumer (Redis Stream)
	ConsumerBatchSize  int
	ConsumerBlockMS    int
	ConsumerMaxRetries int
	LeaseCheckSec      int

	// Audit
	AuditWorkbookPath string
}

func Load() (*Config, error) {
	extractTimeout := getEnvInt("EXTRACTION_TIMEOUT_SEC", 60)

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "claims"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// OCR engine
		OCRBaseURL: getEnv("OCR_BASE_URL", ""),
		OCRAPIKey:  getEnv("OCR_API_KEY", ""),

		// Claim submission API
		SubmitBaseURL:    getEnv("SUBMIT_BASE_URL", ""),
		SubmitAPIKey:     getEnv("SUBMIT_API_KEY", ""),
		SubmitTimeoutSec: getEnvInt("SUBMIT_TIMEOUT_SEC", 30),
		SubmitMaxRetries: getEnvInt("SUBMIT_MAX_RETRIES", 3),
		SubmitBackoffMS:  getEnvInt("SUBMIT_BACKOFF_MS", 500),

		// Circuit breaker
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenSec:          getEnvInt("BREAKER_OPEN_SEC", 60),

		// Fusion constants built once here and passed into constructors;
		// the merge path never reads the environment.
		HighThreshold:       getEnvFloat("HIGH_THRESHOLD", 0.90),
		MediumThreshold:     getEnvFloat("MEDIUM_THRESHOLD", 0.75),
		ConfidenceCeiling:   getEnvFloat("CONFIDENCE_CEILING", 0.98),
		ExactMatchBoost:     getEnvFloat("EXACT_MATCH_BOOST", 0.10),
		FuzzyMatchBoost:     getEnvFloat("FUZZY_MATCH_BOOST", 0.05),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.85),

		// Deduplication
		DedupRetention: time.Duration(getEnvInt("DEDUP_RETENTION_HOURS", 24*30)) * time.Hour,

		// Worker
		WorkerID:             getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:            getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize:      getEnvInt("WORKER_QUEUE_SIZE", 500),
		ExtractionTimeoutSec: extractTimeout,

		// Consumer. Lease idle time for reclaiming abandoned messages is
		// twice the extraction timeout (see LeaseIdleTime).
		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:    getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),
		LeaseCheckSec:      getEnvInt("LEASE_CHECK_SEC", 30),

		// Audit
		AuditWorkbookPath: getEnv("AUDIT_WORKBOOK_PATH", "./audit/claims_audit.xlsx"),
	}, nil
}

// ExtractionTimeout returns the per-job extraction deadline.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.ExtractionTimeoutSec) * time.Second
}

// LeaseIdleTime is how long a dequeued message may sit unacknowledged before
// another worker reclaims it.
func (c *Config) LeaseIdleTime() time.Duration {
	return 2 * c.ExtractionTimeout()
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
