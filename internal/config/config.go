/**
 * Configuration for the OCR layer worker
 *
 * Loads configuration from environment variables matching .env.nexus
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Queue backends
const (
	QueueBackendRedisList = "redis-list"
	QueueBackendAsynq     = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL     string
	QueueName    string
	QueueBackend string

	// PostgreSQL configuration (optional; results stay in Redis without it)
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// API Keys
	VoyageAPIKey string

	// Service URLs
	FileProcessAPIURL string // FileProcess API for artifact storage

	// Worker configuration
	WorkerConcurrency int
	MaxRetries        int
	MaxFileSize       int64
	MaxPages          int
	ProcessingTimeout int // milliseconds, applied to a whole batch

	// OCR configuration
	TesseractLanguages []string
	TesseractPSM       int
	TesseractDPI       int

	// Rendering configuration
	RenderScale  float64
	PdftoppmPath string
	VerifyOutput bool

	// Temporary directory for page rasters
	TempDir string

	// Directory receiving searchable PDFs (optional)
	OutputDir string

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "ocrlayer:jobs"),
		QueueBackend:       getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedisList),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:          getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:   getEnvOrDefault("QDRANT_COLLECTION", "ocrlayer_pages"),
		VoyageAPIKey:       getEnvOrDefault("VOYAGE_API_KEY", ""),
		FileProcessAPIURL:  getEnvOrDefault("FILEPROCESS_API_URL", ""),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		MaxRetries:         getEnvAsIntOrDefault("MAX_RETRIES", 3),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 536870912), // 512MB
		MaxPages:           getEnvAsIntOrDefault("MAX_PAGES", 2000),
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 1800000), // 30 minutes
		TesseractLanguages: getEnvAsListOrDefault("TESSERACT_LANGUAGES", []string{"eng"}),
		TesseractPSM:       getEnvAsIntOrDefault("TESSERACT_PSM", 0),
		TesseractDPI:       getEnvAsIntOrDefault("TESSERACT_DPI", 0),
		RenderScale:        getEnvAsFloatOrDefault("RENDER_SCALE", 2.0),
		PdftoppmPath:       getEnvOrDefault("PDFTOPPM_PATH", "pdftoppm"),
		VerifyOutput:       getEnvAsBoolOrDefault("VERIFY_OUTPUT", true),
		TempDir:            getEnvOrDefault("TEMP_DIR", "/tmp/ocrlayer"),
		OutputDir:          getEnvOrDefault("OUTPUT_DIR", ""),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.QueueBackend != QueueBackendRedisList && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedisList, QueueBackendAsynq, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 25 {
		return fmt.Errorf("MAX_RETRIES must be between 0 and 25, got %d", c.MaxRetries)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("MAX_PAGES must not be negative, got %d", c.MaxPages)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if len(c.TesseractLanguages) == 0 {
		return fmt.Errorf("TESSERACT_LANGUAGES is required")
	}

	if c.TesseractPSM < 0 || c.TesseractPSM > 13 {
		return fmt.Errorf("TESSERACT_PSM must be between 0 and 13, got %d", c.TesseractPSM)
	}

	if c.RenderScale <= 1 || c.RenderScale > 8 {
		return fmt.Errorf("RENDER_SCALE must be greater than 1 and at most 8, got %v", c.RenderScale)
	}

	return nil
}

// BatchTimeout returns ProcessingTimeout as a duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// OCRDPI returns the DPI hint passed to Tesseract. Without an explicit
// value it matches the render resolution.
func (c *Config) OCRDPI() int {
	if c.TesseractDPI > 0 {
		return c.TesseractDPI
	}
	return int(72 * c.RenderScale)
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a "+" or "," separated variable
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.FieldsFunc(valueStr, func(r rune) bool { return r == '+' || r == ',' }) {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
