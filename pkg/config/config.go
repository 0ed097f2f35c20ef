package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/modelwatch/modelwatch/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Analyzer  AnalyzerConfig  `json:"analyzer"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`
	Tracker   TrackerConfig   `json:"tracker"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration.
// The database is optional; with Enabled false, prediction history is
// kept only in Redis.
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// AnalyzerConfig contains upstream generation API and retry configuration
type AnalyzerConfig struct {
	APIKey       string        `json:"-"`
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"`
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// IsConfigured reports whether the upstream API key is usable
func (c *AnalyzerConfig) IsConfigured() bool {
	return c.APIKey != "" && c.APIKey != "your_api_key_here"
}

// RateLimitConfig contains sliding-window limiter configuration
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	KeyPrefix   string        `json:"key_prefix"`
}

// CacheConfig contains analysis cache configuration
type CacheConfig struct {
	KeyPrefix string        `json:"key_prefix"`
	TTL       time.Duration `json:"ttl"`
	LockTTL   time.Duration `json:"lock_ttl"`
	LockWait  time.Duration `json:"lock_wait"`
}

// TrackerConfig contains prediction metric tracker configuration
type TrackerConfig struct {
	KeyPrefix  string        `json:"key_prefix"`
	Retention  time.Duration `json:"retention"`
	Thresholds types.MetricThresholds `json:"thresholds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "modelwatch"),
			User:            getEnvString("DB_USER", "modelwatch"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Analyzer: AnalyzerConfig{
			APIKey:       getEnvString("ANALYZER_API_KEY", ""),
			BaseURL:      getEnvString("ANALYZER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:        getEnvString("ANALYZER_MODEL", "gemini-2.5-flash-lite"),
			Temperature:  getEnvFloat("ANALYZER_TEMPERATURE", 0.3),
			MaxTokens:    getEnvInt("ANALYZER_MAX_TOKENS", 1024),
			Timeout:      getEnvDuration("ANALYZER_TIMEOUT", 30*time.Second),
			MaxAttempts:  getEnvInt("ANALYZER_MAX_ATTEMPTS", 4),
			InitialDelay: getEnvDuration("ANALYZER_INITIAL_DELAY", 1*time.Second),
			MaxDelay:     getEnvDuration("ANALYZER_MAX_DELAY", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: getEnvInt("RATE_LIMIT_MAX", 10),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			KeyPrefix:   getEnvString("RATE_LIMIT_KEY_PREFIX", "modelwatch:ratelimit"),
		},
		Cache: CacheConfig{
			KeyPrefix: getEnvString("CACHE_KEY_PREFIX", "modelwatch:analysis"),
			TTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
			LockTTL:   getEnvDuration("CACHE_LOCK_TTL", 30*time.Second),
			LockWait:  getEnvDuration("CACHE_LOCK_WAIT", 15*time.Second),
		},
		Tracker: TrackerConfig{
			KeyPrefix: getEnvString("TRACKER_KEY_PREFIX", "modelwatch:metrics"),
			Retention: getEnvDuration("TRACKER_RETENTION", 24*time.Hour),
			Thresholds: types.MetricThresholds{
				MinConfidenceWarning:       getEnvFloat("THRESHOLD_CONFIDENCE_WARNING", 0.6),
				MinConfidenceCritical:      getEnvFloat("THRESHOLD_CONFIDENCE_CRITICAL", 0.4),
				MaxInferenceTimeWarningMs:  getEnvFloat("THRESHOLD_LATENCY_WARNING_MS", 200.0),
				MaxInferenceTimeCriticalMs: getEnvFloat("THRESHOLD_LATENCY_CRITICAL_MS", 500.0),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.LockTTL <= 0 || c.Cache.LockWait <= 0 {
		return fmt.Errorf("cache lock TTL and wait must be positive")
	}
	if c.Analyzer.MaxAttempts <= 0 {
		return fmt.Errorf("analyzer max attempts must be positive")
	}
	if err := c.Tracker.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("database password is required when database is enabled")
	}
	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
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
