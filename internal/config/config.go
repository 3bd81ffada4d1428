// Package config loads the gateway configuration from the environment, with
// an optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig
	DICOM    DICOMConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// APIKey guards /api/v1; empty disables the check.
	APIKey string
}

// DICOMConfig configures the store SCP listener and outbound associations.
type DICOMConfig struct {
	// AETitle is the AE title the gateway accepts associations for.
	AETitle string
	Host    string
	Port    int
	// CallingAET is presented to downstream DICOM peers.
	CallingAET string
	// IdleTimeout closes an outbound association that stayed unused.
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	// DuplicateTTL is how long a forwarded SOP instance UID is remembered
	// for duplicate flagging.
	DuplicateTTL time.Duration
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Enabled bool
	Type    string // redis or memory
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CORSConfig configures cross-origin access to the admin API.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// Load reads the configuration from the environment. A .env file is applied
// first when present.
func Load() (*Config, error) {
	// Ignore a missing .env; production sets real environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			APIKey:       getEnv("SERVER_API_KEY", ""),
		},
		DICOM: DICOMConfig{
			AETitle:        getEnv("DICOM_AE_TITLE", "FORWARDER"),
			Host:           getEnv("DICOM_HOST", "0.0.0.0"),
			Port:           getEnvInt("DICOM_PORT", 11112),
			CallingAET:     getEnv("DICOM_CALLING_AET", "FORWARDER"),
			IdleTimeout:    getEnvDuration("DICOM_IDLE_TIMEOUT", 15*time.Second),
			ConnectTimeout: getEnvDuration("DICOM_CONNECT_TIMEOUT", 5*time.Second),
			DuplicateTTL:   getEnvDuration("DICOM_DUPLICATE_TTL", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "dicom_forwarder"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", true),
			Type:    getEnv("CACHE_TYPE", "memory"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-API-Key"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.DICOM.AETitle == "" {
		return fmt.Errorf("DICOM_AE_TITLE must not be empty")
	}
	if len(c.DICOM.AETitle) > 16 {
		return fmt.Errorf("DICOM_AE_TITLE exceeds 16 characters: %q", c.DICOM.AETitle)
	}
	if c.DICOM.Port < 1 || c.DICOM.Port > 65535 {
		return fmt.Errorf("DICOM_PORT out of range: %d", c.DICOM.Port)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	if c.Server.Port == c.DICOM.Port {
		return fmt.Errorf("SERVER_PORT and DICOM_PORT must differ")
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and name must be set")
	}
	if c.Cache.Enabled && c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("unknown cache type: %q", c.Cache.Type)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Log.Level)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvSlice(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
