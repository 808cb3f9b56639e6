package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Blob     BlobConfig
	Queue    QueueConfig
	Sweeper  SweeperConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string
	BaseURL       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	SignedURLTTL  time.Duration
	MigrationsDir string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// BlobConfig holds blob storage configuration
type BlobConfig struct {
	RootDir    string
	SigningKey string
}

// QueueConfig holds task queue configuration
type QueueConfig struct {
	URL         string
	Stream      string
	Subject     string
	Durable     string
	DedupWindow time.Duration
}

// SweeperConfig holds orphaned-job sweeper configuration
type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Load reads configuration from environment variables with defaults
// suitable for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			BaseURL:       getEnv("API_BASE_URL", "http://localhost:8080"),
			ReadTimeout:   getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:  getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:   getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			SignedURLTTL:  getEnvAsDuration("SIGNED_URL_TTL", time.Hour),
			MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "transformd"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Blob: BlobConfig{
			RootDir:    getEnv("BLOB_ROOT", "./data/blobs"),
			SigningKey: getEnv("BLOB_SIGNING_KEY", "dev-signing-key"),
		},
		Queue: QueueConfig{
			URL:         getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:      getEnv("NATS_STREAM", "TRANSFORM"),
			Subject:     getEnv("NATS_SUBJECT", "transform.jobs"),
			Durable:     getEnv("NATS_DURABLE", "transformd-workers"),
			DedupWindow: getEnvAsDuration("NATS_DEDUP_WINDOW", 2*time.Minute),
		},
		Sweeper: SweeperConfig{
			Interval:   getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
			StaleAfter: getEnvAsDuration("SWEEP_STALE_AFTER", 5*time.Minute),
			BatchSize:  getEnvAsInt("SWEEP_BATCH_SIZE", 50),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
