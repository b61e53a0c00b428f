package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Source    SourceConfig
	Staging   StagingConfig
	Bunny     BunnyConfig
	Scheduler SchedulerConfig
	AWS       AWSConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int    // 0 disables; download and upload requests run to completion
	CORSAllowedOrigins string // comma-separated, or "*" for all
	MetricsEnabled     bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/lms?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. Empty Addr disables the notification queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds the shared API key and the service token secret.
type AuthConfig struct {
	APIKey      string // compared against the x-api-key header
	JWTSecret   string // HS256 secret for service tokens; empty disables bearer auth
	ExpireHours int
}

// SourceConfig points at the main backend that lists recordings and issues signed URLs.
type SourceConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// StagingConfig holds the local staging directory and download limits.
type StagingConfig struct {
	Dir             string
	DownloadTimeout time.Duration
}

// BunnyConfig holds Bunny Stream API and TUS settings.
type BunnyConfig struct {
	Enabled         bool
	LibraryID       string
	APIKey          string
	APIBaseURL      string
	TUSEndpoint     string
	ChunkSize       int64
	RetryDelays     []time.Duration
	SignatureExpire time.Duration
}

// SchedulerConfig controls the periodic single-item processor.
type SchedulerConfig struct {
	AutoProcess     bool
	Interval        time.Duration
	PipelineTimeout time.Duration
}

// WorkerConfig holds settings of the queue worker process.
type WorkerConfig struct {
	MetricsPort string
}

// AWSConfig holds credentials for the optional S3 archive copy of downloaded recordings.
type AWSConfig struct {
	ArchiveEnabled  bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	retryDelays, err := parseMillis(getEnv("UPLOAD_RETRY_DELAYS_MS", "0,3000,5000,10000,20000,60000,60000"))
	if err != nil {
		return nil, fmt.Errorf("UPLOAD_RETRY_DELAYS_MS: %w", err)
	}
	stagingDir, err := filepath.Abs(getEnv("TEMP_UPLOAD_DIR", "uploads"))
	if err != nil {
		return nil, fmt.Errorf("TEMP_UPLOAD_DIR: %w", err)
	}
	apiKey := getEnv("HEADERSAPIKEY", "")

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "4000"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "lms"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			APIKey:      apiKey,
			JWTSecret:   getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Source: SourceConfig{
			BaseURL:        strings.TrimRight(getEnv("MAIN_BACKEND_URL", "http://localhost:3000"), "/"),
			APIKey:         getEnv("MAIN_BACKEND_API_KEY", apiKey),
			RequestTimeout: time.Duration(getEnvInt("SOURCE_REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		},
		Staging: StagingConfig{
			Dir:             stagingDir,
			DownloadTimeout: time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SEC", 600)) * time.Second,
		},
		Bunny: BunnyConfig{
			Enabled:         getEnvBool("IS_BUNNY_ENABLED", true),
			LibraryID:       getEnv("BUNNY_LIBRARY_ID", ""),
			APIKey:          getEnv("BUNNY_API_KEY", ""),
			APIBaseURL:      strings.TrimRight(getEnv("BUNNY_STREAM_API_BASE_URL", ""), "/"),
			TUSEndpoint:     getEnv("BUNNY_TUS_ENDPOINT", "https://video.bunnycdn.com/tusupload"),
			ChunkSize:       int64(getEnvInt("UPLOAD_CHUNK_SIZE_MB", 50)) * 1024 * 1024,
			RetryDelays:     retryDelays,
			SignatureExpire: time.Duration(getEnvInt("TUS_SIGNATURE_EXPIRE_MINUTES", 60)) * time.Minute,
		},
		Scheduler: SchedulerConfig{
			AutoProcess:     getEnvBool("AUTO_PROCESS", true),
			Interval:        time.Duration(getEnvInt("PROCESS_INTERVAL_SEC", 60)) * time.Second,
			PipelineTimeout: time.Duration(getEnvInt("PIPELINE_TIMEOUT_SEC", 3600)) * time.Second,
		},
		AWS: AWSConfig{
			ArchiveEnabled:  getEnvBool("ARCHIVE_ENABLED", false),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
		},
		Worker: WorkerConfig{
			MetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),
		},
	}
	if cfg.Bunny.ChunkSize <= 0 {
		return nil, fmt.Errorf("UPLOAD_CHUNK_SIZE_MB must be positive")
	}
	if cfg.Scheduler.Interval <= 0 {
		return nil, fmt.Errorf("PROCESS_INTERVAL_SEC must be positive")
	}
	return cfg, nil
}

func parseMillis(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, v := range splitTrim(s, ",") {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid delay %q", v)
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
