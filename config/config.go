package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Transcode TranscodeConfig
	Cleanup   CleanupConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // external base URL used to build delivery landing links
}

// StorageConfig holds S3/MinIO-compatible object storage settings.
type StorageConfig struct {
	Endpoint        string // host[:port] of a MinIO-compatible endpoint; empty = plain AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	UsePathStyle    bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TranscodeConfig holds transcode pipeline settings.
type TranscodeConfig struct {
	TempDir     string // directory for per-job temp files; empty = os.TempDir()
	OverlayPath string // branding overlay image composited onto every clip; empty disables overlay
	Workers     int
	TimeoutSec  int // hard deadline for one ffmpeg invocation
	PosterWidth int
}

// CleanupConfig holds the orphaned temp file sweeper settings.
type CleanupConfig struct {
	Schedule  string // cron spec, e.g. "@every 1h"
	MaxAgeMin int    // temp entries older than this are removed
}

// Load reads configuration from environment, with optional .env file.
// Storage variables keep the MINIO_* names the deployed booths already use.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("ALLOWED_ORIGIN", "*"),
			PublicBaseURL:      strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("MINIO_ENDPOINT", ""),
			Region:          getEnv("MINIO_REGION", "us-east-1"),
			AccessKeyID:     getEnv("MINIO_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:          getEnv("MINIO_BUCKET", ""),
			UseSSL:          getEnvBool("MINIO_USE_SSL", true),
			UsePathStyle:    getEnvBool("MINIO_PATH_STYLE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Transcode: TranscodeConfig{
			TempDir:     getEnv("TRANSCODE_TEMP_DIR", ""),
			OverlayPath: getEnv("TRANSCODE_OVERLAY_PATH", ""),
			Workers:     getEnvInt("TRANSCODE_WORKERS", 2),
			TimeoutSec:  getEnvInt("TRANSCODE_TIMEOUT_SEC", 600),
			PosterWidth: getEnvInt("TRANSCODE_POSTER_WIDTH", 640),
		},
		Cleanup: CleanupConfig{
			Schedule:  getEnv("CLEANUP_SCHEDULE", "@every 1h"),
			MaxAgeMin: getEnvInt("CLEANUP_MAX_AGE_MIN", 120),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
