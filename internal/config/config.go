// Package config loads the service configuration from the environment (and an optional .env file).
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

// Default configuration values used when a variable is unset.
const (
	DefaultPort             = "3000"
	DefaultUploadDir        = "uploads"
	DefaultMaxFileSize      = 10 * 1024 * 1024
	DefaultMaxImagePixels   = 50_000_000
	DefaultJWTIssuer        = "recipe-media"
	DefaultJWTExpiresIn     = 24 * time.Hour
	DefaultJWTRefreshIn     = 7 * 24 * time.Hour
	DefaultRetentionDays    = 30
	DefaultRateLimit        = 20
	DefaultCacheTTL         = 5 * time.Minute
	DefaultCORSOrigin       = "http://localhost:5173"
	DefaultStorageDriver    = "local"
	DefaultAllowedFileTypes = "image/jpeg,image/png,image/webp"
)

// ErrMissingJWTSecret is returned when JWT_SECRET is unset.
var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

type Config struct {
	Env        string
	Port       string
	PublicHost string
	PublicURL  string

	Upload  UploadConfig
	Storage StorageConfig
	Auth    AuthConfig
	OAuth   OAuthConfig

	DSN             string
	RetentionDays   int
	CleanupSchedule string
	RateLimit       int
	CORSOrigins     []string
	CacheTTL        time.Duration

	LogLevel  string
	LogFormat string
}

type UploadConfig struct {
	Dir            string
	MaxFileSize    int64
	AllowedTypes   []string
	MaxImagePixels int
}

// StorageConfig selects the asset backend. Bucket settings are only read for the s3 driver.
type StorageConfig struct {
	Driver          string
	Bucket          string
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Prefix          string
}

type AuthConfig struct {
	JWTSecret        string
	Issuer           string
	ExpiresIn        time.Duration
	RefreshExpiresIn time.Duration
}

type OAuthConfig struct {
	GoogleKey     string
	GoogleSecret  string
	SessionSecret string
}

// Enabled reports whether Google OAuth login can be mounted.
func (o OAuthConfig) Enabled() bool {
	return o.GoogleKey != "" && o.GoogleSecret != ""
}

// IsProduction reports whether APP_ENV selects production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ServerBaseURL is the externally reachable origin of this process.
// Production uses HTTPS on the public host, everything else plain HTTP on localhost.
func (c Config) ServerBaseURL() string {
	if c.IsProduction() && c.PublicHost != "" {
		return "https://" + c.PublicHost
	}
	return "http://localhost:" + c.Port
}

// AssetBaseURL is the prefix that stored filenames are appended to when building asset URLs.
func (c Config) AssetBaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return c.ServerBaseURL() + "/uploads"
}

// Load reads .env if present and builds the configuration from the environment.
func Load() (Config, error) {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg := Config{
		Env:             getenv("APP_ENV", "development"),
		Port:            getenv("PORT", DefaultPort),
		PublicHost:      os.Getenv("PUBLIC_HOST"),
		PublicURL:       os.Getenv("PUBLIC_URL"),
		DSN:             os.Getenv("DSN"),
		CleanupSchedule: strings.TrimSpace(os.Getenv("CLEANUP_SCHEDULE")),
		CORSOrigins:     splitList(getenv("CORS_ORIGINS", DefaultCORSOrigin)),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "text"),
		Upload: UploadConfig{
			Dir:          getenv("UPLOAD_DIR", DefaultUploadDir),
			AllowedTypes: splitList(strings.ToLower(getenv("ALLOWED_FILE_TYPES", DefaultAllowedFileTypes))),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getenv("STORAGE_DRIVER", DefaultStorageDriver)),
			Bucket:          os.Getenv("BUCKET_NAME"),
			AccountID:       os.Getenv("ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("ACCESS_KEY_SECRET"),
			Prefix:          os.Getenv("S3_PREFIX"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    getenv("JWT_ISSUER", DefaultJWTIssuer),
		},
		OAuth: OAuthConfig{
			GoogleKey:     os.Getenv("GOOGLE_KEY"),
			GoogleSecret:  os.Getenv("GOOGLE_SECRET"),
			SessionSecret: os.Getenv("SESSION_SECRET"),
		},
	}

	var err error
	if cfg.Upload.MaxFileSize, err = int64Env("MAX_FILE_SIZE", DefaultMaxFileSize); err != nil {
		return cfg, err
	}
	if cfg.Upload.MaxImagePixels, err = intEnv("MAX_IMAGE_PIXELS", DefaultMaxImagePixels); err != nil {
		return cfg, err
	}
	if cfg.RetentionDays, err = intEnv("RETENTION_DAYS", DefaultRetentionDays); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = intEnv("RATE_LIMIT_PER_MINUTE", DefaultRateLimit); err != nil {
		return cfg, err
	}
	if cfg.Auth.ExpiresIn, err = durationEnv("JWT_EXPIRES_IN", DefaultJWTExpiresIn); err != nil {
		return cfg, err
	}
	if cfg.Auth.RefreshExpiresIn, err = durationEnv("JWT_REFRESH_EXPIRES_IN", DefaultJWTRefreshIn); err != nil {
		return cfg, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", DefaultCacheTTL); err != nil {
		return cfg, err
	}

	if cfg.Auth.JWTSecret == "" {
		return cfg, ErrMissingJWTSecret
	}
	if cfg.Upload.MaxFileSize <= 0 {
		return cfg, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", cfg.Upload.MaxFileSize)
	}
	if cfg.RetentionDays < 1 {
		return cfg, fmt.Errorf("RETENTION_DAYS must be at least 1, got %d", cfg.RetentionDays)
	}
	switch cfg.Storage.Driver {
	case "local":
	case "s3":
		if cfg.Storage.Bucket == "" {
			return cfg, errors.New("BUCKET_NAME must be set for the s3 storage driver")
		}
	default:
		return cfg, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}
	if cfg.OAuth.SessionSecret == "" {
		cfg.OAuth.SessionSecret = cfg.Auth.JWTSecret
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
