package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the chat server.
type Config struct {
	AppName     string `env:"APP_NAME" envDefault:"pairchat"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Host        string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port        int    `env:"HTTP_PORT" envDefault:"8000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"` // console or json

	// Store backend: sqlite or postgres.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"pairchat.db"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"pairchat"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Feed backend: local, redis or postgres.
	FeedBackend string `env:"FEED_BACKEND" envDefault:"local"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	JWTSecret   string        `env:"JWT_SECRET,notEmpty"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"24h"`
	CORSOrigins []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

	FetchTimeout        time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	WriteTimeout        time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LocatorMaxAttempts  int           `env:"LOCATOR_MAX_ATTEMPTS" envDefault:"4"`
	MembershipCacheSize int           `env:"MEMBERSHIP_CACHE_SIZE" envDefault:"4096"`

	// Media
	MediaBackend        string `env:"MEDIA_BACKEND" envDefault:"local"` // local or s3
	MediaLocalPath      string `env:"MEDIA_LOCAL_PATH" envDefault:"uploads"`
	MediaPublicBaseURL  string `env:"MEDIA_PUBLIC_BASE_URL" envDefault:"http://localhost:8000/api/uploads"`
	MediaS3Endpoint     string `env:"MEDIA_S3_ENDPOINT"`
	MediaS3Region       string `env:"MEDIA_S3_REGION" envDefault:"us-east-1"`
	MediaS3Bucket       string `env:"MEDIA_S3_BUCKET"`
	MediaS3AccessKeyID  string `env:"MEDIA_S3_ACCESS_KEY_ID"`
	MediaS3SecretKey    string `env:"MEDIA_S3_SECRET_ACCESS_KEY"`
	MediaS3UsePathStyle bool   `env:"MEDIA_S3_USE_PATH_STYLE" envDefault:"true"`
	MediaS3PublicURL    string `env:"MEDIA_S3_PUBLIC_URL"`
	MediaMaxBytes       int64  `env:"MEDIA_MAX_BYTES" envDefault:"10485760"`

	// Profile defaults applied on provisioning.
	DefaultAvatarURL string `env:"DEFAULT_AVATAR_URL" envDefault:"/Images/me.jpeg"`
	DefaultStatus    string `env:"DEFAULT_STATUS" envDefault:"Hey there! I am using Chat."`

	JanitorSchedule string        `env:"JANITOR_SCHEDULE" envDefault:"@every 10m"`
	JanitorGrace    time.Duration `env:"JANITOR_GRACE" envDefault:"5m"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.FeedBackend = strings.ToLower(strings.TrimSpace(cfg.FeedBackend))
	cfg.MediaBackend = strings.ToLower(strings.TrimSpace(cfg.MediaBackend))
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	switch cfg.StoreBackend {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be sqlite or postgres, got %q", cfg.StoreBackend)
	}
	switch cfg.FeedBackend {
	case "local", "redis":
	case "postgres":
		if cfg.StoreBackend != "postgres" {
			return nil, fmt.Errorf("FEED_BACKEND=postgres requires STORE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("FEED_BACKEND must be local, redis or postgres, got %q", cfg.FeedBackend)
	}
	switch cfg.MediaBackend {
	case "local":
	case "s3":
		if strings.TrimSpace(cfg.MediaS3Bucket) == "" {
			return nil, fmt.Errorf("MEDIA_S3_BUCKET is required when MEDIA_BACKEND is s3")
		}
	default:
		return nil, fmt.Errorf("MEDIA_BACKEND must be local or s3, got %q", cfg.MediaBackend)
	}
	if cfg.LocatorMaxAttempts < 1 {
		cfg.LocatorMaxAttempts = 1
	}
	if cfg.MediaMaxBytes <= 0 {
		cfg.MediaMaxBytes = 10 * 1024 * 1024
	}
	return cfg, nil
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresDSN builds the connection URL from the POSTGRES_* settings.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%s", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDB,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}
