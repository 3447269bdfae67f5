package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppDomain string `env:"APP_DOMAIN"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	EventSubSecret     string `env:"EVENTSUB_SECRET"`

	TwitterConsumerKey    string `env:"TWITTER_ID"`
	TwitterConsumerSecret string `env:"TWITTER_SECRET"`

	SessionSecret      string `env:"SESSION_SECRET"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3UseSSL    bool   `env:"S3_USE_SSL" default:"true"`

	RemotionURL       string `env:"REMOTION_URL"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	ProfessionalRefreshInterval time.Duration `env:"PROFESSIONAL_REFRESH_INTERVAL" default:"10m"`
	PersonalRefreshInterval     time.Duration `env:"PERSONAL_REFRESH_INTERVAL" default:"1h"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// requiredOrder keeps the "first missing variable" error deterministic.
var requiredOrder = []string{
	"APP_DOMAIN",
	"DATABASE_URL",
	"REDIS_URL",
	"TWITCH_CLIENT_ID",
	"TWITCH_CLIENT_SECRET",
	"EVENTSUB_SECRET",
	"TWITTER_ID",
	"TWITTER_SECRET",
	"SESSION_SECRET",
	"S3_ENDPOINT",
	"S3_BUCKET",
	"S3_ACCESS_KEY",
	"S3_SECRET_KEY",
	"REMOTION_URL",
}

func validate(cfg *Config) error {
	values := map[string]string{
		"APP_DOMAIN":           cfg.AppDomain,
		"DATABASE_URL":         cfg.DatabaseURL,
		"REDIS_URL":            cfg.RedisURL,
		"TWITCH_CLIENT_ID":     cfg.TwitchClientID,
		"TWITCH_CLIENT_SECRET": cfg.TwitchClientSecret,
		"EVENTSUB_SECRET":      cfg.EventSubSecret,
		"TWITTER_ID":           cfg.TwitterConsumerKey,
		"TWITTER_SECRET":       cfg.TwitterConsumerSecret,
		"SESSION_SECRET":       cfg.SessionSecret,
		"S3_ENDPOINT":          cfg.S3Endpoint,
		"S3_BUCKET":            cfg.S3Bucket,
		"S3_ACCESS_KEY":        cfg.S3AccessKey,
		"S3_SECRET_KEY":        cfg.S3SecretKey,
		"REMOTION_URL":         cfg.RemotionURL,
	}
	for _, name := range requiredOrder {
		if values[name] == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	// Twitch rejects transport secrets outside this range.
	if len(cfg.EventSubSecret) < 10 || len(cfg.EventSubSecret) > 100 {
		return errors.New("EVENTSUB_SECRET must be between 10 and 100 characters")
	}

	if strings.Contains(cfg.AppDomain, "/") {
		return fmt.Errorf("APP_DOMAIN must be a bare host, got %q", cfg.AppDomain)
	}

	if cfg.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	if cfg.DiscordWebhookURL != "" {
		if _, err := url.ParseRequestURI(cfg.DiscordWebhookURL); err != nil {
			return fmt.Errorf("DISCORD_WEBHOOK_URL is not a valid URL: %w", err)
		}
	}

	if cfg.ProfessionalRefreshInterval <= 0 || cfg.PersonalRefreshInterval <= 0 {
		return errors.New("refresh intervals must be positive")
	}

	return nil
}
