// Package config loads server configuration.
//
// Values come from an optional YAML file first and environment variables
// second, so a deployment can keep defaults in a file and override secrets
// through the environment:
//
//	server --config /etc/keralariders.yaml serve
//	JWT_SECRET=$(openssl rand -hex 32) server serve
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the server.
type Config struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	SiteURL   string `yaml:"site_url"`
	Timezone  string `yaml:"timezone"`

	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`

	Google GoogleConfig `yaml:"google"`
	Strava StravaConfig `yaml:"strava"`
	Email  EmailConfig  `yaml:"email"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// SyncInterval > 0 enables the background Strava sync of all users.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

// Enabled reports whether Google login can be offered.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type StravaConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

type EmailConfig struct {
	Enabled      bool   `yaml:"enabled"`
	From         string `yaml:"from"`
	ResendAPIKey string `yaml:"resend_api_key"`
}

type RateLimitConfig struct {
	PerMinute     int `yaml:"per_minute"`
	AuthPerMinute int `yaml:"auth_per_minute"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:            8080,
		DBPath:          "data/keralariders.db",
		Env:             "development",
		LogLevel:        "info",
		LogFormat:       "json",
		SiteURL:         "http://localhost:3000",
		Timezone:        "Local",
		AccessTokenTTL:  7 * 24 * time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		RateLimit: RateLimitConfig{
			PerMinute:     120,
			AuthPerMinute: 10,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and
// the environment, in that order of precedence (env wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.Google.CallbackURL == "" {
		cfg.Google.CallbackURL = fmt.Sprintf("http://localhost:%d/api/auth/google/callback", cfg.Port)
	}
	if cfg.Strava.RedirectURI == "" {
		cfg.Strava.RedirectURI = fmt.Sprintf("http://localhost:%d/api/auth/strava/connect", cfg.Port)
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DBPath, "DB_PATH")
	setString(&c.Env, "ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.SiteURL, "SITE_URL")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.JWTSecret, "JWT_SECRET")

	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Google.CallbackURL, "GOOGLE_CALLBACK_URL")

	setString(&c.Strava.ClientID, "STRAVA_CLIENT_ID")
	setString(&c.Strava.ClientSecret, "STRAVA_CLIENT_SECRET")
	setString(&c.Strava.RedirectURI, "STRAVA_REDIRECT_URI")

	setString(&c.Email.From, "EMAIL_FROM")
	setString(&c.Email.ResendAPIKey, "RESEND_API_KEY")

	var errs []error
	errs = append(errs,
		setInt(&c.Port, "PORT"),
		setInt(&c.RateLimit.PerMinute, "RATE_LIMIT_PER_MINUTE"),
		setInt(&c.RateLimit.AuthPerMinute, "RATE_LIMIT_AUTH_PER_MINUTE"),
		setBool(&c.Email.Enabled, "EMAIL_ENABLED"),
		setDuration(&c.AccessTokenTTL, "ACCESS_TOKEN_TTL"),
		setDuration(&c.RefreshTokenTTL, "REFRESH_TOKEN_TTL"),
		setDuration(&c.SyncInterval, "SYNC_INTERVAL"),
	)
	return errors.Join(errs...)
}

// Validate reports configuration that would make the server unusable.
func (c Config) Validate() error {
	var problems []string
	if len(c.JWTSecret) < 16 {
		problems = append(problems, "JWT_SECRET must be set to at least 16 characters")
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d is out of range", c.Port))
	}
	if c.Email.Enabled && (c.Email.From == "" || c.Email.ResendAPIKey == "") {
		problems = append(problems, "EMAIL_FROM and RESEND_API_KEY are required when EMAIL_ENABLED=true")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Production reports whether cookies should be marked Secure.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location resolves Timezone. "Local" (or empty) is the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s must be a duration like 15m or 168h, got %q", key, v)
	}
	*dst = d
	return nil
}
