// Package config provides client and devserver configuration loading.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Session store kinds accepted by SESSION_STORE.
const (
	SessionStoreFile   = "file"
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

const defaultJWTSecret = "loopline-dev-secret-change-in-production"

// Config holds configuration values loaded from file or environment variables.
type Config struct {
	Env string `mapstructure:"APP_ENV"`

	APIBaseURL            string `mapstructure:"API_BASE_URL"`
	ActivityURL           string `mapstructure:"ACTIVITY_URL"`
	RequestTimeoutSeconds int    `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	NotificationsPageSize int    `mapstructure:"NOTIFICATIONS_PAGE_SIZE"`

	SessionStore string `mapstructure:"SESSION_STORE"`
	SessionFile  string `mapstructure:"SESSION_FILE"`
	SessionKey   string `mapstructure:"SESSION_KEY"`
	RedisURL     string `mapstructure:"REDIS_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`

	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`

	// Devserver
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	DBDriver       string `mapstructure:"DB_DRIVER"`
	DBDSN          string `mapstructure:"DB_DSN"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	HarnessEnabled bool   `mapstructure:"TEST_HARNESS_ENABLED"`
}

// LoadConfig loads configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file may not exist
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(env)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.SessionStore = strings.ToLower(strings.TrimSpace(config.SessionStore))
	config.DBDriver = strings.ToLower(strings.TrimSpace(config.DBDriver))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(env string) {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("API_BASE_URL", "http://localhost:8375/api")
	viper.SetDefault("ACTIVITY_URL", "ws://localhost:8375/ws/activity/")
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 15)
	viper.SetDefault("NOTIFICATIONS_PAGE_SIZE", 10)
	viper.SetDefault("SESSION_STORE", SessionStoreFile)
	viper.SetDefault("SESSION_FILE", defaultSessionFile())
	viper.SetDefault("SESSION_KEY", "authToken")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
	viper.SetDefault("FEATURE_FLAGS", "live_posts=on,private_groups=on")
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_DSN", "loopline-dev.db")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
	viper.SetDefault("TEST_HARNESS_ENABLED", !isProduction(env))
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loopline-session.json"
	}
	return filepath.Join(home, ".loopline", "session.json")
}

func isProduction(env string) bool {
	return env == "production" || env == "prod"
}

// IsProduction reports whether APP_ENV names a production profile.
func (c *Config) IsProduction() bool {
	return isProduction(c.Env)
}

// RequestTimeout returns the per-request gateway timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Default returns a development configuration without reading files or the
// environment. Tests and embedded runtimes start from it.
func Default() *Config {
	return &Config{
		Env:                   "development",
		APIBaseURL:            "http://localhost:8375/api",
		ActivityURL:           "ws://localhost:8375/ws/activity/",
		RequestTimeoutSeconds: 15,
		NotificationsPageSize: 10,
		SessionStore:          SessionStoreMemory,
		SessionKey:            "authToken",
		RedisURL:              "localhost:6379",
		LogLevel:              "info",
		LogFormat:             "json",
		TracingExporter:       "stdout",
		TracingSampleRatio:    1.0,
		FeatureFlags:          "live_posts=on,private_groups=on",
		Port:                  "8375",
		JWTSecret:             defaultJWTSecret,
		DBDriver:              "sqlite",
		DBDSN:                 "loopline-dev.db",
		HarnessEnabled:        true,
	}
}

// Validate ensures that configuration values are usable.
func (c *Config) Validate() error {
	if err := requireScheme(c.APIBaseURL, "API_BASE_URL", "http", "https"); err != nil {
		return err
	}
	if err := requireScheme(c.ActivityURL, "ACTIVITY_URL", "ws", "wss"); err != nil {
		return err
	}
	if c.RequestTimeoutSeconds <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.NotificationsPageSize <= 0 {
		return errors.New("NOTIFICATIONS_PAGE_SIZE must be positive")
	}
	switch c.SessionStore {
	case SessionStoreFile, SessionStoreRedis, SessionStoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE %q is not one of file, redis, memory", c.SessionStore)
	}
	if c.SessionStore == SessionStoreFile && c.SessionFile == "" {
		return errors.New("SESSION_FILE is required for the file session store")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return errors.New("TRACING_SAMPLE_RATIO must be between 0 and 1")
	}
	switch c.DBDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret || len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be changed and at least 32 characters in production")
		}
		if c.HarnessEnabled {
			return errors.New("TEST_HARNESS_ENABLED must be off in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

func requireScheme(raw, name string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %s", name, strings.Join(schemes, ", "))
}
