// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	DBURL    string `mapstructure:"DB_URL"`

	// GithubToken is the app-level token used for installation-mode
	// workspaces until per-installation token minting is wired in.
	GithubToken   string `mapstructure:"GITHUB_TOKEN"`
	GitlabBaseURL string `mapstructure:"GITLAB_BASE_URL"`
	TokenSealKey  string `mapstructure:"TOKEN_SEAL_KEY"`

	// AllowedScopes is the operator allow-list of account logins and/or
	// owner/name repositories. Empty means everything is in scope.
	AllowedScopes []string `mapstructure:"ALLOWED_SCOPES"`

	SyncInterval          time.Duration `mapstructure:"SYNC_INTERVAL"`
	ActivationConcurrency int           `mapstructure:"ACTIVATION_CONCURRENCY"`
	ActivationTimeout     time.Duration `mapstructure:"ACTIVATION_TIMEOUT"`
	SlugRedirectTTL       time.Duration `mapstructure:"SLUG_REDIRECT_TTL"`
	SlugHistoryKeep       int           `mapstructure:"SLUG_HISTORY_KEEP"`

	DefaultSyncSinceDate string    `mapstructure:"DEFAULT_SYNC_SINCE_DATE"`
	DefaultSyncSinceTime time.Time `mapstructure:"-"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SYNC_INTERVAL", "1h")
	viper.SetDefault("ACTIVATION_CONCURRENCY", 5)
	viper.SetDefault("ACTIVATION_TIMEOUT", "15m")
	viper.SetDefault("SLUG_REDIRECT_TTL", "720h")
	viper.SetDefault("SLUG_HISTORY_KEEP", 5)
	viper.SetDefault("DEFAULT_SYNC_SINCE_DATE", "2023-01-01T00:00:00Z")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse DefaultSyncSinceDate
	parsedTime, err := time.Parse(time.RFC3339, cfg.DefaultSyncSinceDate)
	if err != nil {
		return nil, errors.New("DEFAULT_SYNC_SINCE_DATE must be in RFC3339 format (e.g. 2023-01-01T00:00:00Z)")
	}
	cfg.DefaultSyncSinceTime = parsedTime

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.TokenSealKey == "" {
		return nil, errors.New("TOKEN_SEAL_KEY is a required configuration field")
	}
	if cfg.ActivationConcurrency <= 0 {
		return nil, errors.New("ACTIVATION_CONCURRENCY must be positive")
	}

	return &cfg, nil
}
