package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Broker configuration
	BrokerURL   string `mapstructure:"broker-url"`
	BrokerToken string `mapstructure:"broker-token"`

	// Public read address substituted into returned references
	CDNBaseURL string `mapstructure:"cdn-base-url"`

	// Legacy single-path backend
	LegacyEnabled   bool   `mapstructure:"legacy-enabled"`
	LegacyBucket    string `mapstructure:"legacy-bucket"`
	LegacyRegion    string `mapstructure:"legacy-region"`
	LegacyKeyPrefix string `mapstructure:"legacy-key-prefix"`
	LegacyBaseURL   string `mapstructure:"legacy-base-url"`

	// Working directory for staged variants
	WorkDir string `mapstructure:"work-dir"`

	// Upload limits
	MaxFileSize int64 `mapstructure:"max-file-size"`

	// Upload engine tuning
	MaxAttempts      int `mapstructure:"max-attempts"`
	InitialBackoffMS int `mapstructure:"initial-backoff-ms"`
	TransformWorkers int `mapstructure:"transform-workers"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("sqlite-path", ".artifacts/uploads.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("broker-url", "http://localhost:8080")
	viper.SetDefault("broker-token", "")
	viper.SetDefault("cdn-base-url", "https://cdn.example.com")
	viper.SetDefault("legacy-enabled", false)
	viper.SetDefault("legacy-bucket", "uploadkit-media")
	viper.SetDefault("legacy-region", "us-east-1")
	viper.SetDefault("legacy-key-prefix", "media")
	viper.SetDefault("legacy-base-url", "https://uploadkit-media.s3.amazonaws.com")
	viper.SetDefault("work-dir", "/tmp/uploadkit")
	viper.SetDefault("max-file-size", 2*1024*1024)
	viper.SetDefault("max-attempts", 3)
	viper.SetDefault("initial-backoff-ms", 1000)
	viper.SetDefault("transform-workers", 0)
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be UPLOADKIT_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("UPLOADKIT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.uploadkit")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("broker-url cannot be empty")
	}
	if c.CDNBaseURL == "" {
		return fmt.Errorf("cdn-base-url cannot be empty")
	}
	if c.LegacyEnabled && c.LegacyBucket == "" {
		return fmt.Errorf("legacy-bucket cannot be empty when legacy-enabled is set")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max-attempts must be positive")
	}
	if c.InitialBackoffMS <= 0 {
		return fmt.Errorf("initial-backoff-ms must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
