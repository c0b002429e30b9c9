// Package config provides configuration management functionality.
//
// Configuration comes from two places: environment variables (ports,
// URLs, credentials) and a YAML file (accounts, risk limits, classifier
// tuning). Everything is materialized into an explicit Config that is
// passed into constructors; no component reads ambient process state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aristath/steward/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases
	Port         int
	LogLevel     string
	DevMode      bool
	AccountsFile string // Path to the YAML accounts/limits file

	// External collaborators
	FeedURL      string // Market data feed service
	ModelsURL    string // Ranking/weighting model service
	BrokerageURL string // Brokerage execution service
	BrokerageKey string // Brokerage API key

	// Cloud backup (S3-compatible); disabled when bucket is empty
	Backup BackupConfig

	// Engine holds classifier/selector tuning plus the account book
	Engine EngineConfig
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// EngineConfig is the YAML-backed decision engine configuration
type EngineConfig struct {
	// HysteresisPeriods is N: a raw regime label must hold for N
	// consecutive evaluations before it is emitted
	HysteresisPeriods int `yaml:"hysteresis_periods"`

	// VolatilityWindow is the trailing window (trading days) for
	// realized volatility
	VolatilityWindow int `yaml:"volatility_window"`

	// SeriesWindow is the trailing benchmark window (trading days)
	// requested from the feed; the classifier refuses to run below 200
	SeriesWindow int `yaml:"series_window"`

	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig describes one managed account
type AccountConfig struct {
	ID              string            `yaml:"id"`
	Benchmark       string            `yaml:"benchmark"`
	Universe        []string          `yaml:"universe"`
	Mode            string            `yaml:"mode"` // dry_run | paper | live
	RequireApproval bool              `yaml:"require_approval"`
	Schedule        string            `yaml:"schedule"` // cron expression, empty = manual only
	InitialCash     float64           `yaml:"initial_cash"` // paper/dry_run starting cash
	Limits          domain.RiskLimits `yaml:"limits"`
}

// ExecutionMode returns the account's execution mode, defaulting to dry_run
func (a AccountConfig) ExecutionMode() domain.ExecutionMode {
	switch a.Mode {
	case "live":
		return domain.ModeLive
	case "paper":
		return domain.ModePaper
	default:
		return domain.ModeDryRun
	}
}

// Load reads configuration from environment variables and the YAML file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STEWARD_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("STEWARD_PORT", 8002),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		AccountsFile: getEnv("STEWARD_ACCOUNTS_FILE", "steward.yml"),
		FeedURL:      getEnv("FEED_SERVICE_URL", "http://localhost:9100"),
		ModelsURL:    getEnv("MODELS_SERVICE_URL", "http://localhost:9200"),
		BrokerageURL: getEnv("BROKERAGE_SERVICE_URL", ""),
		BrokerageKey: getEnv("BROKERAGE_API_KEY", ""),
		Backup: BackupConfig{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	engine, err := loadEngineConfig(cfg.AccountsFile)
	if err != nil {
		return nil, err
	}
	cfg.Engine = *engine

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEngineConfig reads the YAML engine configuration, applying defaults
// when the file does not exist
func loadEngineConfig(path string) (*EngineConfig, error) {
	engine := &EngineConfig{
		HysteresisPeriods: 3,
		VolatilityWindow:  20,
		SeriesWindow:      252,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file: run with defaults and no accounts (manual setup)
			return engine, nil
		}
		return nil, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, engine); err != nil {
		return nil, fmt.Errorf("failed to parse engine config %s: %w", path, err)
	}

	if engine.HysteresisPeriods < 1 {
		engine.HysteresisPeriods = 1
	}
	if engine.VolatilityWindow < 2 {
		engine.VolatilityWindow = 20
	}
	if engine.SeriesWindow < 200 {
		engine.SeriesWindow = 252
	}

	return engine, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	for i, acct := range c.Engine.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("account %d has no id", i)
		}
		if acct.Benchmark == "" {
			return fmt.Errorf("account %s has no benchmark", acct.ID)
		}
		if err := acct.Limits.Validate(); err != nil {
			return fmt.Errorf("account %s limits invalid: %w", acct.ID, err)
		}
		if acct.ExecutionMode() == domain.ModeLive && c.BrokerageURL == "" {
			return fmt.Errorf("account %s is live but BROKERAGE_SERVICE_URL is not set", acct.ID)
		}
	}
	return nil
}

// Account returns the configuration for an account ID
func (c *Config) Account(accountID string) (*AccountConfig, bool) {
	for i := range c.Engine.Accounts {
		if c.Engine.Accounts[i].ID == accountID {
			return &c.Engine.Accounts[i], true
		}
	}
	return nil, false
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
