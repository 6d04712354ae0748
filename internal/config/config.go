// Package config provides configuration management for the GTT planner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Quote providers understood by the price cache.
const (
	ProviderUpstox   = "upstox"
	ProviderYahoo    = "yahoo"
	ProviderHoldings = "holdings"
)

// Config holds all application configuration.
type Config struct {
	Files       FilesConfig   `mapstructure:"files"`
	Quotes      QuotesConfig  `mapstructure:"quotes"`
	Planner     PlannerConfig `mapstructure:"planner"`
	Sync        SyncConfig    `mapstructure:"sync"`
	Trend       TrendConfig   `mapstructure:"trend"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Log         LogSettings   `mapstructure:"log"`
	Credentials Credentials   `mapstructure:"-" json:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-" json:"dir"`
}

// FilesConfig locates the input and state files. Relative paths resolve
// against the config directory.
type FilesConfig struct {
	Watchlist     string `mapstructure:"watchlist"`
	InstrumentMap string `mapstructure:"instrument_map"`
	Database      string `mapstructure:"database"`
}

// QuotesConfig configures the price cache and its provider.
type QuotesConfig struct {
	Provider  string        `mapstructure:"provider"` // upstox, yahoo, holdings
	TTL       time.Duration `mapstructure:"ttl"`
	BatchSize int           `mapstructure:"batch_size"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PlannerConfig holds plan generation settings.
type PlannerConfig struct {
	PriceCapFactor float64 `mapstructure:"price_cap_factor"`
}

// SyncConfig holds reconciliation settings.
type SyncConfig struct {
	DryRun   bool   `mapstructure:"dry_run"`
	Timezone string `mapstructure:"timezone"`
}

// TrendConfig holds ROI trend settings.
type TrendConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	Window        int     `mapstructure:"window"`
	AveragePoints int     `mapstructure:"average_points"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LogSettings holds logging settings.
type LogSettings struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
	Path  string `mapstructure:"path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite   KiteCredentials   `mapstructure:"kite"`
	Upstox UpstoxCredentials `mapstructure:"upstox"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// UpstoxCredentials holds the Upstox market data token.
type UpstoxCredentials struct {
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/kite-gtt"
	}
	return filepath.Join(home, ".config", "kite-gtt")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// created from templates and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A .env in the working directory is optional.
	_ = godotenv.Load()

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("files.watchlist", "watchlist.csv")
	v.SetDefault("files.instrument_map", "instruments.csv")
	v.SetDefault("files.database", "gtt.db")

	v.SetDefault("quotes.provider", ProviderUpstox)
	v.SetDefault("quotes.ttl", "10m")
	v.SetDefault("quotes.batch_size", 50)
	v.SetDefault("quotes.base_url", "https://api.upstox.com")
	v.SetDefault("quotes.timeout", "15s")

	v.SetDefault("planner.price_cap_factor", 1.025)

	v.SetDefault("sync.dry_run", false)
	v.SetDefault("sync.timezone", "Asia/Kolkata")

	v.SetDefault("trend.threshold", 0.002)
	v.SetDefault("trend.window", 5)
	v.SetDefault("trend.average_points", 5)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)
	v.SetDefault("log.path", "logs/gtt.log")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		return createTemplateCredentials(configDir)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_USER_ID"); v != "" {
		cfg.Credentials.Kite.UserID = v
	}
	if v := os.Getenv("UPSTOX_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Upstox.AccessToken = v
	}
	if v := os.Getenv("GTT_QUOTE_PROVIDER"); v != "" {
		cfg.Quotes.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("GTT_DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GTT_DRY_RUN: %w", err)
		}
		cfg.Sync.DryRun = dryRun
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Quotes.Provider {
	case ProviderUpstox, ProviderYahoo, ProviderHoldings:
	default:
		return fmt.Errorf("invalid quote provider: %s (must be 'upstox', 'yahoo' or 'holdings')", c.Quotes.Provider)
	}

	if c.Quotes.BatchSize < 1 || c.Quotes.BatchSize > 500 {
		return fmt.Errorf("quotes.batch_size must be between 1 and 500")
	}
	if c.Quotes.TTL <= 0 {
		return fmt.Errorf("quotes.ttl must be positive")
	}
	if c.Trend.Threshold < 0 {
		return fmt.Errorf("trend.threshold must be non-negative")
	}
	if c.Planner.PriceCapFactor < 1 {
		return fmt.Errorf("planner.price_cap_factor must be at least 1")
	}
	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid sync.timezone %q: %w", c.Sync.Timezone, err)
	}

	return nil
}

// Location returns the market timezone used to decide what "today" is.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path resolves a configured file path against the config directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// WatchlistPath returns the resolved watchlist CSV path.
func (c *Config) WatchlistPath() string { return c.Path(c.Files.Watchlist) }

// InstrumentMapPath returns the resolved ISIN reference CSV path.
func (c *Config) InstrumentMapPath() string { return c.Path(c.Files.InstrumentMap) }

// DatabasePath returns the resolved SQLite database path.
func (c *Config) DatabasePath() string { return c.Path(c.Files.Database) }

// LogPath returns the resolved log file path.
func (c *Config) LogPath() string { return c.Path(c.Log.Path) }
