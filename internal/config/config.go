package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	DataDir           string `mapstructure:"DATA_DIR"`
	SpoolDir          string `mapstructure:"SPOOL_DIR"`
	RemoteBaseURL     string `mapstructure:"REMOTE_BASE_URL"`
	RemoteFolder      string `mapstructure:"REMOTE_FOLDER"`
	AccessToken       string `mapstructure:"ACCESS_TOKEN"`
	AutosaveDebounce  int    `mapstructure:"AUTOSAVE_DEBOUNCE_MS"`
	ProbeIntervalMS   int    `mapstructure:"PROBE_INTERVAL_MS"`
	SpoolDebounceMS   int    `mapstructure:"SPOOL_DEBOUNCE_MS"`
	RequestTimeoutSec int    `mapstructure:"REQUEST_TIMEOUT_SEC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "7380")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_DIR", ".chartsync")
	v.SetDefault("SPOOL_DIR", ".chartsync/spool")
	v.SetDefault("REMOTE_FOLDER", "PatientRecords")
	v.SetDefault("AUTOSAVE_DEBOUNCE_MS", 2000)
	v.SetDefault("PROBE_INTERVAL_MS", 15000)
	v.SetDefault("SPOOL_DEBOUNCE_MS", 250)
	v.SetDefault("REQUEST_TIMEOUT_SEC", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATA_DIR")
	v.BindEnv("SPOOL_DIR")
	v.BindEnv("REMOTE_BASE_URL")
	v.BindEnv("REMOTE_FOLDER")
	v.BindEnv("ACCESS_TOKEN")
	v.BindEnv("AUTOSAVE_DEBOUNCE_MS")
	v.BindEnv("PROBE_INTERVAL_MS")
	v.BindEnv("SPOOL_DEBOUNCE_MS")
	v.BindEnv("REQUEST_TIMEOUT_SEC")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.RemoteBaseURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// StorePath is the SQLite file holding all engine state.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "chartsync.db")
}

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.AutosaveDebounce) * time.Millisecond
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}

func (c *Config) SpoolDebounce() time.Duration {
	return time.Duration(c.SpoolDebounceMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("REMOTE_BASE_URL is required")
	}
	if c.AutosaveDebounce <= 0 {
		return fmt.Errorf("AUTOSAVE_DEBOUNCE_MS must be positive, got %d", c.AutosaveDebounce)
	}
	if c.ProbeIntervalMS <= 0 {
		return fmt.Errorf("PROBE_INTERVAL_MS must be positive, got %d", c.ProbeIntervalMS)
	}
	return nil
}
