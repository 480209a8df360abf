package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// RemoteConfig holds connection settings for the hosted backend.
type RemoteConfig struct {
	// BaseURL is the root URL of the remote data service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// AuthURL is the root URL of the auth service. Defaults to BaseURL.
	AuthURL string `mapstructure:"auth_url" yaml:"auth_url"`

	// FeedPollIntervalSec is how often (in seconds) the change feed is
	// polled while subscribed.
	FeedPollIntervalSec int `mapstructure:"feed_poll_interval_sec" yaml:"feed_poll_interval_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// DataDir is where the local cache database lives.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tasksmint/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "tasksmint", "config.yaml")
}

// defaultDataDir returns the default local data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "tasksmint")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DataDir: defaultDataDir(),
		Remote: RemoteConfig{
			BaseURL:             "https://api.tasksmint.app",
			FeedPollIntervalSec: 5,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("remote.base_url", "https://api.tasksmint.app")
	v.SetDefault("remote.feed_poll_interval_sec", 5)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Remote.AuthURL == "" {
		cfg.Remote.AuthURL = cfg.Remote.BaseURL
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("data_dir", cfg.DataDir)
	v.Set("remote", cfg.Remote)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}

	return nil
}
