package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.clinichat/config.toml.
type Config struct {
	DefaultTenant string `toml:"default_tenant"`
	LogLevel      string `toml:"log_level"`

	PageSize            int           `toml:"page_size"`
	PollInterval        time.Duration `toml:"poll_interval"`
	BaselineSize        int           `toml:"baseline_size"`
	PollSize            int           `toml:"poll_size"`
	ListRefreshInterval time.Duration `toml:"list_refresh_interval"`
	DedupCapacity       int           `toml:"dedup_capacity"`
	PersistReadCursors  bool          `toml:"persist_read_cursors"`

	// AMQPURL enables the broker channel when set.
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultTenant:       "main",
		LogLevel:            "info",
		PageSize:            50,
		PollInterval:        5 * time.Second,
		BaselineSize:        20,
		PollSize:            20,
		ListRefreshInterval: 30 * time.Second,
		DedupCapacity:       1000,
		AMQPExchange:        "clinichat.messages",
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
