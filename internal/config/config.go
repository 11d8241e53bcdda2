// Package config loads WealthWise settings from defaults, an optional YAML
// file and WEALTHWISE_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/maloquacious/wealthwise/internal/logger"
	"github.com/maloquacious/wealthwise/internal/store"
)

// Config holds process configuration.
type Config struct {
	DataDir         string        `yaml:"data_dir"         env:"WEALTHWISE_DATA_DIR"`
	DBName          string        `yaml:"db_name"          env:"WEALTHWISE_DB_NAME"`
	Caches          []string      `yaml:"caches"           env:"WEALTHWISE_CACHES" envSeparator:","`
	SettleDelay     time.Duration `yaml:"settle_delay"     env:"WEALTHWISE_SETTLE_DELAY"`
	InitTimeout     time.Duration `yaml:"init_timeout"     env:"WEALTHWISE_INIT_TIMEOUT"`
	LogLevel        string        `yaml:"log_level"        env:"WEALTHWISE_LOG_LEVEL"`
	Port            int           `yaml:"port"             env:"WEALTHWISE_PORT"`
	AdminPort       int           `yaml:"admin_port"       env:"WEALTHWISE_ADMIN_PORT"`
	PublicDir       string        `yaml:"public_dir"       env:"WEALTHWISE_PUBLIC_DIR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"WEALTHWISE_SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:         store.GetStorePath(),
		DBName:          store.DefaultDBFile,
		Caches:          []string{"preferences", "session"},
		SettleDelay:     150 * time.Millisecond,
		InitTimeout:     10 * time.Second,
		LogLevel:        "info",
		Port:            8080,
		AdminPort:       8383,
		PublicDir:       "public",
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.DBName == "" || filepath.Base(c.DBName) != c.DBName {
		return fmt.Errorf("db_name must be a bare file name, got %q", c.DBName)
	}
	for _, name := range c.Caches {
		if name == "" || filepath.Base(name) != name {
			return fmt.Errorf("cache name must be a bare name, got %q", name)
		}
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if c.InitTimeout < 0 {
		return fmt.Errorf("init_timeout must not be negative")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for _, p := range []struct {
		name string
		port int
	}{{"port", c.Port}, {"admin_port", c.AdminPort}} {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%s out of range: %d", p.name, p.port)
		}
	}
	return nil
}
