// Package config loads kiosk settings from an optional YAML file and
// CHORGI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CHORGI"

type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

type KeyringConfig struct {
	Dir string `mapstructure:"dir"`
}

type Config struct {
	Port         int           `mapstructure:"port"`
	DBPath       string        `mapstructure:"db_path"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	Google       GoogleConfig  `mapstructure:"google"`
	AdminPINHash string        `mapstructure:"admin_pin_hash"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	Keyring      KeyringConfig `mapstructure:"keyring"`
}

// Addr is the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DefaultKeyringDir is where the file keyring backend stores secrets.
func DefaultKeyringDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "credentials")
	}
	return filepath.Join(home, ".config", "chorgi", "credentials")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "chorgi.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", "http://localhost:8080/auth/google/callback")
	v.SetDefault("admin_pin_hash", "")
	v.SetDefault("idle_timeout", time.Minute)
	v.SetDefault("keyring.dir", DefaultKeyringDir())
}

// Load reads path if given, then applies the environment on top. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	return nil
}

// RequireGoogle checks the settings needed to sign children in. The client
// secret may still be empty here; it is resolved from the keyring later.
func (c *Config) RequireGoogle() error {
	if c.Google.ClientID == "" {
		return errors.New("google.client_id is required (set CHORGI_GOOGLE_CLIENT_ID)")
	}
	if c.Google.RedirectURL == "" {
		return errors.New("google.redirect_url is required")
	}
	return nil
}
