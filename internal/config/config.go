// Package config manages the YAML configuration file of the bridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/CageChen/contentbridge/internal/logger"
)

// Config holds all configuration options for the bridge
type Config struct {
	Port int  `yaml:"port" default:"8080"`
	Open bool `yaml:"open"`

	// GitHub REST API root; override for GitHub Enterprise.
	APIURL string `yaml:"api_url" default:"https://api.github.com/"`

	// Environment variable holding the token. Read on every write.
	TokenEnv string `yaml:"token_env" default:"GITHUB_TOKEN"`
	// Optional file holding the token, consulted when the variable is unset.
	TokenFile      string `yaml:"token_file,omitempty"`
	WatchTokenFile bool   `yaml:"watch_token_file" default:"true"`

	// Extra origins allowed to call the API. The form's own origin is
	// always allowed.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	Metrics bool          `yaml:"metrics" default:"true"`
	Log     logger.Config `yaml:"log"`

	// Internal: path to config file for saving
	configPath string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// Only reachable with malformed default tags.
		panic(err)
	}
	return cfg
}

// GetConfigDir returns the config directory path
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/contentbridge"
	}
	return filepath.Join(home, ".config", "contentbridge")
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from path, or when path is empty from
// ~/.config/contentbridge/config.yaml and then ./contentbridge.yaml. Having no
// file at all is fine; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	cfgPath := path
	if cfgPath == "" {
		if globalConfig := GetConfigPath(); Exists(globalConfig) {
			cfgPath = globalConfig
		} else if Exists("contentbridge.yaml") {
			cfgPath = "contentbridge.yaml"
		}
	}

	if cfgPath == "" {
		cfg.configPath = GetConfigPath()
		return cfg, nil
	}

	// A discovered file exists, so failing to read or parse it is an error
	// just like for an explicit one.
	if err := cfg.loadFromFile(cfgPath); err != nil {
		return nil, err
	}
	cfg.configPath = cfgPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values a YAML file could have broken.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.APIURL == "" {
		return errors.New("api_url must not be empty")
	}
	return nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// Save writes the configuration to its config file
func (c *Config) Save() error {
	configDir := filepath.Dir(c.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.configPath, data, 0644)
}

// SetConfigFilePath changes where Save writes.
func (c *Config) SetConfigFilePath(path string) {
	c.configPath = path
}

// GetConfigFilePath returns the path to the config file
func (c *Config) GetConfigFilePath() string {
	return c.configPath
}

// CredentialName describes where the token is looked up, for error messages.
func (c *Config) CredentialName() string {
	if c.TokenFile != "" {
		return fmt.Sprintf("%s (or token file %s)", c.TokenEnv, c.TokenFile)
	}
	return c.TokenEnv
}

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
