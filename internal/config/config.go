package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Base URL of the mirror service, without the /api suffix
	ServerURL string `yaml:"server_url"`

	// Where the session token is persisted between runs
	TokenPath string `yaml:"token_path"`

	// Per-request timeout
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Default username offered at login when none is typed
	Username string `yaml:"username"`
}

func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		ServerURL:      "http://localhost:8080",
		TokenPath:      filepath.Join(home, ".lemwood-mirror", "token"),
		TimeoutSeconds: 30,
	}
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".lemwood-mirror", "config.yaml")
}

// Load reads the config at path over the defaults. A missing file is
// not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
