// Package config provides configuration management for the gateway. It
// handles loading and parsing the YAML configuration file, applies
// environment variable overrides, and exposes a watcher that reloads the
// mutable subset on change.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface on which the API server will listen.
	Host string `yaml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// AdminKey authorizes the management surface. It may be a plain value or
	// a bcrypt hash; both are accepted at the auth middleware.
	AdminKey string `yaml:"admin-key"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests. SOCKS5, HTTP and HTTPS schemes are supported.
	ProxyURL string `yaml:"proxy-url"`

	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db-path"`

	// StatePath is the bolt file holding short-lived OAuth states.
	StatePath string `yaml:"state-path"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// RequestLog enables detailed request logging.
	RequestLog bool `yaml:"request-log"`

	// RedactSensitive elides Authorization and api-key headers from recorded
	// traffic events.
	RedactSensitive bool `yaml:"event-redact-sensitive"`

	// LogDir is the directory for rotated log files.
	LogDir string `yaml:"log-dir"`

	// APIKeys is a list of keys for authenticating clients to this gateway.
	APIKeys []string `yaml:"api-keys"`
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct and applies environment variable overrides.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()
	config.applyEnv()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.DBPath == "" {
		c.DBPath = "gproxy.db"
	}
	if c.StatePath == "" {
		c.StatePath = "gproxy-state.db"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GPROXY_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("GPROXY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("GPROXY_ADMIN_KEY"); v != "" {
		c.AdminKey = v
	}
	if v := os.Getenv("GPROXY_PROXY_URL"); v != "" {
		c.ProxyURL = v
	}
	if v := os.Getenv("GPROXY_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("GPROXY_DEBUG"); v != "" {
		c.Debug = v == "1" || v == "true"
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
