package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultHost binds to loopback only; the GUI is a local tool.
	DefaultHost = "127.0.0.1"
	DefaultPort = 8765

	// DefaultHistoryBytes is the per-session output history retained for
	// replay to late subscribers.
	DefaultHistoryBytes = 100_000
)

// ServerConfig holds the user-tunable server settings, loaded from
// ~/.task-mind/config.yaml when present.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	SessionsDir  string `yaml:"sessions_dir"`
	HistoryBytes int    `yaml:"history_bytes"`
	Debug        bool   `yaml:"debug"`
}

// DefaultServerConfig returns the built-in settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         DefaultHost,
		Port:         DefaultPort,
		SessionsDir:  Runtime.SessionsDir,
		HistoryBytes: DefaultHistoryBytes,
	}
}

// LoadServerConfig reads the YAML config at path, layered over the
// defaults. A missing file is not an error.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = Runtime.SessionsDir
	}
	if cfg.HistoryBytes <= 0 {
		cfg.HistoryBytes = DefaultHistoryBytes
	}

	return cfg, nil
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
