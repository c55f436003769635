// Package config handles memoryd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/memoryd/config.yaml, /etc/memoryd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "memoryd", "config.yaml"))
	}

	paths = append(paths, "/etc/memoryd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all memoryd configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Model    ModelConfig  `yaml:"model"`
	Memory   MemoryConfig `yaml:"memory"`
	Search   SearchConfig `yaml:"search"`
	Fetch    FetchConfig  `yaml:"fetch"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the LLM provider settings.
type ModelConfig struct {
	// APIKey is the Anthropic API key. Required.
	APIKey string `yaml:"api_key"`
	// Default is the model identifier used when a request does not name one.
	Default string `yaml:"default"`
	// MaxTurns caps the number of model calls per run (default 8).
	MaxTurns int `yaml:"max_turns"`
}

// MemoryConfig defines the external memory store connection.
type MemoryConfig struct {
	// BaseURL is the memory store endpoint. Empty disables memory tools.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates against the store. Required when BaseURL is set.
	APIKey string `yaml:"api_key"`
	// QueueSize is the buffered depth of the async write queue (default 64).
	QueueSize int `yaml:"queue_size"`
}

// BraveConfig holds Brave Search provider settings.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig holds SearXNG provider settings.
type SearXNGConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SearchConfig defines web search provider settings.
type SearchConfig struct {
	// Primary names the default provider ("brave" or "searxng").
	Primary string        `yaml:"primary"`
	Brave   BraveConfig   `yaml:"brave"`
	SearXNG SearXNGConfig `yaml:"searxng"`
}

// FetchConfig defines the fetch_url tool settings.
type FetchConfig struct {
	// Enabled exposes the fetch_url tool to the agent.
	Enabled bool `yaml:"enabled"`
	// MaxChars limits extracted text length (default 20000).
	MaxChars int `yaml:"max_chars"`
}

// MQTTConfig defines optional nudge publication over MQTT.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"` // e.g., mqtt://host:1883 or mqtts://host:8883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"` // topic segment (default "memoryd")
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen:   ListenConfig{Port: 8080},
		Model:    ModelConfig{Default: "claude-sonnet-4-20250514", MaxTurns: 8},
		Memory:   MemoryConfig{QueueSize: 64},
		Fetch:    FetchConfig{MaxChars: 20000},
		MQTT:     MQTTConfig{DeviceName: "memoryd"},
		DataDir:  "data",
		LogLevel: "info",
	}
	cfg.Search.Primary = "brave"
	return cfg
}

// Validate checks that required credentials are present. Missing
// credentials fail startup rather than degrading silently.
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if c.Memory.BaseURL != "" && c.Memory.APIKey == "" {
		return fmt.Errorf("memory.api_key is required when memory.base_url is set")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}
	return nil
}
