// Package config loads the server configuration from a YAML file, applying
// defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tasks      TasksConfig      `yaml:"tasks"`
	LLM        LLMConfig        `yaml:"llm"`
	Blueprints BlueprintsConfig `yaml:"blueprints"`
	History    HistoryConfig    `yaml:"history"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Endpoint string `yaml:"endpoint"`

	// SSEConnectionTimeout bounds how long an SSE stream may live before
	// the sweep closes it.
	SSEConnectionTimeout time.Duration `yaml:"sse_connection_timeout"`
	// CleanupInterval is the period of the task and stream sweeps.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type TasksConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxRetries  int           `yaml:"max_retries"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type BlueprintsConfig struct {
	// ExportDir is where the engine-side exporter writes Blueprint JSON.
	ExportDir string `yaml:"export_dir"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                 "127.0.0.1",
			Port:                 27015,
			Endpoint:             "/mcp",
			SSEConnectionTimeout: 300 * time.Second,
			CleanupInterval:      60 * time.Second,
		},
		Tasks: TasksConfig{
			MaxWorkers:   4,
			PollInterval: 200 * time.Millisecond,
			Timeout:      time.Hour,
		},
		LLM: LLMConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxRetries:  3,
			HTTPTimeout: 2 * time.Minute,
		},
		Blueprints: BlueprintsConfig{
			ExportDir: "./blueprints",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "nodetocode.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Endpoint == "" || c.Server.Endpoint[0] != '/' {
		return fmt.Errorf("server endpoint must start with '/': %q", c.Server.Endpoint)
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm endpoint must not be empty")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
