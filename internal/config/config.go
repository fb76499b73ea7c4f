package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

var (
	ErrNoConfig       = errors.New("config file not found")
	ErrInvalidJSON    = errors.New("invalid config JSON")
	ErrInvalidBudget  = errors.New("context_budget must be positive")
	ErrInvalidHistory = errors.New("history_keep cannot be negative")
)

// Config holds the global open-engineer configuration.
type Config struct {
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`        // Optional for local backends (Ollama)
	Model         string `json:"model"`          // Default chat model
	NamingModel   string `json:"naming_model"`   // Model for project naming (cheap/fast)
	ContextBudget int    `json:"context_budget"` // Prompt size ceiling, in tokens
	HistoryKeep   int    `json:"history_keep"`   // Minimum conversation turns always kept
}

// Load reads the config from ~/.config/open-engineer/config.json.
// A missing config file is not an error for local backends: defaults apply.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ".config", "open-engineer", "config.json")
	cfg, err := LoadFrom(configPath)
	if errors.Is(err, ErrNoConfig) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFrom reads the config from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, ErrInvalidJSON
	}

	applyDefaults(&cfg)

	if cfg.ContextBudget <= 0 {
		return nil, ErrInvalidBudget
	}
	if cfg.HistoryKeep < 0 {
		return nil, ErrInvalidHistory
	}

	return &cfg, nil
}

// Default returns a config with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5-coder:14b"
	}
	if cfg.NamingModel == "" {
		cfg.NamingModel = cfg.Model
	}
	if cfg.ContextBudget == 0 {
		cfg.ContextBudget = 16384
	}
	if cfg.HistoryKeep == 0 {
		cfg.HistoryKeep = 2
	}
}
