// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string `yaml:"port"`
	FrontendURL string `yaml:"frontend_url"`
	LogLevel    string `yaml:"log_level"`
	DBPath      string `yaml:"log_db_path"`

	SessionSecret string `yaml:"session_secret_key"`
	SystemPrompt  string `yaml:"system_prompt"`

	LLM       LLMConfig       `yaml:",inline"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Models    []ModelInfo     `yaml:"models"`
}

// LLMConfig points at an OpenAI-compatible completion endpoint.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"api_base_url"`
}

// RetrievalConfig selects and tunes the knowledge store backend.
type RetrievalConfig struct {
	Backend       string        `yaml:"backend"` // "", "grpc" or "weaviate"
	Addr          string        `yaml:"addr"`
	WeaviateURL   string        `yaml:"weaviate_url"`
	WeaviateClass string        `yaml:"weaviate_class"`
	TopK          int           `yaml:"top_k"`
	Workers       int           `yaml:"workers"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SessionConfig bounds a single streaming connection.
type SessionConfig struct {
	ReadLimit       int64         `yaml:"read_limit"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	LogWriteTimeout time.Duration `yaml:"log_write_timeout"`
}

// ModelInfo is one entry of the model catalogue.
type ModelInfo struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Retrieval backends.
const (
	BackendNone     = ""
	BackendGRPC     = "grpc"
	BackendWeaviate = "weaviate"
)

// DefaultModels is the catalogue served when none is configured.
var DefaultModels = []ModelInfo{
	{Name: "deepseek-ai/DeepSeek-R1", Description: "Reasoning model, slower but better for hard questions"},
	{Name: "deepseek-ai/DeepSeek-V3", Description: "General model, faster answers"},
}

// Default returns the configuration used before any file or environment overlay.
func Default() *Config {
	return &Config{
		Port:     "8000",
		LogLevel: "info",
		DBPath:   "./activity_log.db",
		Retrieval: RetrievalConfig{
			Addr:          "localhost:50051",
			WeaviateClass: "Document",
			TopK:          5,
			Workers:       4,
			Timeout:       30 * time.Second,
		},
		Session: SessionConfig{
			ReadLimit:       1 << 20,
			WriteTimeout:    10 * time.Second,
			LogWriteTimeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if len(cfg.Models) == 0 {
		cfg.Models = append([]ModelInfo(nil), DefaultModels...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DBPath = getEnv("LOG_DB_PATH", c.DBPath)
	c.SessionSecret = getEnv("SESSION_SECRET_KEY", c.SessionSecret)
	c.SystemPrompt = getEnv("SYSTEM_PROMPT", c.SystemPrompt)

	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)

	c.Retrieval.Backend = strings.ToLower(getEnv("RETRIEVAL_BACKEND", c.Retrieval.Backend))
	c.Retrieval.Addr = getEnv("RETRIEVAL_ADDR", c.Retrieval.Addr)
	c.Retrieval.WeaviateURL = getEnv("WEAVIATE_URL", c.Retrieval.WeaviateURL)
	c.Retrieval.WeaviateClass = getEnv("WEAVIATE_CLASS", c.Retrieval.WeaviateClass)
	c.Retrieval.TopK = getEnvInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.Workers = getEnvInt("RETRIEVAL_WORKERS", c.Retrieval.Workers)
	c.Retrieval.Timeout = getEnvDuration("RETRIEVAL_TIMEOUT", c.Retrieval.Timeout)

	c.Session.ReadLimit = int64(getEnvInt("SESSION_READ_LIMIT", int(c.Session.ReadLimit)))
	c.Session.WriteTimeout = getEnvDuration("SESSION_WRITE_TIMEOUT", c.Session.WriteTimeout)
	c.Session.LogWriteTimeout = getEnvDuration("LOG_WRITE_TIMEOUT", c.Session.LogWriteTimeout)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("LOG_DB_PATH cannot be empty"))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET_KEY must be set"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY must be set"))
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("LLM_BASE_URL must be set"))
	}
	switch c.Retrieval.Backend {
	case BackendNone:
	case BackendGRPC:
		if c.Retrieval.Addr == "" {
			errs = append(errs, errors.New("RETRIEVAL_ADDR cannot be empty for the grpc backend"))
		}
	case BackendWeaviate:
		if c.Retrieval.WeaviateURL == "" {
			errs = append(errs, errors.New("WEAVIATE_URL cannot be empty for the weaviate backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RETRIEVAL_BACKEND %q", c.Retrieval.Backend))
	}
	if c.Retrieval.Workers <= 0 {
		errs = append(errs, errors.New("RETRIEVAL_WORKERS must be > 0"))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("RETRIEVAL_TOP_K must be > 0"))
	}
	if c.Session.ReadLimit <= 0 {
		errs = append(errs, errors.New("SESSION_READ_LIMIT must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
