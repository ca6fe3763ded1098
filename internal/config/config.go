// Package config provides configuration management for Reverie.
// It loads settings from environment variables with the REVERIE_ prefix
// and provides sensible defaults for all configuration options. Retention
// presets can additionally be loaded from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reverie-ai/reverie/internal/engine"
)

// Config holds all configuration settings for the Reverie engine.
type Config struct {
	Storage       StorageConfig
	LLM           LLMConfig
	Consolidation ConsolidationConfig
	Retention     RetentionConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, memory (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
}

// LLMConfig contains scorer provider configuration.
type LLMConfig struct {
	OllamaURL     string        // Ollama API URL (default: http://localhost:11434)
	OllamaModel   string        // Ollama model name for scoring (default: qwen2.5:7b)
	ScorerTimeout time.Duration // Per-call scorer timeout (default: 30s)
	ScorerEnabled bool          // When false, only the rule-based fallback runs (default: true)
}

// ConsolidationConfig contains pipeline tuning.
type ConsolidationConfig struct {
	MinAgeDays      float64       // Minimum memory age for stage-1 eligibility (default: 1.0)
	InterBatchDelay time.Duration // Delay between scorer batches (default: 1s)
	ScorerRetries   int           // Retries per scorer call (default: 2)
}

// RetentionConfig selects and optionally overrides a strength preset.
type RetentionConfig struct {
	Preset     string // Preset name: default, conservative, aggressive (default: default)
	PresetFile string // Optional YAML file overriding the named preset
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the REVERIE_ prefix.
func LoadConfig() (*Config, error) {
	return &Config{
		Storage: StorageConfig{
			StorageEngine: getEnv("REVERIE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("REVERIE_DATA_PATH", "./data"),
		},
		LLM: LLMConfig{
			OllamaURL:     getEnv("REVERIE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:   getEnv("REVERIE_OLLAMA_MODEL", "qwen2.5:7b"),
			ScorerTimeout: getEnvDuration("REVERIE_SCORER_TIMEOUT", 30*time.Second),
			ScorerEnabled: getEnvBool("REVERIE_SCORER_ENABLED", true),
		},
		Consolidation: ConsolidationConfig{
			MinAgeDays:      getEnvFloat("REVERIE_MIN_AGE_DAYS", 1.0),
			InterBatchDelay: getEnvDuration("REVERIE_INTER_BATCH_DELAY", time.Second),
			ScorerRetries:   getEnvInt("REVERIE_SCORER_RETRIES", 2),
		},
		Retention: RetentionConfig{
			Preset:     getEnv("REVERIE_RETENTION_PRESET", "default"),
			PresetFile: getEnv("REVERIE_RETENTION_PRESET_FILE", ""),
		},
	}, nil
}

// StrengthConfig resolves the retention preset. A preset file, when set,
// overrides the named preset entirely.
func (c *Config) StrengthConfig() (engine.StrengthConfig, error) {
	if c.Retention.PresetFile != "" {
		return loadStrengthFile(c.Retention.PresetFile)
	}
	switch c.Retention.Preset {
	case "", "default":
		return engine.DefaultStrengthConfig(), nil
	case "conservative":
		return engine.ConservativeStrengthConfig(), nil
	case "aggressive":
		return engine.AggressiveStrengthConfig(), nil
	default:
		return engine.StrengthConfig{}, fmt.Errorf("config: unknown retention preset %q", c.Retention.Preset)
	}
}

// loadStrengthFile reads a strength preset from a YAML file. Fields left
// unset in the file keep the default preset's values.
func loadStrengthFile(path string) (engine.StrengthConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.StrengthConfig{}, fmt.Errorf("config: failed to read preset file: %w", err)
	}
	cfg := engine.DefaultStrengthConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return engine.StrengthConfig{}, fmt.Errorf("config: failed to parse preset file: %w", err)
	}
	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparsable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
