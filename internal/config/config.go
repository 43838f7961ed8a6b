// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	apperrors "github.com/embedbench/embed-bench/internal/pkg/errors"
)

// Config holds all benchmark configuration.
type Config struct {
	// Dataset configuration
	Dataset DatasetConfig `yaml:"dataset"`

	// Encode configuration
	Encode EncodeConfig `yaml:"encode"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`

	// Models to benchmark, in execution order
	Models ModelList `envconfig:"EMBENCH_MODELS" yaml:"models"`

	// Provider configuration
	Provider ProviderConfig `yaml:"provider"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// History configuration
	History HistoryConfig `yaml:"history"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// DatasetConfig holds dataset loading settings.
type DatasetConfig struct {
	Path      string `envconfig:"EMBENCH_DATASET" yaml:"path"`
	MaxTokens int    `envconfig:"EMBENCH_MAX_TOKENS" yaml:"max_tokens"`
	Limit     int    `envconfig:"EMBENCH_DATASET_LIMIT" yaml:"limit"` // 0 = no limit
}

// EncodeConfig holds batch encoding settings.
type EncodeConfig struct {
	BatchSize int `envconfig:"EMBENCH_BATCH_SIZE" yaml:"batch_size"`
	Workers   int `envconfig:"EMBENCH_ENCODE_WORKERS" yaml:"workers"`
}

// MetricsConfig holds ranking metric settings.
type MetricsConfig struct {
	RecallKs []int `envconfig:"EMBENCH_RECALL_KS" yaml:"recall_ks"`
}

// ModelConfig describes a single model under benchmark.
type ModelConfig struct {
	Name      string `yaml:"name"`
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	Quantized bool   `yaml:"quantized"`
	Pooling   string `yaml:"pooling"` // "" = mean
	Dim       int    `yaml:"dim"`     // 0 = infer from first embedding
}

// ModelList is an ordered list of model configurations.
//
// In YAML each entry is either a bare model name or a full mapping:
//
//	models:
//	  - minilm-l6
//	  - name: text-embedding-3-small
//	    backend: openai
type ModelList []ModelConfig

// UnmarshalYAML accepts both scalar and mapping entries.
func (m *ModelList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("models must be a list")
	}

	out := make(ModelList, 0, len(value.Content))
	for _, item := range value.Content {
		var mc ModelConfig
		switch item.Kind {
		case yaml.ScalarNode:
			mc.Name = item.Value
		case yaml.MappingNode:
			if err := item.Decode(&mc); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid model entry at line %d", item.Line)
		}
		out = append(out, mc)
	}

	*m = out
	return nil
}

// Decode implements envconfig.Decoder for comma-separated model names.
func (m *ModelList) Decode(value string) error {
	parts := strings.Split(value, ",")
	out := make(ModelList, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "" {
			continue
		}
		out = append(out, ModelConfig{Name: name})
	}

	*m = out
	return nil
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	ModelsDir    string       `envconfig:"EMBENCH_MODELS_DIR" yaml:"models_dir"`
	MaxSeqLength int          `envconfig:"EMBENCH_MAX_SEQ_LENGTH" yaml:"max_seq_length"`
	OpenAI       OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey            string  `envconfig:"OPENAI_API_KEY" yaml:"api_key"`
	BaseURL           string  `envconfig:"EMBENCH_OPENAI_BASE_URL" yaml:"base_url"`
	RequestsPerSecond float64 `envconfig:"EMBENCH_OPENAI_RPS" yaml:"requests_per_second"` // 0 = unlimited
	BreakerCooldown   int     `envconfig:"EMBENCH_OPENAI_BREAKER_COOLDOWN" yaml:"breaker_cooldown"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"EMBENCH_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"EMBENCH_KAFKA_BROKERS" yaml:"kafka_brokers"`

	// EventLog is an optional JSONL file recording every published event.
	// Empty disables event logging.
	EventLog string `envconfig:"EMBENCH_BUS_EVENT_LOG" yaml:"event_log"`
}

// HistoryConfig holds run-history storage settings.
type HistoryConfig struct {
	Enabled  bool   `envconfig:"EMBENCH_HISTORY_ENABLED" yaml:"enabled"`
	RedisURL string `envconfig:"EMBENCH_REDIS_URL" yaml:"redis_url"`
	Prefix   string `envconfig:"EMBENCH_HISTORY_PREFIX" yaml:"prefix"`
	TTL      int    `envconfig:"EMBENCH_HISTORY_TTL" yaml:"ttl"` // seconds, 0 = keep forever
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"EMBENCH_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"EMBENCH_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfig, "failed to load config file", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfig, "failed to process environment overrides", err)
	}

	cfg.normalize()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Dataset = DatasetConfig{
		MaxTokens: 512,
	}

	cfg.Encode = EncodeConfig{
		BatchSize: 32,
		Workers:   1,
	}

	cfg.Metrics = MetricsConfig{
		RecallKs: []int{1, 5, 10},
	}

	cfg.Provider = ProviderConfig{
		ModelsDir:    "./models",
		MaxSeqLength: 512,
		OpenAI: OpenAIConfig{
			BreakerCooldown: 30,
		},
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.History = HistoryConfig{
		RedisURL: "redis://localhost:6379",
		Prefix:   "embench:",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// normalize fills per-model defaults that setDefaults cannot know up front.
func (c *Config) normalize() {
	for i := range c.Models {
		if c.Models[i].Backend == "" {
			c.Models[i].Backend = "onnx"
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Dataset validation
	if c.Dataset.MaxTokens < 1 {
		errs = append(errs, "max_tokens must be positive")
	}

	if c.Dataset.Limit < 0 {
		errs = append(errs, "dataset limit must not be negative")
	}

	// Encode validation
	if c.Encode.BatchSize < 1 {
		errs = append(errs, "batch_size must be positive")
	}

	if c.Encode.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	// Metrics validation
	if len(c.Metrics.RecallKs) == 0 {
		errs = append(errs, "recall_ks must not be empty")
	}

	for _, k := range c.Metrics.RecallKs {
		if k < 1 {
			errs = append(errs, fmt.Sprintf("recall_ks values must be positive, got %d", k))
			break
		}
	}

	// Model validation
	validBackends := map[string]bool{"onnx": true, "openai": true, "mock": true}
	seen := make(map[string]bool, len(c.Models))

	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("models[%d]: name is required", i))
			continue
		}

		if !validBackends[m.Backend] {
			errs = append(errs, fmt.Sprintf("model %q: invalid backend %s (must be onnx, openai, or mock)", m.Name, m.Backend))
		}

		if m.Pooling != "" && m.Pooling != "mean" && m.Pooling != "cls" {
			errs = append(errs, fmt.Sprintf("model %q: invalid pooling %s (must be mean or cls)", m.Name, m.Pooling))
		}

		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("duplicate model name: %s", m.Name))
		}
		seen[m.Name] = true
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "kafka_brokers is required when bus type is kafka")
	}

	// History validation
	if c.History.TTL < 0 {
		errs = append(errs, "history ttl must not be negative")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return apperrors.New(apperrors.CodeConfig, fmt.Sprintf("config validation failed:\n  - %s", strings.Join(errs, "\n  - ")))
	}

	return nil
}
