// Package config loads entityx configuration from defaults, an optional YAML
// file, a .env file and ENTITYX_* environment variables, in rising precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dan-solli/entityx/internal/logging"
	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/prompt"
)

// EnvPrefix prefixes every environment override, e.g. ENTITYX_BACKEND_BASE_URL
const EnvPrefix = "ENTITYX"

// Config is the full process configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Harness    HarnessConfig    `mapstructure:"harness"`
	Log        logging.Config   `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Trace      TraceConfig      `mapstructure:"trace"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BackendConfig selects the completion backend. A zero Timeout means the
// family default: 30s completion, 300s generate, 60s chat. An empty BaseURL
// likewise falls back to llm.DefaultBaseURL.
type BackendConfig struct {
	Family      string               `mapstructure:"family"`
	BaseURL     string               `mapstructure:"base_url"`
	Model       string               `mapstructure:"model"`
	APIKey      string               `mapstructure:"api_key"`
	Timeout     time.Duration        `mapstructure:"timeout"`
	MaxTokens   int                  `mapstructure:"max_tokens"`
	Temperature float64              `mapstructure:"temperature"`
	TopP        float64              `mapstructure:"top_p"`
	Envelope    llm.GenerateEnvelope `mapstructure:"envelope"`
	MaxRetries  int                  `mapstructure:"max_retries"`
}

// LLM converts to the adapter configuration
func (b BackendConfig) LLM() llm.Config {
	baseURL := b.BaseURL
	if baseURL == "" {
		baseURL = llm.DefaultBaseURL(llm.Family(b.Family))
	}
	return llm.Config{
		Family:      llm.Family(b.Family),
		BaseURL:     baseURL,
		Model:       b.Model,
		APIKey:      b.APIKey,
		Timeout:     b.Timeout,
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
		TopP:        b.TopP,
		Envelope:    b.Envelope,
		MaxRetries:  b.MaxRetries,
	}
}

type RecoveryConfig struct {
	Repair bool `mapstructure:"repair"`
}

type ExtractionConfig struct {
	// PromptTemplate overrides the instruction; it must carry {{text}} and {{entities}}
	PromptTemplate string `mapstructure:"prompt_template"`
	AskConfidence  bool   `mapstructure:"ask_confidence"`
}

type HarnessConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	PassRatio      float64       `mapstructure:"pass_ratio"`
	CaseTimeout    time.Duration `mapstructure:"case_timeout"`
	Parallelism    int           `mapstructure:"parallelism"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// HistoryDB enables run history when set
	HistoryDB string `mapstructure:"history_db"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TraceConfig struct {
	// File enables JSON lines trace export when set
	File     string `mapstructure:"file"`
	MaxSize  int64  `mapstructure:"max_size"`
	MaxFiles int    `mapstructure:"max_files"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 330*time.Second) // outlives the 300s generate timeout

	v.SetDefault("backend.family", string(llm.FamilyCompletion))
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.model", "gemma3-4b-it-Q8_0")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 0)
	v.SetDefault("backend.max_tokens", 1024)
	v.SetDefault("backend.temperature", 0.1)
	v.SetDefault("backend.top_p", 0.9)
	v.SetDefault("backend.envelope.field", llm.DefaultGenerateEnvelope.Field)
	v.SetDefault("backend.envelope.nested", false)
	v.SetDefault("backend.max_retries", 0)

	v.SetDefault("recovery.repair", false)

	v.SetDefault("extraction.prompt_template", prompt.DefaultTemplate)
	v.SetDefault("extraction.ask_confidence", false)

	v.SetDefault("harness.endpoint", "http://localhost:8081/entity-extraction")
	v.SetDefault("harness.pass_ratio", 0.6)
	v.SetDefault("harness.case_timeout", 0)
	v.SetDefault("harness.parallelism", 1)
	v.SetDefault("harness.request_timeout", 30*time.Second)
	v.SetDefault("harness.history_db", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("trace.file", "")
	v.SetDefault("trace.max_size", 10*1024*1024)
	v.SetDefault("trace.max_files", 5)
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration. configPath may be empty. envFile names a dotenv
// file whose variables are exported before environment binding; a missing
// file is ignored.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "failed to load %s", envFile)
			}
		}
	}

	v := NewViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	switch llm.Family(c.Backend.Family) {
	case llm.FamilyCompletion, llm.FamilyGenerate, llm.FamilyChat:
	default:
		return errors.Newf("backend.family: unknown family %q (want completion, generate or chat)", c.Backend.Family)
	}
	if c.Backend.Timeout < 0 {
		return errors.New("backend.timeout: must not be negative")
	}
	if c.Harness.PassRatio < 0 || c.Harness.PassRatio > 1 {
		return errors.Newf("harness.pass_ratio: %v is outside [0, 1]", c.Harness.PassRatio)
	}
	if c.Harness.Parallelism < 1 {
		return errors.Newf("harness.parallelism: %d must be at least 1", c.Harness.Parallelism)
	}
	if c.Harness.CaseTimeout < 0 {
		return errors.New("harness.case_timeout: must not be negative")
	}
	if c.Extraction.PromptTemplate != "" && !prompt.Validate(c.Extraction.PromptTemplate) {
		return errors.New("extraction.prompt_template: must contain {{text}} and {{entities}}")
	}
	return nil
}
