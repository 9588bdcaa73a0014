package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/reflecta/internal/learning"
	"github.com/nidhogg/reflecta/internal/recall"
	"github.com/nidhogg/reflecta/internal/reference"
	"github.com/nidhogg/reflecta/internal/reflection"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig          `json:"server"`
	Reflection ReflectionConfig      `json:"reflection"`
	Learning   learning.Config       `json:"learning"`
	Reference  ReferenceConfig       `json:"reference"`
	Database   DatabaseConfig        `json:"database"`
	Embedding  recall.EmbedderConfig `json:"embedding"`
	Notify     NotifyConfig          `json:"notify"`
}

type ServerConfig struct {
	Port          int    `json:"port"`
	LogLevel      string `json:"log_level"`
	MigrationsDir string `json:"migrations_dir"`
}

// ReflectionConfig paces the loop. Durations are in milliseconds.
type ReflectionConfig struct {
	DefaultCycles     int   `json:"default_cycles"`
	MaxCycles         int   `json:"max_cycles"`
	CycleDelayMS      int   `json:"cycle_delay_ms"`
	DeltaDelayMinMS   int   `json:"delta_delay_min_ms"`
	DeltaDelayMaxMS   int   `json:"delta_delay_max_ms"`
	StepTimeoutMS     int   `json:"step_timeout_ms"`
	RecallWindow      int   `json:"recall_window"`
	MaxConcurrentRuns int   `json:"max_concurrent_runs"`
	Seed              int64 `json:"seed"`
}

type ReferenceConfig struct {
	Providers []ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	Name        string  `json:"name"`
	Endpoint    string  `json:"endpoint"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutMS   int     `json:"timeout_ms"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig      `json:"postgres"`
	Neo4j    Neo4jConfig         `json:"neo4j"`
	Redis    RedisConfig         `json:"redis"`
	Qdrant   recall.QdrantConfig `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	MaxLen int64  `json:"max_len"`
}

type NotifyConfig struct {
	Slack   ChannelConfig `json:"slack"`
	Discord ChannelConfig `json:"discord"`
}

// ChannelConfig posts completed generations, and insights when Insights
// is set, to one chat channel.
type ChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
	Insights bool   `json:"insights"`
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	opts := reflection.DefaultOptions()
	return &Config{
		Server: ServerConfig{Port: 3210, LogLevel: "info", MigrationsDir: "migrations"},
		Reflection: ReflectionConfig{
			DefaultCycles:     opts.DefaultCycles,
			MaxCycles:         opts.MaxCycles,
			CycleDelayMS:      int(opts.CycleDelay / time.Millisecond),
			DeltaDelayMinMS:   int(opts.DeltaDelayMin / time.Millisecond),
			DeltaDelayMaxMS:   int(opts.DeltaDelayMax / time.Millisecond),
			StepTimeoutMS:     int(opts.StepTimeout / time.Millisecond),
			RecallWindow:      opts.RecallWindow,
			MaxConcurrentRuns: opts.MaxConcurrentRuns,
		},
		Learning:  learning.DefaultConfig(),
		Embedding: recall.EmbedderConfig{Provider: "hash", Dimension: 256},
		Database: DatabaseConfig{
			Redis:  RedisConfig{MaxLen: 1000},
			Qdrant: recall.QdrantConfig{Port: 6334, Collection: "reflecta_insights", MinScore: 0.2},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over Default, substitutes environment
// variable references and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the reflection loop cannot run with.
func (c *Config) Validate() error {
	r, l := c.Reflection, c.Learning
	switch {
	case r.MaxCycles <= 0:
		return malformed("reflection.max_cycles must be positive, got %d", r.MaxCycles)
	case r.DefaultCycles < 0 || r.DefaultCycles > r.MaxCycles:
		return malformed("reflection.default_cycles %d outside [0,%d]", r.DefaultCycles, r.MaxCycles)
	case r.CycleDelayMS < 0 || r.DeltaDelayMinMS < 0 || r.StepTimeoutMS < 0:
		return malformed("reflection delays must not be negative")
	case r.DeltaDelayMaxMS < r.DeltaDelayMinMS:
		return malformed("reflection.delta_delay_max_ms %d below min %d", r.DeltaDelayMaxMS, r.DeltaDelayMinMS)
	case r.RecallWindow < 0 || r.MaxConcurrentRuns < 0:
		return malformed("reflection.recall_window and max_concurrent_runs must not be negative")
	case l.EmbeddingDim < 0 || l.HiddenDim < 0 || l.OutputSize < 0 || l.MaxSubwordLen < 0:
		return malformed("learning dimensions must not be negative")
	case l.LearningRate < 0 || l.InitStd < 0 || l.GradientScale < 0:
		return malformed("learning rates must not be negative")
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", reflection.ErrMalformedConfig, fmt.Sprintf(format, args...))
}

// ReflectionOptions converts the reflection and learning sections.
func (c *Config) ReflectionOptions() reflection.Options {
	r := c.Reflection
	return reflection.Options{
		DefaultCycles:     r.DefaultCycles,
		MaxCycles:         r.MaxCycles,
		CycleDelay:        ms(r.CycleDelayMS),
		DeltaDelayMin:     ms(r.DeltaDelayMinMS),
		DeltaDelayMax:     ms(r.DeltaDelayMaxMS),
		StepTimeout:       ms(r.StepTimeoutMS),
		RecallWindow:      r.RecallWindow,
		MaxConcurrentRuns: r.MaxConcurrentRuns,
		Seed:              r.Seed,
		Learning:          c.Learning,
	}
}

// LLMConfigs converts the reference providers.
func (c *Config) LLMConfigs() []reference.LLMConfig {
	out := make([]reference.LLMConfig, 0, len(c.Reference.Providers))
	for _, p := range c.Reference.Providers {
		out = append(out, reference.LLMConfig{
			Name:        p.Name,
			Endpoint:    p.Endpoint,
			APIKey:      p.APIKey,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Timeout:     ms(p.TimeoutMS),
		})
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
