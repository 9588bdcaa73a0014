package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nidhogg/reflecta/internal/reflection"
)

func TestParseAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("REFLECTA_TEST_DSN", "postgres://u:p@db/reflecta")
	cfg, err := Parse([]byte(`{
		"server": {"port": 8080},
		"reflection": {"default_cycles": 5, "cycle_delay_ms": 0},
		"database": {"postgres": {"dsn": "${REFLECTA_TEST_DSN}"}, "redis": {"url": "${REFLECTA_TEST_REDIS:redis://localhost:6379}"}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.MigrationsDir != "migrations" {
		t.Errorf("migrations dir = %q, want the default", cfg.Server.MigrationsDir)
	}
	if cfg.Database.Postgres.DSN != "postgres://u:p@db/reflecta" {
		t.Errorf("dsn = %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q, want the inline default", cfg.Database.Redis.URL)
	}
	if cfg.Learning.EmbeddingDim != 16 {
		t.Errorf("embedding dim = %d, want default 16", cfg.Learning.EmbeddingDim)
	}

	opts := cfg.ReflectionOptions()
	if opts.DefaultCycles != 5 || opts.CycleDelay != 0 {
		t.Errorf("options = %+v", opts)
	}
	if opts.StepTimeout != 30*time.Second {
		t.Errorf("step timeout = %v, want 30s", opts.StepTimeout)
	}
}

func TestValidateRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"zero max cycles":      `{"reflection": {"max_cycles": 0}}`,
		"default above max":    `{"reflection": {"max_cycles": 3, "default_cycles": 4}}`,
		"negative delay":       `{"reflection": {"cycle_delay_ms": -1}}`,
		"delta max below min":  `{"reflection": {"delta_delay_min_ms": 50, "delta_delay_max_ms": 10}}`,
		"negative hidden dim":  `{"learning": {"hidden_dim": -4}}`,
		"negative learn rate":  `{"learning": {"learning_rate": -0.1}}`,
		"negative window size": `{"reflection": {"recall_window": -1}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			if !errors.Is(err, reflection.ErrMalformedConfig) {
				t.Fatalf("expected ErrMalformedConfig, got %v", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reflecta.json")
	body := `{"reference": {"providers": [{"name": "local", "endpoint": "http://llm", "model": "m", "timeout_ms": 1500}]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	llms := cfg.LLMConfigs()
	if len(llms) != 1 || llms[0].Timeout != 1500*time.Millisecond {
		t.Errorf("llm configs = %+v", llms)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}
