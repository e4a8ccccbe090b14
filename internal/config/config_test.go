package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECALL_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 8742 {
		t.Errorf("expected default port 8742, got %d", cfg.Port)
	}
	if cfg.EmbeddingModel != "nomic-embed-text" || cfg.EmbeddingDim != 768 {
		t.Errorf("unexpected embedding defaults: %s/%d", cfg.EmbeddingModel, cfg.EmbeddingDim)
	}
	if cfg.VectorWeight != 0.7 || cfg.KeywordWeight != 0.3 {
		t.Errorf("unexpected weight defaults: %f/%f", cfg.VectorWeight, cfg.KeywordWeight)
	}
	if cfg.MaxMemoriesPerUser != 500 || cfg.DedupThreshold != 0.95 {
		t.Errorf("unexpected memory defaults: %d/%f", cfg.MaxMemoriesPerUser, cfg.DedupThreshold)
	}
	if cfg.APIKey != "" {
		t.Errorf("expected no default api key, got %q", cfg.APIKey)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_CONFIG", "")
	t.Setenv("PORT", "9000")
	t.Setenv("RECALL_DB_PATH", "/tmp/other.db")
	t.Setenv("VECTOR_WEIGHT", "0.6")
	t.Setenv("KEYWORD_WEIGHT", "0.4")
	t.Setenv("RECALL_API_KEY", "sekrit")
	t.Setenv("MAX_MEMORIES_PER_USER", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("PORT override ignored: %d", cfg.Port)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("RECALL_DB_PATH override ignored: %s", cfg.DBPath)
	}
	if cfg.VectorWeight != 0.6 || cfg.KeywordWeight != 0.4 {
		t.Errorf("weight overrides ignored: %f/%f", cfg.VectorWeight, cfg.KeywordWeight)
	}
	if cfg.APIKey != "sekrit" {
		t.Errorf("RECALL_API_KEY override ignored: %q", cfg.APIKey)
	}
	if cfg.MaxMemoriesPerUser != 100 {
		t.Errorf("MAX_MEMORIES_PER_USER override ignored: %d", cfg.MaxMemoriesPerUser)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	body := []byte("port: 8800\nsummaryModel: llama3.2:3b\nrecallMinScore: 0.5\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RECALL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 8800 {
		t.Errorf("yaml port ignored: %d", cfg.Port)
	}
	if cfg.SummaryModel != "llama3.2:3b" {
		t.Errorf("yaml summary model ignored: %s", cfg.SummaryModel)
	}
	if cfg.RecallMinScore != 0.5 {
		t.Errorf("yaml recall score ignored: %f", cfg.RecallMinScore)
	}
	// Values the file does not mention keep their defaults.
	if cfg.EmbeddingDim != 768 {
		t.Errorf("default lost during yaml merge: %d", cfg.EmbeddingDim)
	}
}

func TestEnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	if err := os.WriteFile(path, []byte("port: 8800\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RECALL_CONFIG", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("env should override yaml: %d", cfg.Port)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = 0 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"weights do not sum to one", func(c *Config) { c.VectorWeight = 0.9; c.KeywordWeight = 0.3 }},
		{"dedup threshold above one", func(c *Config) { c.DedupThreshold = 1.5 }},
		{"overlap not smaller than chunk size", func(c *Config) { c.ChunkOverlapChars = 1600 }},
		{"embedding dim zero", func(c *Config) { c.EmbeddingDim = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := defaults().validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
