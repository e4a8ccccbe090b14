package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int    `yaml:"port"`
	DBPath         string `yaml:"dbPath"`
	OllamaBaseURL  string `yaml:"ollamaBaseUrl"`
	EmbeddingModel string `yaml:"embeddingModel"`
	EmbeddingDim   int    `yaml:"embeddingDim"`
	SummaryModel   string `yaml:"summaryModel"`
	LogLevel       string `yaml:"logLevel"`
	APIKey         string `yaml:"apiKey"`
	// Search tuning
	VectorWeight   float64 `yaml:"vectorWeight"`
	KeywordWeight  float64 `yaml:"keywordWeight"`
	RecallMinScore float64 `yaml:"recallMinScore"`
	// Memory lifecycle
	DedupThreshold     float64 `yaml:"dedupThreshold"`
	MaxMemoriesPerUser int     `yaml:"maxMemoriesPerUser"`
	// Embedding cache and retries
	CacheMaxEntries  int `yaml:"cacheMaxEntries"`
	RetryMaxAttempts int `yaml:"retryMaxAttempts"`
	// Session indexing
	ChunkMaxChars         int `yaml:"chunkMaxChars"`
	ChunkOverlapChars     int `yaml:"chunkOverlapChars"`
	ReindexMinNewMessages int `yaml:"reindexMinNewMessages"`
	// Archiving
	MaxIndexedSessions   int `yaml:"maxIndexedSessions"`
	ArchiveAfterDays     int `yaml:"archiveAfterDays"`
	ArchiveMaxInputChars int `yaml:"archiveMaxInputChars"`
}

// Load builds the config from defaults, an optional YAML file (RECALL_CONFIG
// or ./recall.yaml), and environment variable overrides, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("RECALL_CONFIG")
	if path == "" {
		if _, err := os.Stat("recall.yaml"); err == nil {
			path = "recall.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                  8742,
		DBPath:                "data/recall.db",
		OllamaBaseURL:         "http://localhost:11434",
		EmbeddingModel:        "nomic-embed-text",
		EmbeddingDim:          768,
		SummaryModel:          "qwen2.5:1.5b",
		LogLevel:              "info",
		VectorWeight:          0.7,
		KeywordWeight:         0.3,
		RecallMinScore:        0.35,
		DedupThreshold:        0.95,
		MaxMemoriesPerUser:    500,
		CacheMaxEntries:       10000,
		RetryMaxAttempts:      3,
		ChunkMaxChars:         1600,
		ChunkOverlapChars:     320,
		ReindexMinNewMessages: 4,
		MaxIndexedSessions:    50,
		ArchiveAfterDays:      7,
		ArchiveMaxInputChars:  15000,
	}
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("RECALL_DB_PATH", c.DBPath)
	c.OllamaBaseURL = envStr("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.EmbeddingModel = envStr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = envInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.SummaryModel = envStr("SUMMARY_MODEL", c.SummaryModel)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.APIKey = envStr("RECALL_API_KEY", c.APIKey)
	c.VectorWeight = envFloat("VECTOR_WEIGHT", c.VectorWeight)
	c.KeywordWeight = envFloat("KEYWORD_WEIGHT", c.KeywordWeight)
	c.RecallMinScore = envFloat("RECALL_MIN_SCORE", c.RecallMinScore)
	c.DedupThreshold = envFloat("DEDUP_THRESHOLD", c.DedupThreshold)
	c.MaxMemoriesPerUser = envInt("MAX_MEMORIES_PER_USER", c.MaxMemoriesPerUser)
	c.CacheMaxEntries = envInt("CACHE_MAX_ENTRIES", c.CacheMaxEntries)
	c.RetryMaxAttempts = envInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.ChunkMaxChars = envInt("CHUNK_MAX_CHARS", c.ChunkMaxChars)
	c.ChunkOverlapChars = envInt("CHUNK_OVERLAP_CHARS", c.ChunkOverlapChars)
	c.ReindexMinNewMessages = envInt("REINDEX_MIN_NEW_MESSAGES", c.ReindexMinNewMessages)
	c.MaxIndexedSessions = envInt("MAX_INDEXED_SESSIONS", c.MaxIndexedSessions)
	c.ArchiveAfterDays = envInt("ARCHIVE_AFTER_DAYS", c.ArchiveAfterDays)
	c.ArchiveMaxInputChars = envInt("ARCHIVE_MAX_INPUT_CHARS", c.ArchiveMaxInputChars)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("RECALL_DB_PATH must not be empty")
	}
	if c.OllamaBaseURL == "" {
		return fmt.Errorf("OLLAMA_BASE_URL must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	sum := c.VectorWeight + c.KeywordWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("VECTOR_WEIGHT + KEYWORD_WEIGHT must equal 1.0, got %f", sum)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("DEDUP_THRESHOLD must be in (0, 1], got %f", c.DedupThreshold)
	}
	if c.ChunkOverlapChars >= c.ChunkMaxChars {
		return fmt.Errorf("CHUNK_OVERLAP_CHARS must be smaller than CHUNK_MAX_CHARS")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
