// Package config provides configuration management for Engram.
// It loads settings from environment variables with the ENGRAM_ prefix,
// optionally overlays a YAML file, and provides sensible defaults for all
// options. The config is explicit: it is built once at startup and threaded
// through constructors, never read from a package-level singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Engram memory engine.
type Config struct {
	Storage   StorageConfig
	LLM       LLMConfig
	Engine    EngineConfig
	Memory    MemoryConfig
	Retrieval RetrievalConfig
	Sweep     SweepConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine             string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath           string // Path to data directory for sqlite (default: ./data)
	PostgresDSN        string // Postgres connection string, required when Engine is postgres
	EmbeddingDimension int    // Embedding vector dimension (default: 768)
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider          string  // LLM provider: ollama, openai, anthropic (default: ollama)
	OllamaURL         string  // Ollama API URL (default: http://localhost:11434)
	OllamaModel       string  // Ollama model for extraction (default: qwen2.5:7b)
	EmbeddingModel    string  // Embedding model name (default: nomic-embed-text)
	OpenAIAPIKey      string  // OpenAI API key
	OpenAIModel       string  // OpenAI model name (default: gpt-4o-mini)
	AnthropicAPIKey   string  // Anthropic API key
	AnthropicModel    string  // Anthropic model name (default: claude-haiku-4-5-20251001)
	RequestsPerSecond float64 // Provider call rate limit, 0 disables (default: 0)
	Burst             int     // Rate limiter burst (default: 1)
}

// EngineConfig contains extraction pipeline configuration.
type EngineConfig struct {
	QueueSize            int           // Extraction queue capacity (default: 256)
	Workers              int           // Extraction worker count (default: 4)
	MaxExtractionRetries int           // Retries after the first failed attempt (default: 2)
	RetryBackoff         time.Duration // Delay before a retry attempt (default: 30s)
	MultiPassExtraction  bool          // Run the second extraction pass (default: true)
}

// MemoryConfig contains the write-path tuning knobs: relationship building,
// importance scoring, and decay.
type MemoryConfig struct {
	// GraphNeighborLimit is how many similar notes are offered to the
	// relationship classifier per new note (default: 5).
	GraphNeighborLimit int

	// WeakEdgeFloor is the minimum strength a classified relationship needs
	// to be persisted (default: 0.3).
	WeakEdgeFloor float64

	// EdgeWeightFactor scales summed edge strength into the importance
	// boost (default: 0.2).
	EdgeWeightFactor float64

	// ImportanceBoostCap caps the edge-derived importance boost (default: 2.0).
	ImportanceBoostCap float64

	// DecayBase and DecayIntervalDays define the decay curve
	// base^(age_days/interval) (defaults: 0.99 and 30).
	DecayBase         float64
	DecayIntervalDays float64

	// ImmutableFloorRatio is the fraction of original confidence below which
	// immutable notes never decay (default: 0.8).
	ImmutableFloorRatio float64

	// MinConfidence is the absolute confidence floor for decayed notes
	// (default: 0.1).
	MinConfidence float64

	// MaterialChangeThreshold is the smallest confidence delta worth
	// logging during a decay sweep (default: 0.01).
	MaterialChangeThreshold float64
}

// RetrievalConfig contains read-path configuration.
type RetrievalConfig struct {
	RRFK           int     // Reciprocal rank fusion constant (default: 60)
	MaxVariants    int     // Max query variants beyond the original (default: 3)
	TopK           int     // Default result count (default: 10)
	CandidateLimit int     // Per-variant candidate pool size (default: 50)
	MaxHops        int     // Graph expansion hop bound (default: 2)
	HopDecay       float64 // Score discount per hop (default: 0.5)
	QueryCacheSize int     // Query embedding LRU size, 0 disables (default: 256)
}

// SweepConfig contains maintenance sweep configuration.
type SweepConfig struct {
	Enabled               bool          // Run the background sweeper (default: true)
	Interval              time.Duration // Sweep interval (default: 1h)
	SimilarityThreshold   float64       // Consolidation duplicate threshold (default: 0.85)
	ConsolidationStrategy string        // automatic, llm_guided, or manual (default: automatic)
}

// Load builds a Config from environment variables with defaults, then
// overlays the YAML file at path if path is non-empty.
func Load(path string) (*Config, error) {
	cfg := buildBaseConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot
// guarantee once the environment and file overlays are applied.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres engine requires ENGRAM_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("config: unsupported LLM provider %q", c.LLM.Provider)
	}

	if c.Sweep.SimilarityThreshold <= 0 || c.Sweep.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarity threshold %.2f out of (0, 1]", c.Sweep.SimilarityThreshold)
	}
	switch c.Sweep.ConsolidationStrategy {
	case "automatic", "llm_guided", "manual":
	default:
		return fmt.Errorf("config: unsupported consolidation strategy %q", c.Sweep.ConsolidationStrategy)
	}

	if c.Memory.WeakEdgeFloor < 0 || c.Memory.WeakEdgeFloor > 1 {
		return fmt.Errorf("config: weak edge floor %.2f out of [0, 1]", c.Memory.WeakEdgeFloor)
	}
	if c.Memory.DecayBase <= 0 || c.Memory.DecayBase > 1 {
		return fmt.Errorf("config: decay base %.2f out of (0, 1]", c.Memory.DecayBase)
	}
	if c.Retrieval.RRFK < 1 {
		return fmt.Errorf("config: RRF k must be at least 1")
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:             getEnv("ENGRAM_STORAGE_ENGINE", "sqlite"),
			DataPath:           getEnv("ENGRAM_DATA_PATH", "./data"),
			PostgresDSN:        getEnv("ENGRAM_POSTGRES_DSN", ""),
			EmbeddingDimension: getEnvInt("ENGRAM_EMBEDDING_DIMENSION", 768),
		},
		LLM: LLMConfig{
			Provider:          getEnv("ENGRAM_LLM_PROVIDER", "ollama"),
			OllamaURL:         getEnv("ENGRAM_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("ENGRAM_OLLAMA_MODEL", "qwen2.5:7b"),
			EmbeddingModel:    getEnv("ENGRAM_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:      getEnv("ENGRAM_OPENAI_API_KEY", ""),
			OpenAIModel:       getEnv("ENGRAM_OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey:   getEnv("ENGRAM_ANTHROPIC_API_KEY", ""),
			AnthropicModel:    getEnv("ENGRAM_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			RequestsPerSecond: getEnvFloat("ENGRAM_LLM_RPS", 0),
			Burst:             getEnvInt("ENGRAM_LLM_BURST", 1),
		},
		Engine: EngineConfig{
			QueueSize:            getEnvInt("ENGRAM_QUEUE_SIZE", 256),
			Workers:              getEnvInt("ENGRAM_WORKERS", 4),
			MaxExtractionRetries: getEnvInt("ENGRAM_MAX_EXTRACTION_RETRIES", 2),
			RetryBackoff:         getEnvDuration("ENGRAM_RETRY_BACKOFF", 30*time.Second),
			MultiPassExtraction:  getEnvBool("ENGRAM_MULTI_PASS", true),
		},
		Memory: MemoryConfig{
			GraphNeighborLimit:      getEnvInt("ENGRAM_GRAPH_NEIGHBOR_LIMIT", 5),
			WeakEdgeFloor:           getEnvFloat("ENGRAM_WEAK_EDGE_FLOOR", 0.3),
			EdgeWeightFactor:        getEnvFloat("ENGRAM_EDGE_WEIGHT_FACTOR", 0.2),
			ImportanceBoostCap:      getEnvFloat("ENGRAM_IMPORTANCE_BOOST_CAP", 2.0),
			DecayBase:               getEnvFloat("ENGRAM_DECAY_BASE", 0.99),
			DecayIntervalDays:       getEnvFloat("ENGRAM_DECAY_INTERVAL_DAYS", 30),
			ImmutableFloorRatio:     getEnvFloat("ENGRAM_IMMUTABLE_FLOOR_RATIO", 0.8),
			MinConfidence:           getEnvFloat("ENGRAM_MIN_CONFIDENCE", 0.1),
			MaterialChangeThreshold: getEnvFloat("ENGRAM_MATERIAL_CHANGE_THRESHOLD", 0.01),
		},
		Retrieval: RetrievalConfig{
			RRFK:           getEnvInt("ENGRAM_RRF_K", 60),
			MaxVariants:    getEnvInt("ENGRAM_MAX_QUERY_VARIANTS", 3),
			TopK:           getEnvInt("ENGRAM_RETRIEVAL_TOP_K", 10),
			CandidateLimit: getEnvInt("ENGRAM_CANDIDATE_LIMIT", 50),
			MaxHops:        getEnvInt("ENGRAM_GRAPH_MAX_HOPS", 2),
			HopDecay:       getEnvFloat("ENGRAM_GRAPH_HOP_DECAY", 0.5),
			QueryCacheSize: getEnvInt("ENGRAM_QUERY_CACHE_SIZE", 256),
		},
		Sweep: SweepConfig{
			Enabled:               getEnvBool("ENGRAM_SWEEP_ENABLED", true),
			Interval:              getEnvDuration("ENGRAM_SWEEP_INTERVAL", time.Hour),
			SimilarityThreshold:   getEnvFloat("ENGRAM_SIMILARITY_THRESHOLD", 0.85),
			ConsolidationStrategy: getEnv("ENGRAM_CONSOLIDATION_STRATEGY", "automatic"),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax) or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
