package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so the YAML overlay only
// overrides keys that are actually present in the file.
type fileConfig struct {
	Storage struct {
		Engine             *string `yaml:"engine"`
		DataPath           *string `yaml:"data_path"`
		PostgresDSN        *string `yaml:"postgres_dsn"`
		EmbeddingDimension *int    `yaml:"embedding_dimension"`
	} `yaml:"storage"`
	LLM struct {
		Provider          *string  `yaml:"provider"`
		OllamaURL         *string  `yaml:"ollama_url"`
		OllamaModel       *string  `yaml:"ollama_model"`
		EmbeddingModel    *string  `yaml:"embedding_model"`
		OpenAIAPIKey      *string  `yaml:"openai_api_key"`
		OpenAIModel       *string  `yaml:"openai_model"`
		AnthropicAPIKey   *string  `yaml:"anthropic_api_key"`
		AnthropicModel    *string  `yaml:"anthropic_model"`
		RequestsPerSecond *float64 `yaml:"requests_per_second"`
		Burst             *int     `yaml:"burst"`
	} `yaml:"llm"`
	Engine struct {
		QueueSize            *int    `yaml:"queue_size"`
		Workers              *int    `yaml:"workers"`
		MaxExtractionRetries *int    `yaml:"max_extraction_retries"`
		RetryBackoff         *string `yaml:"retry_backoff"`
		MultiPassExtraction  *bool   `yaml:"multi_pass"`
	} `yaml:"engine"`
	Memory struct {
		GraphNeighborLimit      *int     `yaml:"graph_neighbor_limit"`
		WeakEdgeFloor           *float64 `yaml:"weak_edge_floor"`
		EdgeWeightFactor        *float64 `yaml:"edge_weight_factor"`
		ImportanceBoostCap      *float64 `yaml:"importance_boost_cap"`
		DecayBase               *float64 `yaml:"decay_base"`
		DecayIntervalDays       *float64 `yaml:"decay_interval_days"`
		ImmutableFloorRatio     *float64 `yaml:"immutable_floor_ratio"`
		MinConfidence           *float64 `yaml:"min_confidence"`
		MaterialChangeThreshold *float64 `yaml:"material_change_threshold"`
	} `yaml:"memory"`
	Retrieval struct {
		RRFK           *int     `yaml:"rrf_k"`
		MaxVariants    *int     `yaml:"max_variants"`
		TopK           *int     `yaml:"top_k"`
		CandidateLimit *int     `yaml:"candidate_limit"`
		MaxHops        *int     `yaml:"max_hops"`
		HopDecay       *float64 `yaml:"hop_decay"`
		QueryCacheSize *int     `yaml:"query_cache_size"`
	} `yaml:"retrieval"`
	Sweep struct {
		Enabled               *bool    `yaml:"enabled"`
		Interval              *string  `yaml:"interval"`
		SimilarityThreshold   *float64 `yaml:"similarity_threshold"`
		ConsolidationStrategy *string  `yaml:"consolidation_strategy"`
	} `yaml:"sweep"`
}

// applyFile overlays the YAML file at path onto c. Keys missing from the
// file leave the existing value untouched.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	overlayString(&c.Storage.Engine, fc.Storage.Engine)
	overlayString(&c.Storage.DataPath, fc.Storage.DataPath)
	overlayString(&c.Storage.PostgresDSN, fc.Storage.PostgresDSN)
	overlayInt(&c.Storage.EmbeddingDimension, fc.Storage.EmbeddingDimension)

	overlayString(&c.LLM.Provider, fc.LLM.Provider)
	overlayString(&c.LLM.OllamaURL, fc.LLM.OllamaURL)
	overlayString(&c.LLM.OllamaModel, fc.LLM.OllamaModel)
	overlayString(&c.LLM.EmbeddingModel, fc.LLM.EmbeddingModel)
	overlayString(&c.LLM.OpenAIAPIKey, fc.LLM.OpenAIAPIKey)
	overlayString(&c.LLM.OpenAIModel, fc.LLM.OpenAIModel)
	overlayString(&c.LLM.AnthropicAPIKey, fc.LLM.AnthropicAPIKey)
	overlayString(&c.LLM.AnthropicModel, fc.LLM.AnthropicModel)
	overlayFloat(&c.LLM.RequestsPerSecond, fc.LLM.RequestsPerSecond)
	overlayInt(&c.LLM.Burst, fc.LLM.Burst)

	overlayInt(&c.Engine.QueueSize, fc.Engine.QueueSize)
	overlayInt(&c.Engine.Workers, fc.Engine.Workers)
	overlayInt(&c.Engine.MaxExtractionRetries, fc.Engine.MaxExtractionRetries)
	if err := overlayDuration(&c.Engine.RetryBackoff, fc.Engine.RetryBackoff); err != nil {
		return fmt.Errorf("config: engine.retry_backoff: %w", err)
	}
	overlayBool(&c.Engine.MultiPassExtraction, fc.Engine.MultiPassExtraction)

	overlayInt(&c.Memory.GraphNeighborLimit, fc.Memory.GraphNeighborLimit)
	overlayFloat(&c.Memory.WeakEdgeFloor, fc.Memory.WeakEdgeFloor)
	overlayFloat(&c.Memory.EdgeWeightFactor, fc.Memory.EdgeWeightFactor)
	overlayFloat(&c.Memory.ImportanceBoostCap, fc.Memory.ImportanceBoostCap)
	overlayFloat(&c.Memory.DecayBase, fc.Memory.DecayBase)
	overlayFloat(&c.Memory.DecayIntervalDays, fc.Memory.DecayIntervalDays)
	overlayFloat(&c.Memory.ImmutableFloorRatio, fc.Memory.ImmutableFloorRatio)
	overlayFloat(&c.Memory.MinConfidence, fc.Memory.MinConfidence)
	overlayFloat(&c.Memory.MaterialChangeThreshold, fc.Memory.MaterialChangeThreshold)

	overlayInt(&c.Retrieval.RRFK, fc.Retrieval.RRFK)
	overlayInt(&c.Retrieval.MaxVariants, fc.Retrieval.MaxVariants)
	overlayInt(&c.Retrieval.TopK, fc.Retrieval.TopK)
	overlayInt(&c.Retrieval.CandidateLimit, fc.Retrieval.CandidateLimit)
	overlayInt(&c.Retrieval.MaxHops, fc.Retrieval.MaxHops)
	overlayFloat(&c.Retrieval.HopDecay, fc.Retrieval.HopDecay)
	overlayInt(&c.Retrieval.QueryCacheSize, fc.Retrieval.QueryCacheSize)

	overlayBool(&c.Sweep.Enabled, fc.Sweep.Enabled)
	if err := overlayDuration(&c.Sweep.Interval, fc.Sweep.Interval); err != nil {
		return fmt.Errorf("config: sweep.interval: %w", err)
	}
	overlayFloat(&c.Sweep.SimilarityThreshold, fc.Sweep.SimilarityThreshold)
	overlayString(&c.Sweep.ConsolidationStrategy, fc.Sweep.ConsolidationStrategy)

	return nil
}

func overlayString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func overlayInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func overlayFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func overlayBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func overlayDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
