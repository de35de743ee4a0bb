// cmd/engram-sweep runs a single decay and consolidation pass over every
// owner and exits. It is meant for cron-style scheduling on deployments that
// do not keep engramd running.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/internal/llm"
	"github.com/engram-memory/engram/internal/services"
	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/internal/storage/postgres"
	"github.com/engram-memory/engram/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	timeout := flag.Duration("timeout", 30*time.Minute, "abort the sweep after this long")
	flag.Parse()

	log.SetPrefix("engram-sweep: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	generator, err := llm.NewTextGenerator(providerConfig(cfg))
	if err != nil {
		log.Fatalf("failed to create LLM client: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(providerConfig(cfg))
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}

	settings, err := services.NewSettingsService(store, cfg, 1024)
	if err != nil {
		log.Fatalf("failed to create settings service: %v", err)
	}

	eng, err := engine.New(store, generator, embedder, settings, cfg, engine.DefaultConfig(), nil)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	engine.NewSweeper(eng, 0).SweepAll(ctx)
	log.Printf("sweep finished in %s", time.Since(start).Round(time.Millisecond))
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.Open(cfg.Storage.PostgresDSN, cfg.Storage.EmbeddingDimension)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, err
		}
		return sqlite.Open(filepath.Join(cfg.Storage.DataPath, "engram.db"))
	}
}

// providerConfig maps the global config onto the LLM factory's input.
func providerConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}
	switch cfg.LLM.Provider {
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.Model = cfg.LLM.OpenAIModel
	case "anthropic":
		pc.APIKey = cfg.LLM.AnthropicAPIKey
		pc.Model = cfg.LLM.AnthropicModel
		pc.BaseURL = cfg.LLM.OllamaURL
	default:
		pc.BaseURL = cfg.LLM.OllamaURL
		pc.Model = cfg.LLM.OllamaModel
	}
	return pc
}
