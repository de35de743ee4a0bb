// cmd/engramd is the Engram memory daemon. It wires the configured storage
// backend and LLM provider into the memory engine, starts the extraction
// worker pool, and runs the background maintenance sweeper until it receives
// SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

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
	flag.Parse()

	log.SetPrefix("engramd: ")
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

	engineCfg := engine.DefaultConfig()
	engineCfg.Workers = cfg.Engine.Workers
	engineCfg.QueueSize = cfg.Engine.QueueSize
	engineCfg.MaxRetries = cfg.Engine.MaxExtractionRetries
	engineCfg.RetryBackoff = cfg.Engine.RetryBackoff
	engineCfg.MultiPass = cfg.Engine.MultiPassExtraction

	eng, err := engine.New(store, generator, embedder, settings, cfg, engineCfg, nil)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	defer func() {
		if err := eng.Shutdown(context.Background()); err != nil {
			log.Printf("engine shutdown error: %v", err)
		}
	}()

	if cfg.Sweep.Enabled {
		sweeper := engine.NewSweeper(eng, cfg.Sweep.Interval)
		go sweeper.Run(ctx)
	}

	// Hot-reload tuning defaults when the config file changes. Storage and
	// provider selection still require a restart.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath)
		if err != nil {
			log.Printf("config watching disabled: %v", err)
		} else {
			watcher.Subscribe(func(next *config.Config) {
				settings.UpdateDefaults(next)
			})
			go watcher.Run(ctx)
		}
	}

	log.Printf("engramd running (storage=%s provider=%s model=%s)",
		cfg.Storage.Engine, cfg.LLM.Provider, generator.Model())
	<-ctx.Done()
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
		// Embeddings come from Ollama when the text provider is Anthropic.
		pc.BaseURL = cfg.LLM.OllamaURL
	default:
		pc.BaseURL = cfg.LLM.OllamaURL
		pc.Model = cfg.LLM.OllamaModel
	}
	return pc
}
