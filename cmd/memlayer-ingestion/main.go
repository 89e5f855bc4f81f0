// memlayer-ingestion is the capture daemon: it accepts conversational turns
// over HTTP, persists them, and runs the asynchronous extraction pipeline
// that distills them into memories.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/scrypster/memlayer/internal/config"
	"github.com/scrypster/memlayer/internal/extract"
	"github.com/scrypster/memlayer/internal/index"
	"github.com/scrypster/memlayer/internal/ingest"
	"github.com/scrypster/memlayer/internal/llm"
	"github.com/scrypster/memlayer/internal/server"
	"github.com/scrypster/memlayer/internal/storage/sqlite"
)

// Exit codes: 0 clean shutdown, 1 bind failure, 2 database failure.
const (
	exitBindFailure = 1
	exitDBFailure   = 2
)

func main() {
	app := &cli.App{
		Name:  "memlayer-ingestion",
		Usage: "Personal memory layer: turn capture and extraction service",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (overrides config)"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (overrides config)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log effective configuration at startup"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err.Error(), exitDBFailure)
	}
	if c.IsSet("port") {
		cfg.Server.IngestionPort = c.Int("port")
	}
	if c.IsSet("db") {
		cfg.Storage.DBPath = c.String("db")
	}
	if c.Bool("verbose") {
		log.Printf("ingestion: db=%s port=%d workers=%d queue=%d strategy=%s llm=%v",
			cfg.Storage.DBPath, cfg.Server.IngestionPort,
			cfg.Extraction.Workers, cfg.Extraction.QueueSize,
			cfg.Extraction.Strategy, cfg.LLM.UseLLMExtraction)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open database: %v", err), exitDBFailure)
	}
	defer store.Close()

	extractor, embedder, err := buildExtraction(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitDBFailure)
	}
	evolver := index.NewEvolver(store, embedder)
	pipeline := ingest.NewPipeline(store, extractor, evolver, cfg.Extraction.Workers, cfg.Extraction.QueueSize)

	handlers := server.NewIngestionHandlers(store, pipeline)
	srv := server.New("ingestion", cfg.Server.Host, cfg.Server.IngestionPort, handlers.Router())
	if err := srv.Listen(); err != nil {
		return cli.Exit(err.Error(), exitBindFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline.Start(ctx)
	if err := srv.Serve(ctx); err != nil {
		return cli.Exit(err.Error(), exitBindFailure)
	}

	// Give in-flight extractions a moment to drain before the store closes.
	done := make(chan struct{})
	go func() { pipeline.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("ingestion: workers still busy at shutdown, abandoning")
	}
	return nil
}

// buildExtraction assembles the extractor and the embedder the evolution
// pass uses, honoring the LLM settings when extraction augmentation is on.
func buildExtraction(cfg *config.Config) (*extract.Extractor, index.Embedder, error) {
	strategy := extract.ParseStrategy(cfg.Extraction.Strategy)
	if !cfg.LLM.UseLLMExtraction {
		return extract.NewExtractor(extract.HeuristicOnly, nil), index.NewEmbedder(nil), nil
	}

	provider := providerConfig(cfg)
	generator, err := llm.NewTextGenerator(provider)
	if err != nil {
		return nil, nil, err
	}
	embeddings, err := llm.NewEmbeddingGenerator(provider)
	if err != nil {
		return nil, nil, err
	}
	llmExtractor := extract.NewLLMExtractor(generator, cfg.LLM.Timeout())
	return extract.NewExtractor(strategy, llmExtractor), index.NewEmbedder(embeddings), nil
}

func providerConfig(cfg *config.Config) llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:    cfg.LLM.Provider,
		OllamaURL:   cfg.LLM.OllamaURL,
		OllamaModel: cfg.LLM.OllamaModel,
		APIKey:      cfg.LLM.OpenAIAPIKey,
		BaseURL:     cfg.LLM.OpenAIBaseURL,
		Model:       cfg.LLM.OpenAIModel,
		Timeout:     cfg.LLM.Timeout(),
	}
}
