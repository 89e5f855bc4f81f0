// memlayer-indexing is the retrieval daemon: hybrid search over the shared
// store, the agentic record API, and the live memory graph stream.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/scrypster/memlayer/internal/config"
	"github.com/scrypster/memlayer/internal/index"
	"github.com/scrypster/memlayer/internal/llm"
	"github.com/scrypster/memlayer/internal/notify"
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
		Name:  "memlayer-indexing",
		Usage: "Personal memory layer: search and memory graph service",
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
		cfg.Server.IndexingPort = c.Int("port")
	}
	if c.IsSet("db") {
		cfg.Storage.DBPath = c.String("db")
	}
	if c.Bool("verbose") {
		log.Printf("indexing: db=%s port=%d provider=%s",
			cfg.Storage.DBPath, cfg.Server.IndexingPort, cfg.LLM.Provider)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open database: %v", err), exitDBFailure)
	}
	defer store.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitDBFailure)
	}
	searcher := index.NewSearcher(store, embedder)
	handlers := server.NewIndexingHandlers(store, searcher)

	// The ingestion daemon writes the store; a file watcher tells us when to
	// push fresh graph snapshots to websocket subscribers.
	watcher := notify.NewDBWatcher(cfg.Storage.DBPath, handlers.NotifyChange)
	if err := watcher.Start(); err != nil {
		log.Printf("indexing: graph stream updates disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	srv := server.New("indexing", cfg.Server.Host, cfg.Server.IndexingPort, handlers.Router())
	if err := srv.Listen(); err != nil {
		return cli.Exit(err.Error(), exitBindFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		return cli.Exit(err.Error(), exitBindFailure)
	}
	return nil
}

// buildEmbedder returns the provider-backed embedder when one is configured,
// the deterministic local embedder otherwise. Both services must agree on
// the embedding space, so this mirrors the ingestion daemon's choice.
func buildEmbedder(cfg *config.Config) (index.Embedder, error) {
	if !cfg.LLM.UseLLMExtraction {
		return index.NewEmbedder(nil), nil
	}
	embeddings, err := llm.NewEmbeddingGenerator(llm.ProviderConfig{
		Provider:    cfg.LLM.Provider,
		OllamaURL:   cfg.LLM.OllamaURL,
		OllamaModel: cfg.LLM.OllamaModel,
		Timeout:     cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return index.NewEmbedder(embeddings), nil
}
