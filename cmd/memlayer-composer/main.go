// memlayer-composer is the context daemon: it renders token-budgeted
// capsules from selected memories for external assistants.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/scrypster/memlayer/internal/compose"
	"github.com/scrypster/memlayer/internal/config"
	"github.com/scrypster/memlayer/internal/index"
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
		Name:  "memlayer-composer",
		Usage: "Personal memory layer: context capsule service",
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
		cfg.Server.ComposerPort = c.Int("port")
	}
	if c.IsSet("db") {
		cfg.Storage.DBPath = c.String("db")
	}
	if c.Bool("verbose") {
		log.Printf("composer: db=%s port=%d capsule_ttl=%ds",
			cfg.Storage.DBPath, cfg.Server.ComposerPort, cfg.Composer.CapsuleTTLSec)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open database: %v", err), exitDBFailure)
	}
	defer store.Close()

	searcher := index.NewSearcher(store, index.NewEmbedder(nil))
	composer := compose.NewComposer(store, searcher, cfg.Composer.CacheThreads, cfg.Composer.CapsuleTTLSec)
	handlers := server.NewComposerHandlers(composer, store)

	srv := server.New("composer", cfg.Server.Host, cfg.Server.ComposerPort, handlers.Router())
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
