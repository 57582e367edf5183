package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"TradeDesk/pkg/config"
)

const usage = `usage: tradedesk [-config path] <command> [args]

commands:
  analyze SYMBOL   run one analysis and print its progress
  serve            run the companion HTTP server
  watchlist        list | toggle SYMBOL | clear
  history          recent analyses (-local reads the archive)
  archive          consume finalized events into ClickHouse
  health           report backend readiness
  models           list selectable models
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "analyze":
		err = runAnalyze(ctx, cfg, args)
	case "serve":
		err = runServe(ctx, cfg)
	case "watchlist":
		err = runWatchlist(ctx, cfg, args)
	case "history":
		err = runHistory(ctx, cfg, args)
	case "archive":
		err = runArchive(ctx, cfg)
	case "health":
		err = runHealth(ctx, cfg)
	case "models":
		err = runModels(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Printf("%s: %v", cmd, err)
		os.Exit(1)
	}
}
