package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiosklab/posbox/internal/client/api"
	"github.com/kiosklab/posbox/internal/client/cli"
	"github.com/kiosklab/posbox/internal/store/boltdb"
	possync "github.com/kiosklab/posbox/internal/sync"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "", "Sync server URL (empty for offline-only mode)")
	dbPath := flag.String("db", "posbox.db", "Path to local database")
	interval := flag.Duration("interval", 15*time.Second, "Sync interval")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		flag.PrintDefaults()
		os.Exit(1)
	}
	command := args[0]

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Пустой URL означает офлайн режим: nil клиент
	var client possync.Client
	if *serverURL != "" {
		client = api.NewClient(*serverURL)
	}

	switch command {
	case "run":
		if err := cli.RunServe(ctx, client, storage, logger, *interval); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "sync":
		if err := cli.RunSync(ctx, client, storage, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		if err := cli.RunStatus(ctx, storage); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		cli.PrintUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("posbox POS daemon\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
