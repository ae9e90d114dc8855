package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/nfce-tracker/internal/config"
	"github.com/zombor/nfce-tracker/internal/receipt"
	"github.com/zombor/nfce-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("nfce-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "nfce-tracker.db", "Database file path")
		dbDriver     = fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'")
		storagePath  = fs.StringLong("storage", "./documents", "Directory for fetched receipt documents")
		configPath   = fs.StringLong("config", "", "YAML file with fetch routes and essential fields (optional)")
		fetchTimeout = fs.DurationLong("fetch-timeout", 0, "Per-route fetch timeout, overrides the config file")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		debug        = fs.BoolLong("debug", "Enable debug logging")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("NFCE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	scanCfg := cfg.Scanning()
	if *fetchTimeout > 0 {
		scanCfg.Timeout = *fetchTimeout
	}

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver, "path", *dbPath)
	var db receipt.DB
	switch *dbDriver {
	case "bolt":
		db, err = receipt.NewBoltDB(*dbPath)
	case "sqlite":
		db, err = receipt.NewSQLiteDB(*dbPath)
	default:
		slog.Error("Invalid database driver", "driver", *dbDriver, "valid", "bolt or sqlite")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing pipeline...", "routes", len(scanCfg.Routes), "timeout", scanCfg.Timeout)
	pipeline, err := scanning.NewPipeline(scanCfg, nil, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	receiptService := receipt.NewService(db, pipeline, store)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
