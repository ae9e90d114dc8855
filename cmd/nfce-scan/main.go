package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/nfce-tracker/internal/config"
	"github.com/zombor/nfce-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// verdict is printed after the record
type verdict struct {
	Status  scanning.Status `json:"status"`
	Missing []string        `json:"missing_essential_fields"`
}

func main() {
	fs := ff.NewFlagSet("nfce-scan")
	var (
		configPath   = fs.StringLong("config", "", "YAML file with fetch routes and essential fields (optional)")
		fetchTimeout = fs.DurationLong("fetch-timeout", 0, "Per-route fetch timeout, overrides the config file")
		documentPath = fs.StringLong("document", "", "Extract from a saved HTML page instead of fetching it")
		debug        = fs.BoolLong("debug", "Enable debug logging")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("NFCE_SCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := fs.GetArgs()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: nfce-scan [flags] <scanned content>\n\n%s\n", ffhelp.Flags(fs))
		os.Exit(2)
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

	pipeline, err := scanning.NewPipeline(scanCfg, nil, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	record, err := run(ctx, pipeline, args[0], *documentPath)
	if errors.Is(err, scanning.ErrCanceled) {
		fmt.Fprintln(os.Stderr, "canceled")
		os.Exit(130)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	missing := pipeline.Missing(record)
	if missing == nil {
		missing = []string{}
	}
	if err := enc.Encode(verdict{Status: record.Status, Missing: missing}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if record.Status != scanning.StatusComplete {
		os.Exit(3)
	}
}

// run processes content, or re-extracts it from a saved page when one is given
func run(ctx context.Context, pipeline *scanning.Pipeline, content, documentPath string) (*scanning.Record, error) {
	if documentPath == "" {
		return pipeline.Process(ctx, content)
	}

	document, err := os.ReadFile(documentPath)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return pipeline.Reextract(ctx, content, string(document))
}
