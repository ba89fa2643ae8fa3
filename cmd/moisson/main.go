// Command moisson retrieves published audit reports from a certificate
// registry.
//
// Usage:
//
//	moisson -config moisson.yaml                 # run with config file
//	moisson -from 2024-01-01 -to 2024-12-31      # run with flags
//	moisson -export-only                         # fetch the registry export and exit
//	moisson -mcp                                 # serve run history over MCP stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/registry"
)

func main() {
	configPath := flag.String("config", "", "path to moisson.yaml config file")
	from := flag.String("from", "", "license start window begin (YYYY-MM-DD)")
	to := flag.String("to", "", "license start window end (YYYY-MM-DD)")
	dir := flag.String("dir", "", "download directory")
	registryURL := flag.String("url", "", "registry listing page URL")
	clean := flag.Bool("clean", false, "clear previous downloads before the run")
	exportOnly := flag.Bool("export-only", false, "fetch and print the registry export, then exit")
	prune := flag.Int("prune", 0, "keep only the newest N runs in the ledger, then exit")
	serveMCP := flag.Bool("mcp", false, "serve run history over MCP stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *from, *to, *dir, *registryURL, *clean, *exportOnly, *serveMCP, *prune); err != nil {
		logger.Error("moisson: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, from, to, dir, registryURL string, clean, exportOnly, serveMCP bool, prune int) error {
	cfg, err := resolveConfig(configPath, from, to, dir, registryURL)
	if err != nil {
		return err
	}

	svc, err := registry.Open(cfg, registry.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	if prune > 0 {
		n, err := svc.PruneRuns(ctx, prune)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		logger.Info("moisson: ledger pruned", "removed", n, "kept", prune)
		return nil
	}

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "moisson",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(srv)
		logger.Info("moisson: serving MCP over stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	if exportOnly {
		path, records, err := svc.Export(ctx)
		if err != nil {
			return err
		}
		logger.Info("moisson: export fetched", "path", path, "records", len(records))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if clean {
		if err := cleanDownloadDir(cfg.DownloadDir); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
	}

	report, err := svc.Run(ctx)
	if report != nil {
		registry.RenderReport(os.Stdout, report)
	}
	return err
}

func resolveConfig(configPath, from, to, dir, registryURL string) (*registry.Config, error) {
	var cfg *registry.Config
	if configPath != "" {
		var err error
		cfg, err = registry.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else {
		cfg = &registry.Config{}
	}

	// Flags override the file.
	if from != "" {
		cfg.From = from
	}
	if to != "" {
		cfg.To = to
	}
	if dir != "" {
		cfg.DownloadDir = dir
	}
	if registryURL != "" {
		cfg.RegistryURL = registryURL
	}
	return cfg, nil
}

// cleanDownloadDir removes previous run artifacts (PDFs, the export,
// the manifest) but leaves the ledger and anything unrecognised alone.
func cleanDownloadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".pdf"),
			strings.HasSuffix(name, ".csv"):
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}
