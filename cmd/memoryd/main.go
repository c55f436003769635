// Memoryd is a conversational agent service with per-user long-term
// memory.
//
// It exposes an HTTP API for chat runs with tool calling, proactive
// nudge generation, and memory previews. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); credentials may also come from the
// environment when no file exists.
//
// Usage:
//
//	memoryd serve       Start the API server
//	memoryd version     Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aavetis/memory-poc/internal/agent"
	"github.com/aavetis/memory-poc/internal/api"
	"github.com/aavetis/memory-poc/internal/buildinfo"
	"github.com/aavetis/memory-poc/internal/config"
	"github.com/aavetis/memory-poc/internal/events"
	"github.com/aavetis/memory-poc/internal/fetch"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/memory"
	"github.com/aavetis/memory-poc/internal/notify"
	"github.com/aavetis/memory-poc/internal/nudge"
	"github.com/aavetis/memory-poc/internal/search"
	"github.com/aavetis/memory-poc/internal/tools"
	"github.com/aavetis/memory-poc/internal/usage"
)

// main constructs the OS-level environment and delegates to run so the
// startup-to-shutdown lifecycle stays testable.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	command := "serve"

	// Manual parsing keeps package-level flag state out of tests.
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, `memoryd - conversational agent with long-term memory

Usage:
  memoryd [flags] serve       Start the API server
  memoryd [flags] version     Print version information

Flags:
  -config <path>   Config file (default: search standard locations)
  -o json          Output format for version`)
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(w).Encode(buildinfo.Info())
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	slog.SetDefault(logger)

	logger.Info("starting memoryd",
		"version", buildinfo.Version,
		"config", cfgPath,
		"model", cfg.Model.Default,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	// Model provider.
	llmClient := llm.NewAnthropicClient(cfg.Model.APIKey, logger)

	// Memory store gateway. Optional: without it the memory tools
	// respond with guidance instead of results.
	var store *memory.Client
	var writer *memory.Writer
	if cfg.Memory.BaseURL != "" {
		store = memory.NewClient(cfg.Memory.BaseURL, cfg.Memory.APIKey, logger)
		writer = memory.NewWriter(store, cfg.Memory.QueueSize, bus, logger)
		defer writer.Close()
	}

	// Web search providers.
	searcher := search.NewManager(cfg.Search.Primary)
	if cfg.Search.Brave.APIKey != "" {
		searcher.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if cfg.Search.SearXNG.BaseURL != "" {
		searcher.Register(search.NewSearXNG(cfg.Search.SearXNG.BaseURL))
	}

	var fetcher *fetch.Fetcher
	if cfg.Fetch.Enabled {
		fetcher = fetch.New(cfg.Fetch.MaxChars)
	}

	registry := tools.NewRegistry(store, writer, searcher, fetcher, logger)
	runner := agent.NewRunner(llmClient, cfg.Model.Default, cfg.Model.MaxTurns, bus, logger)
	workflow := nudge.NewWorkflow(runner, registry, bus, logger)

	// Usage ledger.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer ledger.Close()

	// Optional MQTT nudge delivery.
	var notifier *notify.Publisher
	if cfg.MQTT.Enabled {
		notifier = notify.New(cfg.MQTT, logger)
		if err := notifier.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := notifier.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
		}()
	}

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, cfg.Model.Default, runner, registry, workflow, store, ledger, notifier, bus, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newLogger standardizes the slog handler configuration. All log
// output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration. When no file
// exists anywhere in the search path, defaults plus environment
// credentials are used so the service can run without a config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		cfg.Memory.BaseURL = os.Getenv("MEMORY_BASE_URL")
		cfg.Memory.APIKey = os.Getenv("MEMORY_API_KEY")
		return cfg, "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
