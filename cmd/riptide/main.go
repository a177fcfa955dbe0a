// Package main implements the riptide CLI: the serve/crawl/health/status
// entry points around the crawling and extraction pipeline described in
// spec.md. Command registration follows codeNERD's cmd/nerd/main.go
// pattern (a package-level rootCmd, subcommands added from init(), a
// shared zap logger initialized in PersistentPreRunE).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"riptide/internal/api"
	"riptide/internal/config"
	"riptide/internal/document"
	"riptide/internal/logging"
	"riptide/internal/pipeline"
)

var (
	configPath string
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "riptide",
	Short: "RipTide - high-throughput web crawling and content extraction",
	Long: `RipTide fetches, classifies, and extracts web content through a
gated pipeline: static fetch first, escalating to a headless browser only
when the page's markup calls for it, backed by a WASM extractor pool with
a pure-Go native fallback.

Run "riptide serve" to start the HTTP API, or "riptide crawl <url>" for a
one-shot extraction from the command line.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("riptide: initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [url]",
	Short: "Extract a single URL and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawl,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the extractor pool's latest health report",
	RunE:  runHealth,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the configured application name and version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "riptide.yaml", "Path to the configuration file")
	rootCmd.AddCommand(serveCmd, crawlCmd, healthCmd, versionCmd, statusCmd)
}

func loadAndInitLogging(cfg *config.Config) error {
	ws, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("riptide: determine working directory: %w", err)
	}
	if err := logging.Initialize(ws, cfg.LoggingSettings()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loadAndInitLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	a.health.Start(ctx)

	srv := api.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), a.deps())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("riptide serving", zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loadAndInitLogging(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	result, err := a.orch.Process(ctx, pipeline.Request{
		Tenant: "cli",
		URL:    args[0],
		Mode:   document.Article(),
	})
	if err != nil {
		return fmt.Errorf("riptide: crawl %s: %w", args[0], err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("riptide: marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loadAndInitLogging(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	a.health.Start(ctx)
	time.Sleep(200 * time.Millisecond)

	report, ok := a.health.Latest()
	if !ok {
		fmt.Println("no health report available yet")
		return nil
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("riptide: marshal report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
