package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	root "github.com/thinkscotty/digest"
	"github.com/thinkscotty/digest/internal/cache"
	"github.com/thinkscotty/digest/internal/config"
	"github.com/thinkscotty/digest/internal/digest"
	"github.com/thinkscotty/digest/internal/fetch"
	"github.com/thinkscotty/digest/internal/server"
	"github.com/thinkscotty/digest/internal/summarize"
	"github.com/thinkscotty/digest/internal/updater"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	onlyDigest string
	workers    int
	serveHost  string
	servePort  int
)

const historyRetention = 30 * 24 * time.Hour

func main() {
	rootCmd := &cobra.Command{
		Use:           "digest",
		Short:         "Generate AI-summarized RSS digests from configured feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, summarize, and emit every configured digest",
		RunE:  runDigests,
	}
	runCmd.Flags().StringVarP(&onlyDigest, "digest", "d", "", "process only the digest with this name or id")
	runCmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent sources per digest")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and print the resolved digests",
		RunE:  validateConfig,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generated digests over HTTP for local preview",
		RunE:  servePreview,
	}
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "address to bind")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "port to listen on")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("digest %s (built %s)\n", version, buildTime)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration file to get started",
		RunE:  initConfig,
	}

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Check for a newer release and install it",
		RunE:  runUpdate,
	}

	rootCmd.AddCommand(runCmd, validateCmd, serveCmd, initCmd, updateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env (when present) and the YAML configuration, then
// installs the logger at the configured level.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load .env file", "error", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runDigests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		store   cache.Store   = cache.Noop{}
		history cache.History = cache.NoopHistory{}
	)
	var db *cache.DB
	if cfg.CacheEnabled {
		db, err = cache.Open(cfg.CacheDir)
		if err != nil {
			return err
		}
		defer db.Close()
		store, history = db, db
		slog.Info("Summary cache ready", "dir", cfg.CacheDir)
	} else {
		slog.Info("Summary cache disabled, every article will be summarized fresh")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := summarize.New(store)
	assembler := digest.NewAssembler(fetch.New(), gateway, history, workers)
	runner := digest.NewRunner(cfg, assembler)

	report, err := runner.Run(ctx, onlyDigest)
	if err != nil {
		return err
	}

	if db != nil {
		if removed, err := db.Cleanup(ctx, historyRetention); err != nil {
			slog.Warn("Cache cleanup failed", "error", err)
		} else if removed > 0 {
			slog.Info("Expired cache entries removed", "count", removed)
		}
	}

	printSummary(report, gateway.Stats())

	if !report.Clean() {
		return errors.New("run completed with errors, see summary above")
	}
	return nil
}

// printSummary itemizes the run outcome: per-digest counts plus every
// skipped source and abort, followed by cache and provider totals.
func printSummary(report *digest.RunReport, stats summarize.Stats) {
	fmt.Println()
	for _, d := range report.Digests {
		switch {
		case d.Aborted:
			fmt.Printf("  %s: ABORTED: %v\n", d.Name, d.Err)
		default:
			fmt.Printf("  %s: %d articles -> %s\n", d.Name, d.Articles, strings.Join(d.Files, ", "))
		}
		for _, skip := range d.Skipped {
			fmt.Printf("    skipped source %s: %v\n", skip.URL, skip.Err)
		}
		if d.Degraded > 0 {
			fmt.Printf("    %d article(s) fell back to excerpts\n", d.Degraded)
		}
	}
	fmt.Printf("\n  cache: %d hit(s), %d miss(es); provider calls: %d\n\n",
		stats.CacheHits, stats.CacheMisses, stats.ProviderCalls)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration OK: %d digest(s)\n", len(cfg.Digests))
	for _, d := range cfg.Digests {
		fmt.Printf("  %s (id %s): %d source(s)\n", d.Name, d.ID, len(d.Sources))
		for _, src := range d.Sources {
			fmt.Printf("    %s [%s] model=%s length=%d formats=%s\n",
				src.URL, src.Label, src.Settings.Model, src.Settings.SummaryLength,
				strings.Join(src.Settings.OutputFormats, ","))
		}
	}
	return nil
}

// initConfig writes the embedded example configuration to the --config path,
// refusing to clobber an existing file.
func initConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", configPath)
	}
	if err := os.WriteFile(configPath, root.ExampleConfig, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}
	fmt.Printf("Wrote %s. Edit it, set ANTHROPIC_API_KEY, then run: digest run\n", configPath)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	setupLogging("info")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info, err := updater.CheckForUpdate(ctx, version)
	if err != nil {
		return fmt.Errorf("check for update: %w", err)
	}
	if info == nil {
		fmt.Printf("digest %s is up to date\n", version)
		return nil
	}

	fmt.Printf("Updating %s -> %s (%s, %s)\n",
		version, info.Version, info.AssetName, updater.FormatBytes(info.AssetSize))
	result, err := updater.DownloadAndInstall(ctx, info, version)
	if err != nil {
		return fmt.Errorf("install update: %w", err)
	}

	fmt.Printf("Installed digest %s (was %s)\n", result.NewVersion, result.OldVersion)
	return nil
}

func servePreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv := server.New(cfg.OutputDir, serveHost, servePort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
