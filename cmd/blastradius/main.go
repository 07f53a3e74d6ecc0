package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/blastradius"
)

var (
	flagDB          string
	flagFormat      string
	flagConfig      string
	flagLogLevel    string
	flagBackend     string
	flagMetricsFile string
	flagScriptsDir  string
	flagWorkers     int
)

// Resolved by the root command's PersistentPreRunE.
var (
	cfg      *Config
	logger   *slog.Logger
	repoRoot string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "blastradius",
	Short:         "Find the API entry points a change can reach",
	Long:          "Blastradius indexes a Python repository into a call graph and endpoint registry, then maps diffs to the route handlers they affect.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		start := "."
		if cmd == indexCmd && len(args) > 0 {
			start = args[0]
		}
		abs, err := filepath.Abs(start)
		if err != nil {
			return fmt.Errorf("resolving path %q: %w", start, err)
		}
		repoRoot = findRepoRoot(abs)

		cfg, err = loadConfig(repoRoot, flagConfig, cmd.Flags())
		if err != nil {
			return err
		}
		if err := validateFormat(cfg.Format); err != nil {
			return err
		}
		logger, err = newLogger(cfg.LogLevel)
		return err
	},
	// No Run; prints help by default.
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDB, "db", "", "database path (default: .blastradius/index.db relative to repo root)")
	pf.StringVar(&flagFormat, "format", "json", "output format: json|text|markdown|yaml")
	pf.StringVar(&flagConfig, "config", "", "config file (default: .blastradius/config.yaml in the repo root)")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	pf.StringVar(&flagBackend, "backend", blastradius.BackendSQLite, "storage backend: sqlite|badger")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this path")
	pf.StringVar(&flagScriptsDir, "scripts-dir", "", "load detector scripts from disk path instead of embedded")
	pf.IntVar(&flagWorkers, "workers", 0, "parser workers (default: number of CPUs)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(prefsCmd)
}

var flagForce bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository's call graph and endpoints",
	Long:  "Parses Python files with tree-sitter, resolves calls, runs route detectors, and writes the graph and endpoint registry to the database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}
	dbPath := resolveDBPath(repoRoot, cfg)

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return outputError("index", fmt.Errorf("creating %s: %w", dbDir, err))
	}

	// Badger keeps a directory, SQLite a file plus WAL siblings.
	if flagForce {
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			if err := os.RemoveAll(p); err != nil {
				return outputError("index", fmt.Errorf("removing database for --force: %w", err))
			}
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}

	engine, err := blastradius.New(dbPath, engineOptions()...)
	if err != nil {
		return outputError("index", fmt.Errorf("creating engine: %w", err))
	}
	defer engine.Close()

	report, err := engine.IndexDirectory(context.Background(), targetDir)
	if err != nil {
		return outputError("index", fmt.Errorf("indexing: %w", err))
	}
	if err := writeMetrics(engine); err != nil {
		return outputError("index", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %s in %s\n", targetDir, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)
	return outputResult(CLIResult{Command: "index", Results: report})
}

// engineOptions builds Engine options from the resolved config.
func engineOptions() []blastradius.Option {
	opts := []blastradius.Option{
		blastradius.WithLogger(logger),
		blastradius.WithBackend(cfg.Backend),
		blastradius.WithRouters(cfg.RouterMap()),
	}
	if cfg.Workers > 0 {
		opts = append(opts, blastradius.WithWorkers(cfg.Workers))
	}
	if cfg.ScriptsDir != "" {
		opts = append(opts, blastradius.WithScriptsDir(cfg.ScriptsDir))
	}
	return opts
}

func writeMetrics(engine *blastradius.Engine) error {
	if cfg.MetricsFile == "" {
		return nil
	}
	if err := engine.Metrics().WriteTextfile(cfg.MetricsFile); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the configured database path, relative paths taken
// from repoRoot, or the backend's default under .blastradius/.
func resolveDBPath(repoRoot string, c *Config) string {
	if c.DB != "" {
		if filepath.IsAbs(c.DB) {
			return c.DB
		}
		return filepath.Join(repoRoot, c.DB)
	}
	name := "index.db"
	if c.Backend == blastradius.BackendBadger {
		name = "index.badger"
	}
	return filepath.Join(repoRoot, ".blastradius", name)
}
