package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brensch/docingest/internal/config"
	"github.com/brensch/docingest/internal/db"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// needsStore marks commands that open the store unless --dry-run is set.
const needsStore = "needs-store"

var (
	cfgFile   string
	logFormat string
	logLevel  string
	logOutput string

	// flagCfg receives flag values; only flags the user set are copied
	// over the loaded configuration.
	flagCfg = config.Default()

	rootLogger *slog.Logger
	logFile    *os.File
	logToTTY   bool
	appConfig  config.Config
	store      *db.Store
)

var rootCmd = &cobra.Command{
	Use:   "docingest",
	Short: "OCR scanned documents from zip archives into a relational store.",
	Long: `docingest reads zip archives of scanned documents, extracts the PDFs and
images inside, runs OCR on them and stores the recognised text page by page
in Postgres or DuckDB.

The primary command is 'run'. 'upload' re-runs the upload pass over the OCR
output directory, 'state' shows the event log, 'export' snapshots the store to
Parquet and 'query' runs read-only SQL against it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		logToTTY = true
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logFile = f
			logWriter = f
			logToTTY = false
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load config file, then apply explicit flags ---
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd.Flags(), &cfg)
		appConfig = cfg
		rootLogger.Debug("Configuration loaded", slog.String("source_dir", cfg.SourceDir), slog.String("output_dir", cfg.OutputDir),
			slog.Int("ocr_workers", cfg.OCRWorkers), slog.Int("upload_workers", cfg.UploadWorkers), slog.Bool("streaming", cfg.Streaming))

		// --- 3. Validate before any work starts ---
		return cfg.Validate(cmd.Annotations[needsStore] == "true" && !cfg.DryRun)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store != nil {
			rootLogger.Debug("Closing store connection.")
			if err := store.Close(); err != nil {
				rootLogger.Error("Failed to close store cleanly", "error", err)
			}
			store = nil
		}
		if logFile != nil {
			logFile.Close()
		}
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(reportCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file; explicitly set flags override it")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	pf.StringVarP(&flagCfg.SourceDir, "source-dir", "s", flagCfg.SourceDir, "Directory holding the input zip archives")
	pf.StringVarP(&flagCfg.OutputDir, "output-dir", "o", flagCfg.OutputDir, "Directory for OCR text sidecar files")
	pf.StringVar(&flagCfg.StagingDir, "staging-dir", "", "Parent directory for per-archive staging (default: system temp)")
	pf.StringVar(&flagCfg.DSN, "dsn", "", "Store connection string (postgres://... or duckdb://path); env DOCINGEST_DSN")
	pf.IntVar(&flagCfg.OCRWorkers, "ocr-workers", flagCfg.OCRWorkers, "Concurrent OCR conversions")
	pf.IntVar(&flagCfg.UploadWorkers, "upload-workers", flagCfg.UploadWorkers, "Concurrent document uploads (also caps store connections)")
	pf.BoolVar(&flagCfg.DryRun, "dry-run", false, "List what would be processed without OCR or store access")
	pf.DurationVar(&flagCfg.OCRTimeout, "ocr-timeout", flagCfg.OCRTimeout, "Per-file OCR time limit")
	pf.DurationVar(&flagCfg.QueryTimeout, "query-timeout", flagCfg.QueryTimeout, "Per-document store write and query time limit")
	pf.StringVar(&flagCfg.PageSeparator, "page-separator", flagCfg.PageSeparator, "Page separator in OCR text (formfeed or blank-line)")
	pf.StringVar(&flagCfg.OCREngine, "ocr-engine", flagCfg.OCREngine, "OCR engine (ocrmypdf or tesseract)")
	pf.StringVar(&flagCfg.OCRBinary, "ocr-binary", flagCfg.OCRBinary, "Path to the ocrmypdf executable")
	pf.StringVar(&flagCfg.OCRLanguage, "language", flagCfg.OCRLanguage, "OCR language code")
	pf.IntVar(&flagCfg.ImageDPI, "image-dpi", flagCfg.ImageDPI, "DPI assumed for image inputs")
	pf.StringVar(&flagCfg.ZipNameEncoding, "zip-encoding", flagCfg.ZipNameEncoding, "Encoding of zip entry names without the UTF-8 flag")
	pf.IntVar(&flagCfg.ProgressEvery, "progress-every", flagCfg.ProgressEvery, "Log upload progress every N documents")

	rootCmd.Version = "0.1.0"
}

var flagOverrides = map[string]func(dst *config.Config){
	"source-dir":     func(c *config.Config) { c.SourceDir = flagCfg.SourceDir },
	"output-dir":     func(c *config.Config) { c.OutputDir = flagCfg.OutputDir },
	"staging-dir":    func(c *config.Config) { c.StagingDir = flagCfg.StagingDir },
	"dsn":            func(c *config.Config) { c.DSN = flagCfg.DSN },
	"ocr-workers":    func(c *config.Config) { c.OCRWorkers = flagCfg.OCRWorkers },
	"upload-workers": func(c *config.Config) { c.UploadWorkers = flagCfg.UploadWorkers },
	"dry-run":        func(c *config.Config) { c.DryRun = flagCfg.DryRun },
	"ocr-timeout":    func(c *config.Config) { c.OCRTimeout = flagCfg.OCRTimeout },
	"query-timeout":  func(c *config.Config) { c.QueryTimeout = flagCfg.QueryTimeout },
	"page-separator": func(c *config.Config) { c.PageSeparator = flagCfg.PageSeparator },
	"ocr-engine":     func(c *config.Config) { c.OCREngine = flagCfg.OCREngine },
	"ocr-binary":     func(c *config.Config) { c.OCRBinary = flagCfg.OCRBinary },
	"language":       func(c *config.Config) { c.OCRLanguage = flagCfg.OCRLanguage },
	"image-dpi":      func(c *config.Config) { c.ImageDPI = flagCfg.ImageDPI },
	"zip-encoding":   func(c *config.Config) { c.ZipNameEncoding = flagCfg.ZipNameEncoding },
	"progress-every": func(c *config.Config) { c.ProgressEvery = flagCfg.ProgressEvery },
	"batch":          func(c *config.Config) { c.Streaming = !runBatch },
}

func applyFlagOverrides(fs *pflag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := flagOverrides[f.Name]; ok {
			apply(cfg)
		}
	})
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

// viewLogger is the logger to use while the terminal UI owns the screen.
func viewLogger() *slog.Logger {
	if logToTTY {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return getLogger()
}

func getConfig() config.Config {
	return appConfig
}

// getStore opens the store on first use. The pool is capped at the upload
// concurrency; the event recorder shares it.
func getStore(ctx context.Context) (*db.Store, error) {
	if store != nil {
		return store, nil
	}
	s, err := db.Open(ctx, appConfig.DSN, appConfig.UploadWorkers, getLogger())
	if err != nil {
		return nil, err
	}
	store = s
	return store, nil
}
