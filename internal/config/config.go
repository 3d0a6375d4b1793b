package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOCRWorkers    = 4
	DefaultUploadWorkers = 2
	DefaultProgressEvery = 100
	DefaultOCRTimeout    = 10 * time.Minute
	DefaultQueryTimeout  = 30 * time.Second
	DefaultMaxEntries    = 10000
	DefaultMaxEntryBytes = int64(2 << 30)
	DefaultOCRBinary     = "ocrmypdf"
	DefaultOCRLanguage   = "eng"
	DefaultImageDPI      = 300
	DefaultZipEncoding   = "ibm437"

	SeparatorFormFeed  = "formfeed"
	SeparatorBlankLine = "blank-line"

	EngineCommand   = "ocrmypdf"
	EngineTesseract = "tesseract"

	dsnEnv         = "DOCINGEST_DSN"
	fallbackDSNEnv = "DATABASE_URL"
)

var (
	// ErrMissingDSN is returned when a command needs the store and no
	// connection string was configured.
	ErrMissingDSN = errors.New("store connection string is not configured")
	// ErrInvalid wraps every other configuration problem.
	ErrInvalid = errors.New("invalid configuration")
)

// Config holds application settings.
type Config struct {
	SourceDir  string `yaml:"source_dir"`
	OutputDir  string `yaml:"output_dir"`
	StagingDir string `yaml:"staging_dir"` // empty means os.TempDir()
	DSN        string `yaml:"dsn"`

	OCRWorkers    int  `yaml:"ocr_workers"`
	UploadWorkers int  `yaml:"upload_workers"`
	Streaming     bool `yaml:"streaming"`
	DryRun        bool `yaml:"dry_run"`

	OCRTimeout   time.Duration `yaml:"ocr_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`

	PageSeparator string `yaml:"page_separator"`
	OCREngine     string `yaml:"ocr_engine"`
	OCRBinary     string `yaml:"ocr_binary"`
	OCRLanguage   string `yaml:"ocr_language"`
	ImageDPI      int    `yaml:"image_dpi"`

	ZipNameEncoding string `yaml:"zip_name_encoding"`
	MaxEntries      int    `yaml:"max_entries"`
	MaxEntryBytes   int64  `yaml:"max_entry_bytes"`

	ProgressEvery int `yaml:"progress_every"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		SourceDir:       "./uploads",
		OutputDir:       "./extracted",
		OCRWorkers:      DefaultOCRWorkers,
		UploadWorkers:   DefaultUploadWorkers,
		Streaming:       true,
		OCRTimeout:      DefaultOCRTimeout,
		QueryTimeout:    DefaultQueryTimeout,
		PageSeparator:   SeparatorFormFeed,
		OCREngine:       EngineCommand,
		OCRBinary:       DefaultOCRBinary,
		OCRLanguage:     DefaultOCRLanguage,
		ImageDPI:        DefaultImageDPI,
		ZipNameEncoding: DefaultZipEncoding,
		MaxEntries:      DefaultMaxEntries,
		MaxEntryBytes:   DefaultMaxEntryBytes,
		ProgressEvery:   DefaultProgressEvery,
	}
}

// Load reads an optional YAML file over the defaults and applies the
// environment override for the DSN. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dsnEnv); v != "" {
		c.DSN = v
	} else if c.DSN == "" {
		c.DSN = os.Getenv(fallbackDSNEnv)
	}
}

// Separator resolves PageSeparator to the literal split string.
func (c Config) Separator() string {
	if c.PageSeparator == SeparatorBlankLine {
		return "\n\n"
	}
	return "\f"
}

// Validate checks everything needed before any work starts. needStore
// is false for dry runs, which never open the store.
func (c Config) Validate(needStore bool) error {
	var errs []error
	if c.SourceDir == "" {
		errs = append(errs, fmt.Errorf("%w: source directory is empty", ErrInvalid))
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("%w: output directory is empty", ErrInvalid))
	}
	if c.OCRWorkers < 1 {
		errs = append(errs, fmt.Errorf("%w: ocr workers must be >= 1, got %d", ErrInvalid, c.OCRWorkers))
	}
	if c.UploadWorkers < 1 {
		errs = append(errs, fmt.Errorf("%w: upload workers must be >= 1, got %d", ErrInvalid, c.UploadWorkers))
	}
	if c.OCRTimeout < 0 || c.QueryTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: timeouts must not be negative", ErrInvalid))
	}
	switch c.PageSeparator {
	case SeparatorFormFeed, SeparatorBlankLine:
	default:
		errs = append(errs, fmt.Errorf("%w: page separator %q (use %s or %s)", ErrInvalid, c.PageSeparator, SeparatorFormFeed, SeparatorBlankLine))
	}
	switch strings.ToLower(c.OCREngine) {
	case EngineCommand, EngineTesseract:
	default:
		errs = append(errs, fmt.Errorf("%w: ocr engine %q", ErrInvalid, c.OCREngine))
	}
	if c.ProgressEvery < 1 {
		errs = append(errs, fmt.Errorf("%w: progress interval must be >= 1", ErrInvalid))
	}
	if needStore && c.DSN == "" {
		errs = append(errs, ErrMissingDSN)
	}
	return errors.Join(errs...)
}
