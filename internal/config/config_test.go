package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValidWithDSN(t *testing.T) {
	cfg := Default()
	cfg.DSN = "duckdb://:memory:"
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("default config with DSN should validate, got %v", err)
	}
	if cfg.OCRWorkers != 4 || cfg.UploadWorkers != 2 {
		t.Fatalf("unexpected worker defaults: ocr=%d upload=%d", cfg.OCRWorkers, cfg.UploadWorkers)
	}
}

func TestValidateMissingDSN(t *testing.T) {
	cfg := Default()
	cfg.DSN = ""
	err := cfg.Validate(true)
	if !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("expected ErrMissingDSN, got %v", err)
	}
	if err := cfg.Validate(false); err != nil {
		t.Fatalf("dry run should not need a DSN, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ocr workers", func(c *Config) { c.OCRWorkers = 0 }},
		{"zero upload workers", func(c *Config) { c.UploadWorkers = 0 }},
		{"bad separator", func(c *Config) { c.PageSeparator = "pipe" }},
		{"bad engine", func(c *Config) { c.OCREngine = "abbyy" }},
		{"empty source", func(c *Config) { c.SourceDir = "" }},
		{"negative timeout", func(c *Config) { c.OCRTimeout = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(false); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docingest.yaml")
	body := "source_dir: /data/zips\nocr_workers: 8\npage_separator: blank-line\nocr_timeout: 90s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(dsnEnv, "postgres://u:p@localhost/docs")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SourceDir != "/data/zips" || cfg.OCRWorkers != 8 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.UploadWorkers != DefaultUploadWorkers {
		t.Fatalf("unset field should keep default, got %d", cfg.UploadWorkers)
	}
	if cfg.OCRTimeout != 90*time.Second {
		t.Fatalf("ocr timeout = %v", cfg.OCRTimeout)
	}
	if cfg.Separator() != "\n\n" {
		t.Fatalf("separator = %q", cfg.Separator())
	}
	if cfg.DSN != "postgres://u:p@localhost/docs" {
		t.Fatalf("env DSN not applied: %q", cfg.DSN)
	}
}
