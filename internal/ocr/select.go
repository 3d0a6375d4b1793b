package ocr

import (
	"fmt"
	"path/filepath"
	"strings"
)

// EngineOptions selects and configures an Engine.
type EngineOptions struct {
	Name     string // "ocrmypdf" or "tesseract"
	Binary   string
	Language string
	ImageDPI int
}

// NewEngine builds the engine named in opts.
func NewEngine(opts EngineOptions) (Engine, error) {
	switch strings.ToLower(opts.Name) {
	case "", "ocrmypdf":
		return &CommandEngine{Binary: opts.Binary, Language: opts.Language, ImageDPI: opts.ImageDPI}, nil
	case "tesseract":
		return newTesseractEngine(opts.Language)
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", opts.Name)
	}
}

// IsPDFInput reports whether input is a PDF by extension.
func IsPDFInput(input string) bool {
	return strings.EqualFold(filepath.Ext(input), ".pdf")
}
