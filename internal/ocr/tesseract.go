//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognises JPG and PNG inputs in-process through libtesseract.
// PDFs need rasterising first and are rejected.
type TesseractEngine struct {
	Languages []string
}

func newTesseractEngine(lang string) (Engine, error) {
	if lang == "" {
		lang = "eng"
	}
	return &TesseractEngine{Languages: []string{lang}}, nil
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Convert(ctx context.Context, input, sidecar string) error {
	if IsPDFInput(input) {
		return fmt.Errorf("%w: %s", ErrUnsupportedInput, filepath.Base(input))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c := gosseract.NewClient()
	defer c.Close()

	if len(e.Languages) > 0 {
		if err := c.SetLanguage(e.Languages...); err != nil {
			return fmt.Errorf("%w: set languages: %v", ErrOCRFailed, err)
		}
	}
	if err := c.SetImage(input); err != nil {
		return fmt.Errorf("%w: set image %s: %v", ErrOCRFailed, filepath.Base(input), err)
	}
	text, err := c.Text()
	if err != nil {
		return fmt.Errorf("%w: recognize %s: %v", ErrOCRFailed, filepath.Base(input), err)
	}
	return writeSidecar(sidecar, text)
}
