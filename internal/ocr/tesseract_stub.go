//go:build !tesseract

package ocr

import "fmt"

func newTesseractEngine(string) (Engine, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags tesseract", ErrEngineUnavailable)
}
