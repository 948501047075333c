//go:build !ocr

package parser

import "errors"

// NewOCREngine reports that the binary was built without OCR support.
// Images are then rejected as an unsupported format.
func NewOCREngine() (OCREngine, error) {
	return nil, errors.New("built without the ocr tag")
}
