//go:build ocr

package parser

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine runs OCR through libtesseract. A gosseract client is not
// safe for concurrent use, so each call gets its own.
type TesseractEngine struct{}

// NewOCREngine returns the tesseract-backed engine. Build with -tags ocr.
func NewOCREngine() (OCREngine, error) {
	return TesseractEngine{}, nil
}

func (TesseractEngine) Recognize(ctx context.Context, img []byte, languages []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(languages...); err != nil {
		return "", fmt.Errorf("setting ocr languages %v: %w", languages, err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("loading image: %w", err)
	}
	return client.Text()
}
