package parser

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

// OCREngine recognises text in an encoded PNG or JPEG image.
type OCREngine interface {
	Recognize(ctx context.Context, img []byte, languages []string) (string, error)
}

func (p *Parser) parseImage(ctx context.Context, data []byte) (*Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.ParseFailure(err, "decoding image header")
	}
	if p.ocr == nil {
		return nil, apperrors.New(apperrors.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "image OCR is not available")
	}

	text, err := p.ocr.Recognize(ctx, data, p.opts.OCRLanguages)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.ParseFailure(err, "ocr")
	}

	meta := document.ImageMetadata{
		Width:        cfg.Width,
		Height:       cfg.Height,
		Mode:         colorMode(cfg.ColorModel),
		OCRLanguages: p.opts.OCRLanguages,
	}
	p.logger.Info("ocr finished",
		"chars", len(strings.TrimSpace(text)),
		"width", cfg.Width,
		"height", cfg.Height,
		"mode", meta.Mode,
	)
	return &Result{Text: text, Metadata: meta, PageCount: 1}, nil
}

// colorMode names the colour model the way imaging tools usually do.
func colorMode(m color.Model) string {
	switch m {
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.YCbCrModel:
		return "YCbCr"
	case color.CMYKModel:
		return "CMYK"
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "RGBA"
	}
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	return "RGB"
}
