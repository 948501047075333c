package parser

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

const (
	extractorNative  = "ledongthuc/pdf"
	extractorPoppler = "docconv/pdftotext"
)

// parsePDF tries the pure-Go reader first and falls back to docconv, which
// shells out to poppler. Parsing fails only when both produce nothing.
func (p *Parser) parsePDF(ctx context.Context, data []byte) (*Result, error) {
	text, meta, err := readPDFNative(ctx, data)
	if err == nil && strings.TrimSpace(text) != "" {
		return &Result{Text: text, Metadata: meta, PageCount: meta.PageCount}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	p.logger.Warn("native pdf extraction failed, falling back to docconv", "error", err)

	text, meta, fbErr := readPDFPoppler(data)
	if fbErr != nil {
		return nil, apperrors.ParseFailure(fbErr, "pdf extraction failed (native: %v)", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, emptyText("pdf")
	}
	return &Result{Text: text, Metadata: meta, PageCount: meta.PageCount}, nil
}

func readPDFNative(ctx context.Context, data []byte) (text string, meta document.PDFMetadata, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", meta, fmt.Errorf("opening pdf: %w", err)
	}

	pages := r.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", meta, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", meta, fmt.Errorf("extracting page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		parts = append(parts, pageBlock(i, pageText))
	}

	info := r.Trailer().Key("Info")
	meta = document.PDFMetadata{
		PageCount:        pages,
		Title:            info.Key("Title").Text(),
		Author:           info.Key("Author").Text(),
		Subject:          info.Key("Subject").Text(),
		Creator:          info.Key("Creator").Text(),
		Producer:         info.Key("Producer").Text(),
		CreationDate:     info.Key("CreationDate").Text(),
		ModificationDate: info.Key("ModDate").Text(),
		Extractor:        extractorNative,
	}
	return strings.Join(parts, "\n\n"), meta, nil
}

// readPDFPoppler uses pdftotext through docconv. Pages are labelled when
// the output keeps form feeds between them.
func readPDFPoppler(data []byte) (string, document.PDFMetadata, error) {
	body, info, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return "", document.PDFMetadata{}, err
	}

	pageCount := 0
	if n, err := strconv.Atoi(strings.TrimSpace(info["Pages"])); err == nil && n > 0 {
		pageCount = n
	}

	// Without page breaks there is nothing to label.
	if !strings.Contains(body, "\f") {
		return strings.TrimSpace(body), pdfInfo(info, max(pageCount, 1)), nil
	}
	pages := strings.Split(strings.TrimRight(body, "\f"), "\f")
	parts := make([]string, 0, len(pages))
	for i, pageText := range pages {
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		parts = append(parts, pageBlock(i+1, pageText))
	}
	return strings.Join(parts, "\n\n"), pdfInfo(info, max(pageCount, len(pages))), nil
}

func pdfInfo(info map[string]string, pageCount int) document.PDFMetadata {
	return document.PDFMetadata{
		PageCount:        pageCount,
		Title:            info["Title"],
		Author:           info["Author"],
		Subject:          info["Subject"],
		Creator:          info["Creator"],
		Producer:         info["Producer"],
		CreationDate:     info["CreationDate"],
		ModificationDate: info["ModDate"],
		Extractor:        extractorPoppler,
	}
}

func pageBlock(n int, text string) string {
	return fmt.Sprintf("[페이지 %d]\n%s", n, text)
}
