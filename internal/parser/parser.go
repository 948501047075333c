// Package parser turns raw uploaded bytes into plain text plus typed
// metadata. Spreadsheets come back pre-chunked as segments; every other
// format yields one text body for the sentence chunker.
package parser

import (
	"context"
	"log/slog"
	"os"

	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/pkg/config"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

// Counter estimates the token count of a text body.
type Counter interface {
	Count(text string) int
}

type Options struct {
	MaxFileSize       int64
	OCRLanguages      []string
	MaxRowsPerSegment int
	MaxCellLength     int
}

func OptionsFromConfig(cfg config.ParserConfig) Options {
	return Options{
		MaxFileSize:       cfg.MaxFileSize,
		OCRLanguages:      cfg.OCRLanguages,
		MaxRowsPerSegment: cfg.MaxRowsPerSegment,
		MaxCellLength:     cfg.MaxCellLength,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 100 << 20
	}
	if len(o.OCRLanguages) == 0 {
		o.OCRLanguages = []string{"kor", "eng"}
	}
	if o.MaxRowsPerSegment <= 0 {
		o.MaxRowsPerSegment = 50
	}
	if o.MaxCellLength <= 0 {
		o.MaxCellLength = 1000
	}
	return o
}

// Result is the output of a successful parse. Segments is non-empty only
// for spreadsheets.
type Result struct {
	Text       string
	Metadata   document.Metadata
	TokenCount int
	PageCount  int
	Segments   []document.Segment
}

type Parser struct {
	opts    Options
	ocr     OCREngine
	counter Counter
	logger  *slog.Logger
}

// New builds a parser. A nil ocr disables image parsing; a nil counter
// leaves Result.TokenCount at zero.
func New(opts Options, ocr OCREngine, counter Counter) *Parser {
	return &Parser{
		opts:    opts.withDefaults(),
		ocr:     ocr,
		counter: counter,
		logger:  slog.Default().With("component", "parser"),
	}
}

// Validate checks size and type before any bytes are read.
func (p *Parser) Validate(size int64, mediaType string) error {
	if size <= 0 {
		return apperrors.UploadFailed(nil, "file is empty")
	}
	if size > p.opts.MaxFileSize {
		return apperrors.UploadFailed(nil, "file size %d exceeds limit %d", size, p.opts.MaxFileSize)
	}
	if document.KindOf(mediaType) == document.KindUnknown {
		return apperrors.UnsupportedFormat(mediaType)
	}
	return nil
}

// Parse extracts text and metadata from data.
func (p *Parser) Parse(ctx context.Context, data []byte, mediaType string) (*Result, error) {
	return p.ParseNamed(ctx, data, "", mediaType)
}

// ParseNamed is Parse with the original filename, which spreadsheet
// segments record in their metadata.
func (p *Parser) ParseNamed(ctx context.Context, data []byte, filename, mediaType string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Validate(int64(len(data)), mediaType); err != nil {
		return nil, err
	}

	var (
		res *Result
		err error
	)
	switch kind := document.KindOf(mediaType); kind {
	case document.KindPDF:
		res, err = p.parsePDF(ctx, data)
	case document.KindDocx:
		res, err = p.parseDocx(data)
	case document.KindText:
		res, err = p.parseText(data)
	case document.KindSpreadsheet:
		res, err = p.parseSpreadsheet(ctx, data, filename, mediaType)
	case document.KindImage:
		res, err = p.parseImage(ctx, data)
	default:
		return nil, apperrors.UnsupportedFormat(mediaType)
	}
	if err != nil {
		return nil, err
	}

	if p.counter != nil {
		res.TokenCount = p.counter.Count(res.Text)
	}
	p.logger.Debug("parsed document",
		"media_type", mediaType,
		"chars", len(res.Text),
		"pages", res.PageCount,
		"segments", len(res.Segments),
	)
	return res, nil
}

// ParseFile reads path and parses it. The size limit is enforced from
// the file's stat before reading.
func (p *Parser) ParseFile(ctx context.Context, path, filename, mediaType string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.UploadFailed(err, "stat %s", filename)
	}
	if err := p.Validate(info.Size(), mediaType); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.UploadFailed(err, "reading %s", filename)
	}
	return p.ParseNamed(ctx, data, filename, mediaType)
}

func emptyText(format string) error {
	return apperrors.ParseFailure(nil, "no text extracted from %s", format)
}
