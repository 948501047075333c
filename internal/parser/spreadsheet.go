package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

const csvSheetName = "CSV"

type sheet struct {
	name string
	rows [][]string
}

type sheetRow struct {
	num   int
	cells []string
}

func (p *Parser) parseSpreadsheet(ctx context.Context, data []byte, filename, mediaType string) (*Result, error) {
	var (
		sheets []sheet
		meta   document.SpreadsheetMetadata
	)
	if mediaType == document.MediaCSV {
		text, enc, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		records, err := readCSV(text)
		if err != nil {
			return nil, apperrors.ParseFailure(err, "reading csv")
		}
		sheets = append(sheets, sheet{csvSheetName, records})
		meta = document.SpreadsheetMetadata{Format: "csv", Encoding: enc}
	} else {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, apperrors.ParseFailure(err, "opening workbook")
		}
		defer f.Close()
		for _, name := range f.GetSheetList() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := f.GetRows(name)
			if err != nil {
				return nil, apperrors.ParseFailure(err, "reading sheet %q", name)
			}
			sheets = append(sheets, sheet{name, rows})
		}
		meta = document.SpreadsheetMetadata{Format: "xlsx"}
	}

	var segments []document.Segment
	for _, s := range sheets {
		meta.SheetNames = append(meta.SheetNames, s.name)
		segs, dataRows, cols := p.sheetSegments(s.name, filename, s.rows)
		segments = append(segments, segs...)
		meta.TotalRows += dataRows
		meta.TotalColumns = max(meta.TotalColumns, cols)
	}
	meta.Segments = len(segments)

	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.Content
	}
	return &Result{
		Text:      strings.Join(parts, "\n\n"),
		Metadata:  meta,
		PageCount: len(meta.SheetNames),
		Segments:  segments,
	}, nil
}

func readCSV(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// sheetSegments groups the data rows of one sheet into segments of at most
// MaxRowsPerSegment rows. rows[0] is the header; row numbers are 1-based
// positions in the sheet, so the first data row is 2.
func (p *Parser) sheetSegments(sheetName, filename string, rows [][]string) ([]document.Segment, int, int) {
	if len(rows) <= 1 {
		return nil, 0, 0
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	headers := make([]string, width)
	for col := range headers {
		var h string
		if col < len(rows[0]) {
			h = strings.TrimSpace(rows[0][col])
		}
		if h == "" {
			h = fmt.Sprintf("Column_%d", col+1)
		}
		headers[col] = h
	}

	var (
		segments []document.Segment
		pending  []sheetRow
		total    int
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		segments = append(segments, document.Segment{
			Content: renderRows(sheetName, headers, pending),
			Type:    document.ChunkExcelSheet,
			Metadata: document.ChunkMetadata{
				SheetName:    sheetName,
				Filename:     filename,
				SegmentIndex: len(segments),
				RowRange:     fmt.Sprintf("%d-%d", pending[0].num, pending[len(pending)-1].num),
				TotalColumns: width,
				RowsInChunk:  len(pending),
			},
		})
		pending = nil
	}

	for i := 1; i < len(rows); i++ {
		cells := make([]string, width)
		hasData := false
		for col, v := range rows[i] {
			v = truncateCell(strings.TrimSpace(v), p.opts.MaxCellLength)
			cells[col] = v
			if v != "" {
				hasData = true
			}
		}
		if !hasData {
			continue
		}
		pending = append(pending, sheetRow{num: i + 1, cells: cells})
		total++
		if len(pending) >= p.opts.MaxRowsPerSegment {
			flush()
		}
	}
	flush()
	return segments, total, width
}

func renderRows(sheetName string, headers []string, rows []sheetRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s 데이터 ===\n", sheetName)
	fmt.Fprintf(&b, "컬럼: %s\n", strings.Join(headers, ", "))
	for _, row := range rows {
		pairs := make([]string, 0, len(row.cells))
		for col, v := range row.cells {
			if v != "" {
				pairs = append(pairs, headers[col]+"="+v)
			}
		}
		fmt.Fprintf(&b, "\n행 %d: %s", row.num, strings.Join(pairs, " | "))
	}
	return b.String()
}

func truncateCell(v string, limit int) string {
	if utf8.RuneCountInString(v) <= limit {
		return v
	}
	return string([]rune(v)[:limit]) + "..."
}
