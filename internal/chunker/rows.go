package chunker

import (
	"unicode/utf8"

	"github.com/devstudio-tyler/company-on/internal/document"
)

// PassthroughRowChunker emits spreadsheet segments unchanged, one draft
// per segment, tagged excel_sheet.
type PassthroughRowChunker struct {
	counter Counter
}

func NewPassthroughRowChunker(counter Counter) *PassthroughRowChunker {
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &PassthroughRowChunker{counter: counter}
}

func (c *PassthroughRowChunker) Chunk(src Source) ([]Draft, error) {
	drafts := make([]Draft, 0, len(src.Segments))
	for _, seg := range src.Segments {
		tokens := c.counter.Count(seg.Content)
		meta := seg.Metadata
		meta.ChunkSize = tokens
		meta.CharCount = utf8.RuneCountInString(seg.Content)
		drafts = append(drafts, Draft{
			Index:      len(drafts),
			Type:       document.ChunkExcelSheet,
			Content:    seg.Content,
			TokenCount: tokens,
			Metadata:   meta,
		})
	}
	return drafts, nil
}
