// Package chunker splits parsed documents into ordered, embeddable chunks.
// Free text goes through a sentence-aware greedy accumulator; spreadsheets
// arrive from the parser already segmented by row groups and pass through.
package chunker

import (
	"github.com/devstudio-tyler/company-on/internal/document"
)

// Source is the parser output a strategy consumes.
type Source struct {
	DocumentID int64
	Text       string
	Segments   []document.Segment
}

// Draft is a chunk before it has an id or an embedding. Index is zero-based
// and contiguous within one Chunk call.
type Draft struct {
	Index         int
	Type          document.ChunkType
	Content       string
	TokenCount    int
	SentenceCount int
	Metadata      document.ChunkMetadata
}

// Chunk attaches draft d to a document.
func (d Draft) Chunk(documentID int64) document.Chunk {
	return document.Chunk{
		DocumentID: documentID,
		Index:      d.Index,
		Type:       d.Type,
		Content:    d.Content,
		TokenCount: d.TokenCount,
		Metadata:   d.Metadata,
	}
}

type Strategy interface {
	Chunk(src Source) ([]Draft, error)
}

// Set picks a strategy per media type.
type Set struct {
	Text Strategy
	Rows Strategy
}

func (s Set) ForMediaType(mediaType string) Strategy {
	if document.KindOf(mediaType) == document.KindSpreadsheet {
		return s.Rows
	}
	return s.Text
}
