// Package document holds the persisted model shared by the ingestion
// pipeline, the stores and the retrieval engine: documents, chunks, upload
// sessions and their lifecycle states.
package document

import (
	"time"

	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is one logical unit of knowledge. It owns its chunks.
type Document struct {
	ID           int64                  `json:"id"`
	Title        string                 `json:"title"`
	Filename     string                 `json:"filename"`
	StoragePath  string                 `json:"storage_path"`
	FileSize     int64                  `json:"file_size"`
	ContentType  string                 `json:"content_type"`
	Status       DocumentStatus         `json:"status"`
	FailureClass apperrors.FailureClass `json:"failure_class"`
	Metadata     Metadata               `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type ChunkType string

const (
	ChunkText       ChunkType = "text"
	ChunkExcelSheet ChunkType = "excel_sheet"
)

// Chunk is an indexed fragment of a document's text. Index is zero-based
// and contiguous per document.
type Chunk struct {
	ID         int64         `json:"id"`
	DocumentID int64         `json:"document_id"`
	Index      int           `json:"chunk_index"`
	Type       ChunkType     `json:"chunk_type"`
	Content    string        `json:"content"`
	TokenCount int           `json:"token_count"`
	Embedding  []float32     `json:"-"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkMetadata describes where a chunk came from. Sentence fields are set
// for text chunks, sheet fields for spreadsheet segments.
type ChunkMetadata struct {
	ChunkSize         int     `json:"chunk_size"`
	SentenceCount     int     `json:"sentence_count,omitempty"`
	AvgSentenceLength float64 `json:"avg_sentence_length,omitempty"`
	FirstSentence     string  `json:"first_sentence,omitempty"`
	LastSentence      string  `json:"last_sentence,omitempty"`
	CharCount         int     `json:"char_count"`

	SheetName    string `json:"sheet_name,omitempty"`
	Filename     string `json:"filename,omitempty"`
	RowRange     string `json:"row_range,omitempty"`
	TotalColumns int    `json:"total_columns,omitempty"`
	RowsInChunk  int    `json:"rows_in_chunk,omitempty"`
	SegmentIndex int    `json:"segment_index,omitempty"`
}

// Segment is a parser-built chunk for formats that arrive pre-chunked
// (spreadsheets). The chunker passes segments through verbatim.
type Segment struct {
	Content  string
	Type     ChunkType
	Metadata ChunkMetadata
}

type SessionStatus string

const (
	SessionInit       SessionStatus = "init"
	SessionUploading  SessionStatus = "uploading"
	SessionPending    SessionStatus = "pending"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// UploadSession tracks one upload-to-completion attempt.
type UploadSession struct {
	ID           string                 `json:"upload_id"`
	Filename     string                 `json:"filename"`
	FileSize     int64                  `json:"file_size"`
	UploadedSize int64                  `json:"uploaded_size"`
	ContentType  string                 `json:"content_type"`
	Status       SessionStatus          `json:"status"`
	DocumentID   *int64                 `json:"document_id,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	FailureClass apperrors.FailureClass `json:"failure_class"`
	Retryable    bool                   `json:"retryable"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// StoragePath is the deterministic blob path for an upload.
func StoragePath(uploadID, filename string) string {
	return "uploads/" + uploadID + "/" + filename
}

func (s *UploadSession) StoragePath() string {
	return StoragePath(s.ID, s.Filename)
}

// Terminal reports whether no further transition happens without an
// explicit retry.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionInit:       {SessionUploading, SessionFailed},
	SessionUploading:  {SessionPending, SessionFailed},
	SessionPending:    {SessionProcessing, SessionFailed},
	SessionProcessing: {SessionCompleted, SessionFailed},
	SessionFailed:     {SessionPending},
}

// CanTransition reports whether the session state machine allows from → to.
// failed → pending additionally requires a retryable failure; see CanRetry.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRetry reports whether a caller may move the session back to pending.
func (s *UploadSession) CanRetry() bool {
	return s.Status == SessionFailed && s.Retryable
}

// CanTransitionDocument enforces processing → completed|failed only.
// Reopening for a retry is the one way back; see CanReopen.
func CanTransitionDocument(from, to DocumentStatus) bool {
	return from == DocumentProcessing && (to == DocumentCompleted || to == DocumentFailed)
}

// CanReopen reports whether a retry may reuse a document in status from.
// A document left failed or stuck in processing by an earlier attempt is
// reopened; a completed one is never touched again.
func CanReopen(from DocumentStatus) bool {
	return from == DocumentFailed || from == DocumentProcessing
}
