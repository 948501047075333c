// Package ingestion turns stored uploads into searchable chunks. The
// Pipeline runs one upload through download, parse, chunk, embed and
// persist while keeping the upload session's state machine current; the
// Service is the caller-facing side that accepts uploads, reports status
// and grants retries.
package ingestion

import (
	"time"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

// Task is the Kafka message that asks a worker to run the pipeline for one
// upload. Re-delivery is safe: the run lock and document reuse make a
// second run either a no-op or an idempotent redo.
type Task struct {
	UploadID     string    `json:"upload_id"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// ProgressEvent is what notifiers deliver after every state change.
type ProgressEvent struct {
	UploadID  string                 `json:"upload_id"`
	Status    document.SessionStatus `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
}

// ProcessingStatus is the caller's view of an upload.
type ProcessingStatus struct {
	UploadID     string                 `json:"upload_id"`
	Filename     string                 `json:"filename"`
	Status       document.SessionStatus `json:"status"`
	DocumentID   *int64                 `json:"document_id,omitempty"`
	FileSize     int64                  `json:"file_size"`
	UploadedSize int64                  `json:"uploaded_size"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	FailureClass apperrors.FailureClass `json:"failure_class"`
	Retryable    bool                   `json:"retryable"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func statusOf(s *document.UploadSession) *ProcessingStatus {
	return &ProcessingStatus{
		UploadID:     s.ID,
		Filename:     s.Filename,
		Status:       s.Status,
		DocumentID:   s.DocumentID,
		FileSize:     s.FileSize,
		UploadedSize: s.UploadedSize,
		ErrorMessage: s.ErrorMessage,
		FailureClass: s.FailureClass,
		Retryable:    s.CanRetry(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// UploadResponse is returned once the bytes are stored and the task is
// dispatched.
type UploadResponse struct {
	UploadID    string                 `json:"upload_id"`
	Filename    string                 `json:"filename"`
	ContentType string                 `json:"content_type"`
	FileSize    int64                  `json:"file_size"`
	Status      document.SessionStatus `json:"status"`
}

// ListResponse is one page of upload sessions.
type ListResponse struct {
	Uploads  []*ProcessingStatus `json:"uploads"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// RunResult summarizes a successful pipeline run.
type RunResult struct {
	UploadID   string        `json:"upload_id"`
	DocumentID int64         `json:"document_id"`
	Chunks     int           `json:"chunks_created"`
	TokenCount int           `json:"total_tokens"`
	Duration   time.Duration `json:"duration"`
}

// DocumentListResponse is one page of documents.
type DocumentListResponse struct {
	Documents []document.Document `json:"documents"`
	Total     int                 `json:"total"`
	Page      int                 `json:"page"`
	PageSize  int                 `json:"page_size"`
}

// DocumentInfo is a document with its chunk count and the upload that
// produced it.
type DocumentInfo struct {
	document.Document
	ChunkCount int    `json:"chunk_count"`
	UploadID   string `json:"upload_id,omitempty"`
}

type ChunkView struct {
	document.Chunk
	HasEmbedding bool `json:"has_embedding"`
}

// ChunkListResponse is one page of a document's chunks.
type ChunkListResponse struct {
	DocumentID int64       `json:"document_id"`
	Chunks     []ChunkView `json:"chunks"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
}
