package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/devstudio-tyler/company-on/internal/blob"
	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/ingestion/validator"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/logger"
)

// DocumentStore is the slice of the store the document API reads.
type DocumentStore interface {
	ListDocuments(ctx context.Context, status document.DocumentStatus, search string, limit, offset int) ([]document.Document, int, error)
	GetDocument(ctx context.Context, id int64) (*document.Document, error)
	Chunks(ctx context.Context, documentID int64) ([]document.Chunk, error)
	ChunkCount(ctx context.Context, documentID int64) (int, error)
	SessionForDocument(ctx context.Context, documentID int64) (*document.UploadSession, error)
	DeleteDocument(ctx context.Context, id int64) error
}

// uploadOps is what Documents delegates to for anything that moves an
// upload session. *Service satisfies it.
type uploadOps interface {
	RequestRetry(ctx context.Context, id string) (*ProcessingStatus, error)
	Delete(ctx context.Context, id string) error
}

// Documents serves processed documents: listing, detail, the original file
// and the stored chunks. Reprocessing and deletion go through the upload
// session that produced the document, so its state machine stays intact.
type Documents struct {
	store   DocumentStore
	blobs   blob.Store
	uploads uploadOps
	logger  *slog.Logger
}

func NewDocuments(st DocumentStore, blobs blob.Store, uploads uploadOps) *Documents {
	return &Documents{
		store:   st,
		blobs:   blobs,
		uploads: uploads,
		logger:  slog.Default().With("component", "document-service"),
	}
}

// List returns one page of documents, newest first. status and search are
// optional; search matches title or filename.
func (d *Documents) List(ctx context.Context, status, search string, page, pageSize int) (*DocumentListResponse, error) {
	known := []string{string(document.DocumentProcessing), string(document.DocumentCompleted), string(document.DocumentFailed)}
	if err := validator.ValidateStatusFilter(status, known); err != nil {
		return nil, err
	}
	page, pageSize = pageBounds(page, pageSize)

	docs, total, err := d.store.ListDocuments(ctx, document.DocumentStatus(status), search, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return &DocumentListResponse{Documents: docs, Total: total, Page: page, PageSize: pageSize}, nil
}

// Get returns a document with its chunk count and the upload that
// produced it, when that upload still exists.
func (d *Documents) Get(ctx context.Context, id int64) (*DocumentInfo, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := d.store.ChunkCount(ctx, id)
	if err != nil {
		return nil, err
	}
	info := &DocumentInfo{Document: *doc, ChunkCount: n}
	sess, err := d.linkedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		info.UploadID = sess.ID
	}
	return info, nil
}

// Open returns the original file. The caller closes the reader.
func (d *Documents) Open(ctx context.Context, id int64) (io.ReadCloser, *document.Document, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := d.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return rc, doc, nil
}

// Chunks returns one page of a document's chunks in index order. A
// non-nil index narrows the result to that chunk.
func (d *Documents) Chunks(ctx context.Context, id int64, index *int, page, pageSize int) (*ChunkListResponse, error) {
	if _, err := d.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	chunks, err := d.store.Chunks(ctx, id)
	if err != nil {
		return nil, err
	}
	if index != nil {
		var only []document.Chunk
		for _, c := range chunks {
			if c.Index == *index {
				only = append(only, c)
			}
		}
		chunks = only
	}

	page, pageSize = pageBounds(page, pageSize)
	total := len(chunks)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)

	out := &ChunkListResponse{DocumentID: id, Chunks: make([]ChunkView, 0, end-start), Total: total, Page: page, PageSize: pageSize}
	for _, c := range chunks[start:end] {
		out.Chunks = append(out.Chunks, ChunkView{Chunk: c, HasEmbedding: len(c.Embedding) > 0})
	}
	return out, nil
}

// Reprocess retries the upload behind a failed document. Only a retryable
// failure can be reprocessed.
func (d *Documents) Reprocess(ctx context.Context, id int64) (*ProcessingStatus, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := d.linkedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperrors.Newf(apperrors.ErrRetryNotAllowed, http.StatusConflict, "document %d has no upload to reprocess", id)
	}
	if doc.Status != document.DocumentFailed {
		return nil, apperrors.Newf(apperrors.ErrRetryNotAllowed, http.StatusConflict, "document %d is %s and cannot be reprocessed", id, doc.Status)
	}
	return d.uploads.RequestRetry(ctx, sess.ID)
}

// Delete removes a document with its chunks and stored file. When the
// upload that produced it still exists, the upload is deleted with it.
func (d *Documents) Delete(ctx context.Context, id int64) error {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	sess, err := d.linkedSession(ctx, id)
	if err != nil {
		return err
	}
	if sess != nil {
		return d.uploads.Delete(ctx, sess.ID)
	}
	if doc.Status == document.DocumentProcessing {
		return apperrors.Newf(apperrors.ErrStatusConflict, http.StatusConflict, "document %d is processing and cannot be deleted", id)
	}
	if err := d.blobs.Delete(ctx, doc.StoragePath); err != nil {
		return err
	}
	if err := d.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("document deleted", "document_id", id)
	return nil
}

// linkedSession returns nil without error when no upload references id.
func (d *Documents) linkedSession(ctx context.Context, id int64) (*document.UploadSession, error) {
	sess, err := d.store.SessionForDocument(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}
