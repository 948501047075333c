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
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UploadStore is the slice of the store the upload API drives.
type UploadStore interface {
	CreateSession(ctx context.Context, sess *document.UploadSession) error
	GetSession(ctx context.Context, id string) (*document.UploadSession, error)
	ListSessions(ctx context.Context, status document.SessionStatus, limit, offset int) ([]document.UploadSession, int, error)
	TransitionSession(ctx context.Context, id string, from, to document.SessionStatus, message string) error
	SetUploadedSize(ctx context.Context, id string, size int64) error
	FailSession(ctx context.Context, id, message string, class apperrors.FailureClass) error
	RetrySession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	DeleteDocument(ctx context.Context, id int64) error
}

// FileValidator rejects files the parser cannot take. *parser.Parser
// satisfies it.
type FileValidator interface {
	Validate(size int64, mediaType string) error
}

// Service accepts uploads, stores their bytes and hands them to the
// pipeline through a Dispatcher.
type Service struct {
	store      UploadStore
	blobs      blob.Store
	files      FileValidator
	dispatcher Dispatcher
	notifier   Notifier
	maxSize    int64
	logger     *slog.Logger
}

// NewService wires the upload API. A nil notifier logs progress only.
func NewService(st UploadStore, blobs blob.Store, files FileValidator, dispatcher Dispatcher, notifier Notifier, maxSize int64) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{
		store:      st,
		blobs:      blobs,
		files:      files,
		dispatcher: dispatcher,
		notifier:   notifier,
		maxSize:    maxSize,
		logger:     slog.Default().With("component", "upload-service"),
	}
}

// Upload stores body under a new session and dispatches it for processing.
// Requests that fail validation never create a session. Once a session
// exists, every failure is recorded on it.
func (s *Service) Upload(ctx context.Context, filename, contentType string, size int64, body io.Reader) (*UploadResponse, error) {
	if err := validator.ValidateUpload(filename, size, s.maxSize); err != nil {
		return nil, err
	}
	mediaType := document.DetectMediaType(filename, contentType)
	if err := s.files.Validate(size, mediaType); err != nil {
		return nil, err
	}

	sess := &document.UploadSession{
		ID:          uuid.NewString(),
		Filename:    filename,
		FileSize:    size,
		ContentType: mediaType,
		Status:      document.SessionInit,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	ctx = logger.WithUploadID(ctx, sess.ID)
	log := logger.FromContext(ctx)

	if err := s.store.TransitionSession(ctx, sess.ID, document.SessionInit, document.SessionUploading, ""); err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, sess.ID, document.SessionUploading, "upload started")

	counted := &countingReader{r: body}
	if err := s.blobs.Put(ctx, sess.StoragePath(), counted, size, mediaType); err != nil {
		return nil, s.abort(ctx, sess.ID, apperrors.UploadFailed(err, "storing %s", filename))
	}
	if counted.n != size {
		return nil, s.abort(ctx, sess.ID, apperrors.UploadFailed(nil, "received %d of %d bytes", counted.n, size))
	}
	if err := s.store.SetUploadedSize(ctx, sess.ID, counted.n); err != nil {
		return nil, s.abort(ctx, sess.ID, err)
	}
	if err := s.store.TransitionSession(ctx, sess.ID, document.SessionUploading, document.SessionPending, ""); err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, sess.ID, document.SessionPending, "upload completed")

	if err := s.dispatcher.Dispatch(ctx, sess.ID); err != nil {
		return nil, s.abort(ctx, sess.ID, apperrors.ProcessingFailed(err, "dispatching upload"))
	}
	log.Info("upload accepted", "filename", filename, "content_type", mediaType, "file_size", size)

	return &UploadResponse{
		UploadID:    sess.ID,
		Filename:    filename,
		ContentType: mediaType,
		FileSize:    size,
		Status:      document.SessionPending,
	}, nil
}

// abort fails the session with cause's class and returns cause.
func (s *Service) abort(ctx context.Context, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	class := apperrors.Classify(cause)
	if err := s.store.FailSession(ctx, id, cause.Error(), class); err != nil {
		logger.FromContext(ctx).Warn("marking upload failed", "error", err)
	}
	s.notifier.Notify(ctx, id, document.SessionFailed, cause.Error())
	logger.FromContext(ctx).Error("upload aborted", "failure_class", class, "error", cause)
	return cause
}

func (s *Service) GetProcessingStatus(ctx context.Context, id string) (*ProcessingStatus, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusOf(sess), nil
}

// RequestRetry moves a retryable failed upload back to pending and
// dispatches it again. Upload failures are not retryable.
func (s *Service) RequestRetry(ctx context.Context, id string) (*ProcessingStatus, error) {
	ctx = logger.WithUploadID(ctx, id)
	if err := s.store.RetrySession(ctx, id); err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, id, document.SessionPending, "retry requested")
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		return nil, s.abort(ctx, id, apperrors.ProcessingFailed(err, "dispatching retry"))
	}
	logger.FromContext(ctx).Info("retry dispatched")
	return s.GetProcessingStatus(ctx, id)
}

// List returns one page of sessions, newest first. page is one-based.
func (s *Service) List(ctx context.Context, status string, page, pageSize int) (*ListResponse, error) {
	known := []string{
		string(document.SessionInit), string(document.SessionUploading), string(document.SessionPending),
		string(document.SessionProcessing), string(document.SessionCompleted), string(document.SessionFailed),
	}
	if err := validator.ValidateStatusFilter(status, known); err != nil {
		return nil, err
	}
	page, pageSize = pageBounds(page, pageSize)

	sessions, total, err := s.store.ListSessions(ctx, document.SessionStatus(status), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	out := &ListResponse{Uploads: make([]*ProcessingStatus, len(sessions)), Total: total, Page: page, PageSize: pageSize}
	for i := range sessions {
		out.Uploads[i] = statusOf(&sessions[i])
	}
	return out, nil
}

// Delete removes an upload with its stored file and document. An upload in
// flight cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx = logger.WithUploadID(ctx, id)
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status == document.SessionProcessing || sess.Status == document.SessionUploading {
		return apperrors.Newf(apperrors.ErrStatusConflict, http.StatusConflict, "upload %s is %s and cannot be deleted", id, sess.Status)
	}
	if err := s.blobs.Delete(ctx, sess.StoragePath()); err != nil {
		return err
	}
	if sess.DocumentID != nil {
		if err := s.store.DeleteDocument(ctx, *sess.DocumentID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("upload deleted", "document_id", sess.DocumentID)
	return nil
}

// pageBounds clamps a one-based page and its size to the allowed range.
func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
