package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/ingestion/validator"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/logger"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

type UploadService interface {
	Upload(ctx context.Context, filename, contentType string, size int64, body io.Reader) (*ingestion.UploadResponse, error)
	GetProcessingStatus(ctx context.Context, id string) (*ingestion.ProcessingStatus, error)
	RequestRetry(ctx context.Context, id string) (*ingestion.ProcessingStatus, error)
	List(ctx context.Context, status string, page, pageSize int) (*ingestion.ListResponse, error)
	Delete(ctx context.Context, id string) error
}

// DocumentService serves processed documents. *ingestion.Documents
// satisfies it.
type DocumentService interface {
	List(ctx context.Context, status, search string, page, pageSize int) (*ingestion.DocumentListResponse, error)
	Get(ctx context.Context, id int64) (*ingestion.DocumentInfo, error)
	Open(ctx context.Context, id int64) (io.ReadCloser, *document.Document, error)
	Chunks(ctx context.Context, id int64, index *int, page, pageSize int) (*ingestion.ChunkListResponse, error)
	Reprocess(ctx context.Context, id int64) (*ingestion.ProcessingStatus, error)
	Delete(ctx context.Context, id int64) error
}

// ProgressFeed delivers live progress for one upload. ingestion.RedisFeed
// satisfies it.
type ProgressFeed interface {
	Subscribe(ctx context.Context, uploadID string) (<-chan ingestion.ProgressEvent, func(), error)
}

type Handler struct {
	service     UploadService
	documents   DocumentService
	progress    ProgressFeed
	maxBodySize int64
	stream      streamTiming
	closing     chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger
}

type Option func(*Handler)

// WithDocuments registers the document routes.
func WithDocuments(ds DocumentService) Option {
	return func(h *Handler) { h.documents = ds }
}

// WithProgress makes the progress stream push events as they are
// published. Without a feed the stream polls the upload status.
func WithProgress(feed ProgressFeed) Option {
	return func(h *Handler) { h.progress = feed }
}

// New builds the handler. maxFileSize bounds the request body, with some
// room for the multipart envelope.
func New(service UploadService, maxFileSize int64, opts ...Option) *Handler {
	h := &Handler{
		service:     service,
		maxBodySize: maxFileSize + 1<<20,
		stream:      defaultStreamTiming,
		closing:     make(chan struct{}),
		logger:      slog.Default().With("component", "upload-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/uploads", h.Upload)
	mux.HandleFunc("GET /api/v1/uploads", h.List)
	mux.HandleFunc("GET /api/v1/uploads/{id}/status", h.Status)
	mux.HandleFunc("GET /api/v1/uploads/{id}/stream", h.Stream)
	mux.HandleFunc("POST /api/v1/uploads/{id}/retry", h.Retry)
	mux.HandleFunc("DELETE /api/v1/uploads/{id}", h.Delete)

	if h.documents != nil {
		mux.HandleFunc("GET /api/v1/documents", h.ListDocuments)
		mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
		mux.HandleFunc("GET /api/v1/documents/{id}/download", h.DownloadDocument)
		mux.HandleFunc("GET /api/v1/documents/{id}/chunks", h.DocumentChunks)
		mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", h.ReprocessDocument)
		mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)
	}
}

// Upload serves a multipart form with the file in the "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": map[string]string{"file": "file is required"},
		})
		return
	}
	defer file.Close()

	resp, err := h.service.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		h.fail(w, r, "upload failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetProcessingStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "status lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.RequestRetry(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "retry failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, st)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	pageSize, err := optionalInt(q.Get("page_size"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}
	resp, err := h.service.List(r.Context(), q.Get("status"), page, pageSize)
	if err != nil {
		h.fail(w, r, "listing uploads failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, "delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// fail maps err to a response. Validation errors list their fields; known
// application errors expose their message; anything else is logged and
// reported generically.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}

	statusCode := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && statusCode < http.StatusInternalServerError {
		log.Warn(action, "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, appErr.Message)
		return
	}
	log.Error(action, "error", err, "status_code", statusCode)
	h.writeError(w, statusCode, action)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
