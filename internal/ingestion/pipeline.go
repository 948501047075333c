package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/devstudio-tyler/company-on/internal/blob"
	"github.com/devstudio-tyler/company-on/internal/chunker"
	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/parser"
	"github.com/devstudio-tyler/company-on/pkg/config"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	"github.com/devstudio-tyler/company-on/pkg/resilience"
	"github.com/devstudio-tyler/company-on/pkg/tracing"
)

// PipelineStore is the slice of the store the pipeline drives.
type PipelineStore interface {
	GetSession(ctx context.Context, id string) (*document.UploadSession, error)
	ClaimSession(ctx context.Context, id string, staleBefore time.Time) (*document.UploadSession, error)
	UpdateSessionMessage(ctx context.Context, id, message string) error
	LinkDocument(ctx context.Context, id string, documentID int64) error
	FailSession(ctx context.Context, id, message string, class apperrors.FailureClass) error
	ReleaseSession(ctx context.Context, id string) error
	CompleteSession(ctx context.Context, id string, documentID int64) error

	CreateDocument(ctx context.Context, d *document.Document) error
	GetDocument(ctx context.Context, id int64) (*document.Document, error)
	ReopenDocument(ctx context.Context, id int64) error
	CompleteDocument(ctx context.Context, id int64, meta document.Metadata) error
	FailDocument(ctx context.Context, id int64, class apperrors.FailureClass) error
	ReplaceChunks(ctx context.Context, documentID int64, chunks []document.Chunk) error
}

type Parser interface {
	ParseFile(ctx context.Context, path, filename, mediaType string) (*parser.Result, error)
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PipelineConfig bounds one run.
type PipelineConfig struct {
	Timeout       time.Duration
	StaleAfter    time.Duration
	TempDir       string
	EmbedAttempts int
	EmbedBackoff  time.Duration
}

func PipelineConfigFrom(cfg config.IngestionConfig) PipelineConfig {
	return PipelineConfig{
		Timeout:       cfg.PipelineTimeout,
		StaleAfter:    cfg.StaleAfter,
		TempDir:       cfg.TempDir,
		EmbedAttempts: cfg.EmbedAttempts,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.EmbedAttempts <= 0 {
		c.EmbedAttempts = 3
	}
	if c.EmbedBackoff <= 0 {
		c.EmbedBackoff = time.Second
	}
	return c
}

// Progress messages written to the session while it is processing.
const (
	msgStarted    = "processing started"
	msgDownloaded = "file downloaded"
	msgParsed     = "text extracted"
	msgDocument   = "document record created"
	msgEmbedded   = "embeddings generated and stored"
	msgCompleted  = "processing completed"
)

func msgChunked(n int) string { return fmt.Sprintf("text chunked (%d chunks)", n) }

// Pipeline runs uploads through download, parse, chunk, embed and persist.
// Each upload is processed by at most one run at a time; the store's claim
// is the lock.
type Pipeline struct {
	store    PipelineStore
	blobs    blob.Store
	parser   Parser
	chunkers chunker.Set
	embedder BatchEmbedder
	notifier Notifier
	cfg      PipelineConfig
	metrics  *metrics.Metrics
	onDone   func(ctx context.Context, documentID int64)
	now      func() time.Time
	logger   *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCompletionHook registers fn to run after a document completes, for
// example to invalidate cached search results.
func WithCompletionHook(fn func(ctx context.Context, documentID int64)) PipelineOption {
	return func(p *Pipeline) { p.onDone = fn }
}

func NewPipeline(st PipelineStore, blobs blob.Store, pr Parser, chunkers chunker.Set, emb BatchEmbedder, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:    st,
		blobs:    blobs,
		parser:   pr,
		chunkers: chunkers,
		embedder: emb,
		notifier: LogNotifier{},
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the state of one execution between stages.
type run struct {
	session  *document.UploadSession
	path     string
	parsed   *parser.Result
	doc      *document.Document
	drafts   []chunker.Draft
	vectors  [][]float32
	finished bool
}

// Run processes one upload end to end. A run that cannot claim the session
// returns the claim error without touching it (ErrPipelineBusy when
// another run holds it). A run interrupted by ctx hands the session back
// as pending so a redelivered task can pick it up. Any other failure is
// classified, recorded on the session and on its document if one exists,
// and returned.
func (p *Pipeline) Run(ctx context.Context, uploadID string) (*RunResult, error) {
	ctx = logger.WithUploadID(ctx, uploadID)
	ctx, span := tracing.StartSpan(ctx, "pipeline.run", uploadID)
	log := logger.FromContext(ctx)
	start := p.now()

	sess, err := p.store.ClaimSession(ctx, uploadID, p.now().Add(-p.cfg.StaleAfter))
	if err != nil {
		span.End(err)
		return nil, err
	}
	r := &run{session: sess}
	log.Info("pipeline started", "filename", sess.Filename, "file_size", sess.FileSize)
	p.notify(ctx, sess.ID, document.SessionProcessing, msgStarted)

	err = resilience.WithTimeout(ctx, p.cfg.Timeout, "pipeline", func(ctx context.Context) error {
		return p.execute(ctx, r)
	})
	if r.path != "" {
		if rmErr := os.Remove(r.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("removing temp file failed", "path", r.path, "error", rmErr)
		}
	}
	span.End(err)
	span.Log(log)

	if err != nil && ctx.Err() != nil {
		p.release(ctx, r)
		p.metrics.ObservePipelineRun("interrupted", string(apperrors.ClassNone))
		log.Warn("pipeline interrupted, upload released", "error", err)
		return nil, err
	}
	if err != nil {
		class := p.fail(ctx, r, err)
		p.metrics.ObservePipelineRun("failed", string(class))
		log.Error("pipeline failed", "failure_class", class, "error", err)
		return nil, err
	}

	p.metrics.ObservePipelineRun("completed", string(apperrors.ClassNone))
	res := &RunResult{
		UploadID:   sess.ID,
		DocumentID: r.doc.ID,
		Chunks:     len(r.drafts),
		Duration:   p.now().Sub(start),
	}
	if r.parsed != nil {
		res.TokenCount = r.parsed.TokenCount
	}
	log.Info("pipeline completed", "document_id", res.DocumentID, "chunks", res.Chunks, "duration", res.Duration)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	steps := []struct {
		name string
		fn   func(context.Context, *run) (string, error)
	}{
		{"download", p.download},
		{"parse", p.parse},
		{"document", p.resolveDocument},
		{"chunk", p.chunk},
		{"embed", p.embed},
		{"persist", p.persist},
	}
	for _, step := range steps {
		if r.finished {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.stage(ctx, r, step.name, step.fn); err != nil {
			return err
		}
	}
	return nil
}

// stage runs one step under a child span, records its duration and, on
// success, reports the step's progress message.
func (p *Pipeline) stage(ctx context.Context, r *run, name string, fn func(context.Context, *run) (string, error)) error {
	sctx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	message, err := fn(sctx, r)
	span.End(err)
	p.metrics.ObserveStage(name, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if message == "" {
		return nil
	}
	return p.progress(ctx, r, message)
}

// progress stores message on the session and notifies. Losing the session
// (someone else failed or completed it) aborts the run.
func (p *Pipeline) progress(ctx context.Context, r *run, message string) error {
	if err := p.store.UpdateSessionMessage(ctx, r.session.ID, message); err != nil {
		if errors.Is(err, apperrors.ErrStatusConflict) || errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		logger.FromContext(ctx).Warn("recording progress failed", "message", message, "error", err)
	}
	p.notify(ctx, r.session.ID, document.SessionProcessing, message)
	return nil
}

func (p *Pipeline) download(ctx context.Context, r *run) (string, error) {
	rc, err := p.blobs.Get(ctx, r.session.StoragePath())
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.cfg.TempDir, "upload-*")
	if err != nil {
		return "", apperrors.ProcessingFailed(err, "creating temp file")
	}
	r.path = f.Name()
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("downloading %s: %w", r.session.StoragePath(), ctxErr)
		}
		return "", apperrors.UploadFailed(err, "downloading %s", r.session.StoragePath())
	}
	if err := f.Close(); err != nil {
		return "", apperrors.ProcessingFailed(err, "writing temp file")
	}
	return msgDownloaded, nil
}

func (p *Pipeline) parse(ctx context.Context, r *run) (string, error) {
	mediaType := document.DetectMediaType(r.session.Filename, r.session.ContentType)
	res, err := p.parser.ParseFile(ctx, r.path, r.session.Filename, mediaType)
	if err != nil {
		return "", err
	}
	r.parsed = res
	return msgParsed, nil
}

// resolveDocument reuses the document linked to the session or creates and
// links a new one. A linked document that already completed means an
// earlier run died after finishing it; the session is completed and the
// remaining steps are skipped.
func (p *Pipeline) resolveDocument(ctx context.Context, r *run) (string, error) {
	if id := r.session.DocumentID; id != nil {
		doc, err := p.store.GetDocument(ctx, *id)
		if err != nil {
			return "", err
		}
		r.doc = doc
		if doc.Status == document.DocumentCompleted {
			return "", p.complete(ctx, r)
		}
		if !document.CanReopen(doc.Status) {
			return "", apperrors.Newf(apperrors.ErrStatusConflict, http.StatusConflict,
				"document %d is %s and cannot be reused", doc.ID, doc.Status)
		}
		if err := p.store.ReopenDocument(ctx, doc.ID); err != nil {
			return "", err
		}
		doc.Status = document.DocumentProcessing
		logger.FromContext(ctx).Info("reusing document", "document_id", doc.ID)
		return msgDocument, nil
	}

	doc := &document.Document{
		Title:       documentTitle(r.session.Filename, r.parsed.Metadata),
		Filename:    r.session.Filename,
		StoragePath: r.session.StoragePath(),
		FileSize:    r.session.FileSize,
		ContentType: document.DetectMediaType(r.session.Filename, r.session.ContentType),
		Metadata:    r.parsed.Metadata,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return "", err
	}
	r.doc = doc
	if err := p.store.LinkDocument(ctx, r.session.ID, doc.ID); err != nil {
		return "", err
	}
	return msgDocument, nil
}

func documentTitle(filename string, meta document.Metadata) string {
	switch m := meta.(type) {
	case document.PDFMetadata:
		if m.Title != "" {
			return m.Title
		}
	case document.DocxMetadata:
		if m.Title != "" {
			return m.Title
		}
	}
	return filename
}

func (p *Pipeline) chunk(ctx context.Context, r *run) (string, error) {
	strategy := p.chunkers.ForMediaType(r.doc.ContentType)
	drafts, err := strategy.Chunk(chunker.Source{
		DocumentID: r.doc.ID,
		Text:       r.parsed.Text,
		Segments:   r.parsed.Segments,
	})
	if err != nil {
		return "", err
	}
	r.drafts = drafts
	logger.FromContext(ctx).Info("document chunked", "document_id", r.doc.ID, "stats", chunker.Statistics(drafts))
	return msgChunked(len(drafts)), nil
}

// embed retries only when the embedding backend is unavailable; any other
// error fails the run straight away.
func (p *Pipeline) embed(ctx context.Context, r *run) (string, error) {
	if len(r.drafts) == 0 {
		return "", nil
	}
	texts := make([]string, len(r.drafts))
	for i, d := range r.drafts {
		texts[i] = d.Content
	}
	retry := resilience.RetryConfig{
		MaxAttempts:  p.cfg.EmbedAttempts,
		InitialDelay: p.cfg.EmbedBackoff,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, apperrors.ErrEmbeddingUnavailable)
		},
	}
	err := resilience.Retry(ctx, "embed chunks", retry, func() error {
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return apperrors.ProcessingFailed(nil, "embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}
		r.vectors = vectors
		return nil
	})
	return "", err
}

func (p *Pipeline) persist(ctx context.Context, r *run) (string, error) {
	chunks := make([]document.Chunk, len(r.drafts))
	for i, d := range r.drafts {
		chunks[i] = d.Chunk(r.doc.ID)
		if i < len(r.vectors) {
			chunks[i].Embedding = r.vectors[i]
		}
	}
	if err := p.store.ReplaceChunks(ctx, r.doc.ID, chunks); err != nil {
		return "", err
	}
	p.metrics.AddChunks(len(chunks))
	if err := p.progress(ctx, r, msgEmbedded); err != nil {
		return "", err
	}

	if err := p.store.CompleteDocument(ctx, r.doc.ID, r.parsed.Metadata); err != nil {
		return "", err
	}
	r.doc.Status = document.DocumentCompleted
	return "", p.complete(ctx, r)
}

func (p *Pipeline) complete(ctx context.Context, r *run) error {
	if err := p.store.CompleteSession(ctx, r.session.ID, r.doc.ID); err != nil {
		return err
	}
	r.finished = true
	p.notify(ctx, r.session.ID, document.SessionCompleted, msgCompleted)
	if p.onDone != nil {
		p.onDone(ctx, r.doc.ID)
	}
	return nil
}

// fail records err on the session and its document. It runs on a context
// detached from cancellation so a timed-out run still gets marked failed.
func (p *Pipeline) fail(ctx context.Context, r *run, cause error) apperrors.FailureClass {
	class := apperrors.Classify(cause)
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	if r.doc != nil && document.CanTransitionDocument(r.doc.Status, document.DocumentFailed) {
		if err := p.store.FailDocument(ctx, r.doc.ID, class); err != nil {
			log.Warn("marking document failed", "document_id", r.doc.ID, "error", err)
		}
	}
	message := cause.Error()
	if err := p.store.FailSession(ctx, r.session.ID, message, class); err != nil {
		log.Warn("marking upload session failed", "error", err)
	}
	p.notify(ctx, r.session.ID, document.SessionFailed, message)
	return class
}

// release returns an interrupted run's session to pending. Its document
// stays processing and is reopened by the next run.
func (p *Pipeline) release(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if err := p.store.ReleaseSession(ctx, r.session.ID); err != nil {
		logger.FromContext(ctx).Warn("releasing upload session failed", "error", err)
		return
	}
	p.notify(ctx, r.session.ID, document.SessionPending, "processing interrupted, queued again")
}

func (p *Pipeline) notify(ctx context.Context, uploadID string, status document.SessionStatus, message string) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, uploadID, status, message)
	}
}
