package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devstudio-tyler/company-on/internal/chunker"
	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/parser"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

func conflict(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrStatusConflict, http.StatusConflict, format, args...)
}

// memStore mirrors the conditional updates of the Postgres store.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*document.UploadSession
	docs     map[int64]*document.Document
	chunks   map[int64][]document.Chunk
	nextDoc  int64
	nextID   int64
	replaced int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[string]*document.UploadSession{},
		docs:     map[int64]*document.Document{},
		chunks:   map[int64][]document.Chunk{},
	}
}

func (m *memStore) put(sess document.UploadSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.FailureClass == "" {
		sess.FailureClass = apperrors.ClassNone
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	m.sessions[sess.ID] = &sess
}

func (m *memStore) session(id string) document.UploadSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[id]
}

func (m *memStore) document(id int64) document.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.docs[id]
}

func (m *memStore) CreateSession(_ context.Context, sess *document.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; ok {
		return conflict("upload %s exists", sess.ID)
	}
	if sess.Status == "" {
		sess.Status = document.SessionInit
	}
	sess.FailureClass = apperrors.ClassNone
	sess.CreatedAt, sess.UpdatedAt = time.Now(), time.Now()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) get(id string) (*document.UploadSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("upload session %s", id)
	}
	return s, nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*document.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSessions(_ context.Context, status document.SessionStatus, limit, offset int) ([]document.UploadSession, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []document.UploadSession
	for _, s := range m.sessions {
		if status == "" || s.Status == status {
			all = append(all, *s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *memStore) ClaimSession(_ context.Context, id string, staleBefore time.Time) (*document.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Status == document.SessionPending,
		s.Status == document.SessionProcessing && s.UpdatedAt.Before(staleBefore):
	case s.Status == document.SessionProcessing:
		return nil, apperrors.Newf(apperrors.ErrPipelineBusy, http.StatusConflict, "upload %s is already being processed", id)
	default:
		return nil, conflict("upload %s is %s, expected pending", id, s.Status)
	}
	s.Status = document.SessionProcessing
	s.ErrorMessage, s.FailureClass, s.Retryable = "", apperrors.ClassNone, false
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (m *memStore) TransitionSession(_ context.Context, id string, from, to document.SessionStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if !document.CanTransition(from, to) || s.Status != from {
		return conflict("upload %s is %s, expected %s", id, s.Status, from)
	}
	s.Status, s.ErrorMessage, s.UpdatedAt = to, message, time.Now()
	return nil
}

func (m *memStore) UpdateSessionMessage(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.Status != document.SessionProcessing {
		return conflict("upload %s is %s", id, s.Status)
	}
	s.ErrorMessage, s.UpdatedAt = message, time.Now()
	return nil
}

func (m *memStore) SetUploadedSize(_ context.Context, id string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.UploadedSize = size
	return nil
}

func (m *memStore) LinkDocument(_ context.Context, id string, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.DocumentID != nil && *s.DocumentID != documentID {
		return conflict("upload %s is linked to another document", id)
	}
	s.DocumentID = &documentID
	return nil
}

func (m *memStore) FailSession(_ context.Context, id, message string, class apperrors.FailureClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return conflict("upload %s is already %s", id, s.Status)
	}
	s.Status, s.ErrorMessage, s.FailureClass, s.Retryable = document.SessionFailed, message, class, class.Retryable()
	return nil
}

func (m *memStore) CompleteSession(_ context.Context, id string, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.Status != document.SessionProcessing {
		return conflict("upload %s is %s", id, s.Status)
	}
	s.Status, s.ErrorMessage, s.FailureClass, s.Retryable = document.SessionCompleted, "", apperrors.ClassNone, false
	s.DocumentID = &documentID
	return nil
}

func (m *memStore) ReleaseSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.Status != document.SessionProcessing {
		return conflict("upload %s is %s", id, s.Status)
	}
	s.Status, s.ErrorMessage, s.UpdatedAt = document.SessionPending, "", time.Now()
	return nil
}

func (m *memStore) RetrySession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if s.Status != document.SessionFailed || !s.Retryable {
		return apperrors.Newf(apperrors.ErrRetryNotAllowed, http.StatusConflict, "upload %s cannot be retried", id)
	}
	s.Status, s.ErrorMessage, s.FailureClass, s.Retryable = document.SessionPending, "", apperrors.ClassNone, false
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(id); err != nil {
		return err
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStore) CreateDocument(_ context.Context, d *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDoc++
	d.ID = m.nextDoc
	d.Status = document.DocumentProcessing
	d.FailureClass = apperrors.ClassNone
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *memStore) doc(id int64) (*document.Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, apperrors.NotFound("document %d", id)
	}
	return d, nil
}

func (m *memStore) GetDocument(_ context.Context, id int64) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.doc(id)
	if err != nil {
		return nil, err
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) setDocumentStatus(id int64, allowed func(from document.DocumentStatus) bool, to document.DocumentStatus, class apperrors.FailureClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.doc(id)
	if err != nil {
		return err
	}
	if !allowed(d.Status) {
		return conflict("document %d is %s", id, d.Status)
	}
	d.Status, d.FailureClass = to, class
	return nil
}

func forward(to document.DocumentStatus) func(document.DocumentStatus) bool {
	return func(from document.DocumentStatus) bool { return document.CanTransitionDocument(from, to) }
}

func (m *memStore) ReopenDocument(_ context.Context, id int64) error {
	return m.setDocumentStatus(id, document.CanReopen, document.DocumentProcessing, apperrors.ClassNone)
}

func (m *memStore) CompleteDocument(_ context.Context, id int64, meta document.Metadata) error {
	if err := m.setDocumentStatus(id, forward(document.DocumentCompleted), document.DocumentCompleted, apperrors.ClassNone); err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[id].Metadata = meta
	m.mu.Unlock()
	return nil
}

func (m *memStore) FailDocument(_ context.Context, id int64, class apperrors.FailureClass) error {
	return m.setDocumentStatus(id, forward(document.DocumentFailed), document.DocumentFailed, class)
}

func (m *memStore) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.doc(id); err != nil {
		return err
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	return nil
}

func (m *memStore) ReplaceChunks(_ context.Context, documentID int64, chunks []document.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]document.Chunk, len(chunks))
	for i, c := range chunks {
		m.nextID++
		c.ID = m.nextID
		out[i] = c
	}
	m.chunks[documentID] = out
	m.replaced++
	return nil
}

func (m *memStore) ListDocuments(_ context.Context, status document.DocumentStatus, search string, limit, offset int) ([]document.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []document.Document
	for _, d := range m.docs {
		if status != "" && d.Status != status {
			continue
		}
		if search != "" && !strings.Contains(d.Title, search) && !strings.Contains(d.Filename, search) {
			continue
		}
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	offset = min(offset, total)
	return all[offset:min(offset+limit, total)], total, nil
}

func (m *memStore) Chunks(_ context.Context, documentID int64) ([]document.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.chunks[documentID]), nil
}

func (m *memStore) ChunkCount(_ context.Context, documentID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[documentID]), nil
}

func (m *memStore) SessionForDocument(_ context.Context, documentID int64) (*document.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DocumentID != nil && *s.DocumentID == documentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("upload session for document %d", documentID)
}

// memBlobs is an in-memory blob.Store. With stall set, reads block until
// the caller's context is done.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	stall   bool
}

type stalledReader struct{ ctx context.Context }

func (r stalledReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, path string, r io.Reader, _ int64, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = data
	return nil
}

func (b *memBlobs) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, apperrors.NotFound("object %s", path)
	}
	if b.stall {
		return io.NopCloser(stalledReader{ctx: ctx}), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func (b *memBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	return nil
}

// fakeParser returns the file's bytes as text.
type fakeParser struct {
	err      error
	lastPath string
}

func (f *fakeParser) ParseFile(_ context.Context, path, _, _ string) (*parser.Result, error) {
	f.lastPath = path
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &parser.Result{
		Text:       string(data),
		Metadata:   document.TextMetadata{Encoding: "utf-8"},
		TokenCount: len(data),
	}, nil
}

type hookParser struct {
	before func()
	next   Parser
}

func (h hookParser) ParseFile(ctx context.Context, path, filename, mediaType string) (*parser.Result, error) {
	h.before()
	return h.next.ParseFile(ctx, path, filename, mediaType)
}

// lineChunker makes one draft per line.
type lineChunker struct{}

func (lineChunker) Chunk(src chunker.Source) ([]chunker.Draft, error) {
	var drafts []chunker.Draft
	for _, line := range bytes.Split([]byte(src.Text), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		drafts = append(drafts, chunker.Draft{
			Index:      len(drafts),
			Type:       document.ChunkText,
			Content:    string(line),
			TokenCount: len(line),
		})
	}
	return drafts, nil
}

var lineChunkers = chunker.Set{Text: lineChunker{}, Rows: lineChunker{}}

// fakeEmbedder fails the first failures calls with an outage. With block
// set it waits for ctx instead.
type fakeEmbedder struct {
	mu       sync.Mutex
	failures int
	calls    int
	block    bool
	err      error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, apperrors.Wrap(apperrors.ErrEmbeddingUnavailable, ctx.Err(), "embedding request")
	}
	if f.err != nil {
		return nil, f.err
	}
	if call <= f.failures {
		return nil, apperrors.Wrap(apperrors.ErrEmbeddingUnavailable, errors.New("connection refused"), "embedding request")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingNotifier) Notify(_ context.Context, uploadID string, status document.SessionStatus, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ProgressEvent{UploadID: uploadID, Status: status, Message: message})
}

func (r *recordingNotifier) statuses() []document.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]document.SessionStatus, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Message
	}
	return out
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, uploadID string) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, uploadID)
	return nil
}
