package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/ingestion"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocuments struct {
	status, search string
	page           int
	index          *int
	deleted        int64
}

func (f *fakeDocuments) List(_ context.Context, status, search string, page, _ int) (*ingestion.DocumentListResponse, error) {
	f.status, f.search, f.page = status, search, page
	return &ingestion.DocumentListResponse{Documents: []document.Document{{ID: 7, Title: "연차 규정"}}, Total: 1, Page: page}, nil
}

func (f *fakeDocuments) Get(_ context.Context, id int64) (*ingestion.DocumentInfo, error) {
	if id != 7 {
		return nil, apperrors.NotFound("document %d not found", id)
	}
	return &ingestion.DocumentInfo{Document: document.Document{ID: 7, Filename: "연차 규정.pdf"}, ChunkCount: 3, UploadID: "u1"}, nil
}

func (f *fakeDocuments) Open(_ context.Context, id int64) (io.ReadCloser, *document.Document, error) {
	if id != 7 {
		return nil, nil, apperrors.NotFound("document %d not found", id)
	}
	doc := &document.Document{ID: 7, Filename: "연차 규정.txt", ContentType: "text/plain", FileSize: int64(len("연차 15일"))}
	return io.NopCloser(strings.NewReader("연차 15일")), doc, nil
}

func (f *fakeDocuments) Chunks(_ context.Context, id int64, index *int, page, _ int) (*ingestion.ChunkListResponse, error) {
	f.index, f.page = index, page
	return &ingestion.ChunkListResponse{DocumentID: id, Chunks: []ingestion.ChunkView{{Chunk: document.Chunk{Index: 0}, HasEmbedding: true}}, Total: 1, Page: page}, nil
}

func (f *fakeDocuments) Reprocess(_ context.Context, id int64) (*ingestion.ProcessingStatus, error) {
	if id != 7 {
		return nil, apperrors.Newf(apperrors.ErrRetryNotAllowed, http.StatusConflict, "document %d cannot be reprocessed", id)
	}
	return &ingestion.ProcessingStatus{UploadID: "u1", Status: document.SessionPending}, nil
}

func (f *fakeDocuments) Delete(_ context.Context, id int64) error {
	f.deleted = id
	return nil
}

func documentServer(docs *fakeDocuments) *http.ServeMux {
	mux := http.NewServeMux()
	New(&fakeService{}, 1<<20, WithDocuments(docs)).Register(mux)
	return mux
}

func TestDocumentRoutesNeedTheService(t *testing.T) {
	rec := serve(newServer(&fakeService{}, 1<<20), httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocumentsParsesQuery(t *testing.T) {
	docs := &fakeDocuments{}
	mux := documentServer(docs)

	rec := serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents?page=2&status=completed&search=%EC%97%B0%EC%B0%A8", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, docs.page)
	assert.Equal(t, "completed", docs.status)
	assert.Equal(t, "연차", docs.search)

	var resp ingestion.DocumentListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Total)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents?page=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocument(t *testing.T) {
	mux := documentServer(&fakeDocuments{})

	rec := serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunk_count":3`)
	assert.Contains(t, rec.Body.String(), `"upload_id":"u1"`)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/8", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, id := range []string{"abc", "0", "-3"} {
		rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestDownloadDocument(t *testing.T) {
	mux := documentServer(&fakeDocuments{})

	rec := serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/7/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "연차 15일", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename*=utf-8''%EC%97%B0%EC%B0%A8%20%EA%B7%9C%EC%A0%95.txt", rec.Header().Get("Content-Disposition"))

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/8/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentChunksQuery(t *testing.T) {
	docs := &fakeDocuments{}
	mux := documentServer(docs)

	rec := serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/7/chunks?chunk_index=4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, docs.index)
	assert.Equal(t, 4, *docs.index)
	assert.Contains(t, rec.Body.String(), `"has_embedding":true`)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/7/chunks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, docs.index)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/v1/documents/7/chunks?chunk_index=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReprocessAndDeleteDocument(t *testing.T) {
	docs := &fakeDocuments{}
	mux := documentServer(docs)

	rec := serve(mux, httptest.NewRequest(http.MethodPost, "/api/v1/documents/7/reprocess", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	rec = serve(mux, httptest.NewRequest(http.MethodPost, "/api/v1/documents/9/reprocess", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(mux, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/7", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), docs.deleted)
}
