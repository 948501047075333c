package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devstudio-tyler/company-on/internal/retrieval"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	query       string
	limit       int
	alpha, beta float64
	err         error
}

func (f *fakeEngine) Search(_ context.Context, query string, limit int, alpha, beta float64) (*retrieval.Response, error) {
	f.query, f.limit, f.alpha, f.beta = query, limit, alpha, beta
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Response{
		Query: query,
		Mode:  retrieval.ModeHybrid,
		Total: 2,
		Results: []retrieval.Result{
			{ChunkID: 1, DocumentID: 10, CombinedScore: 0.9},
			{ChunkID: 2, DocumentID: 11, CombinedScore: 0.4},
		},
	}, nil
}

func (f *fakeEngine) Stats(context.Context) (retrieval.IndexStats, error) {
	return retrieval.IndexStats{TotalDocuments: 1, TotalChunks: 4, EmbeddedChunks: 2, EmbeddingCoverage: 0.5}, nil
}

func newServer(engine SearchEngine) *http.ServeMux {
	mux := http.NewServeMux()
	New(engine, nil, Defaults{Limit: 5, MaxResults: 20, Alpha: 0.7, Beta: 0.3}).Register(mux)
	return mux
}

func TestSearchAppliesDefaultsAndCaps(t *testing.T) {
	engine := &fakeEngine{}
	mux := newServer(engine)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=%EC%97%B0%EC%B0%A8&limit=100&beta=0.5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "연차", engine.query)
	assert.Equal(t, 20, engine.limit)
	assert.InDelta(t, 0.7, engine.alpha, 1e-9)
	assert.InDelta(t, 0.5, engine.beta, 1e-9)

	var resp retrieval.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
}

func TestHybridSearchFiltersDocuments(t *testing.T) {
	mux := newServer(&fakeEngine{})
	body := strings.NewReader(`{"query":"정책","limit":3,"document_ids":[11]}`)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search/hybrid", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp retrieval.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(2), resp.Results[0].ChunkID)
}

func TestSearchErrors(t *testing.T) {
	invalid := &fakeEngine{err: apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is empty")}
	rec := httptest.NewRecorder()
	newServer(invalid).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query is empty")

	down := &fakeEngine{err: errors.New("both sides failed")}
	rec = httptest.NewRecorder()
	newServer(down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	newServer(&fakeEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x&limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakeEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"embedding_coverage":0.5`)
}
