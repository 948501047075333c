// Package retrieval answers natural-language queries by running a keyword
// search and a vector search over the chunk store concurrently and fusing
// the two ranked lists. Either side may fail alone; the query then degrades
// to the other side instead of erroring.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devstudio-tyler/company-on/internal/store"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	"github.com/devstudio-tyler/company-on/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

const maxQueryLength = 500

// ChunkSearcher is the read side of the chunk store.
type ChunkSearcher interface {
	KeywordSearch(ctx context.Context, keywords []string, limit int) ([]store.Hit, error)
	VectorSearch(ctx context.Context, embedding []float32, limit int) ([]store.Hit, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// QueryEmbedder turns the raw query into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Mode names which sub-searches contributed to a response.
type Mode string

const (
	ModeHybrid      Mode = "hybrid"
	ModeKeywordOnly Mode = "keyword_only"
	ModeVectorOnly  Mode = "vector_only"
	ModeEmpty       Mode = "empty"
	ModeError       Mode = "error"
)

type Engine struct {
	chunks   ChunkSearcher
	embedder QueryEmbedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEngine builds an engine. A nil embedder runs keyword-only.
func NewEngine(chunks ChunkSearcher, embedder QueryEmbedder, m *metrics.Metrics) *Engine {
	return &Engine{
		chunks:   chunks,
		embedder: embedder,
		metrics:  m,
		logger:   slog.Default().With("component", "retrieval"),
	}
}

// Response is a ranked result list and how it was produced.
type Response struct {
	Query    string   `json:"query"`
	Keywords []string `json:"keywords"`
	Mode     Mode     `json:"search_type"`
	Total    int      `json:"total_results"`
	Results  []Result `json:"results"`
}

// HybridSearch returns the top limit chunks for query. alpha weights the
// vector score and beta the keyword score; both must lie in [0, 1].
func (e *Engine) HybridSearch(ctx context.Context, query string, limit int, alpha, beta float64) ([]Result, error) {
	resp, err := e.Search(ctx, query, limit, alpha, beta)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Search is HybridSearch with the keywords and mode reported alongside the
// results.
func (e *Engine) Search(ctx context.Context, query string, limit int, alpha, beta float64) (*Response, error) {
	start := time.Now()
	if err := validate(query, limit, alpha, beta); err != nil {
		return nil, err
	}
	q := NormalizeQuery(query)
	log := logger.FromContext(ctx).With("component", "retrieval")

	ctx, span := tracing.StartChildSpan(ctx, "hybrid_search")
	span.SetAttr("keywords", q.Keywords)

	candidates := 2 * limit
	var (
		g               errgroup.Group
		kwHits, vecHits []store.Hit
		kwErr, vecErr   error
	)
	g.Go(func() error {
		kwHits, kwErr = e.chunks.KeywordSearch(ctx, q.Keywords, candidates)
		return nil
	})
	g.Go(func() error {
		vecHits, vecErr = e.vectorSearch(ctx, q.Raw, candidates)
		return nil
	})
	_ = g.Wait()

	mode := modeOf(kwErr, vecErr, kwHits, vecHits)
	if kwErr != nil && vecErr != nil {
		err := fmt.Errorf("hybrid search: %w", errors.Join(kwErr, vecErr))
		span.End(err)
		e.metrics.ObserveSearch(string(ModeError), "miss", time.Since(start).Seconds(), 0)
		return nil, err
	}
	if kwErr != nil {
		log.Warn("keyword search failed, using vector results only", "error", kwErr)
	}
	if vecErr != nil {
		log.Warn("vector search unavailable, using keyword results only", "error", vecErr)
	}

	results := Fuse(kwHits, vecHits, limit, alpha, beta)
	span.SetAttr("mode", mode)
	span.SetAttr("results", len(results))
	span.End(nil)

	e.metrics.ObserveSearch(string(mode), "miss", time.Since(start).Seconds(), len(results))
	log.Info("hybrid search completed",
		"keywords", q.Keywords,
		"keyword_hits", len(kwHits),
		"vector_hits", len(vecHits),
		"returned", len(results),
		"mode", mode,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &Response{Query: q.Raw, Keywords: q.Keywords, Mode: mode, Total: len(results), Results: results}, nil
}

func (e *Engine) vectorSearch(ctx context.Context, text string, limit int) ([]store.Hit, error) {
	if e.embedder == nil {
		return nil, errors.New("no query embedder configured")
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.chunks.VectorSearch(ctx, vec, limit)
}

func modeOf(kwErr, vecErr error, kw, vec []store.Hit) Mode {
	kwOK := kwErr == nil && len(kw) > 0
	vecOK := vecErr == nil && len(vec) > 0
	switch {
	case kwErr != nil && vecErr != nil:
		return ModeError
	case kwOK && vecOK:
		return ModeHybrid
	case kwOK:
		return ModeKeywordOnly
	case vecOK:
		return ModeVectorOnly
	default:
		return ModeEmpty
	}
}

func validate(query string, limit int, alpha, beta float64) error {
	switch {
	case len([]rune(query)) > maxQueryLength:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "query longer than %d characters", maxQueryLength)
	case NormalizeQuery(query).Raw == "":
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is empty")
	case limit < 1:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be positive, got %d", limit)
	case alpha < 0 || alpha > 1 || beta < 0 || beta > 1:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "alpha and beta must be within [0, 1], got %g and %g", alpha, beta)
	}
	return nil
}

// IndexStats describes how much of the corpus retrieval can reach.
type IndexStats struct {
	TotalDocuments    int64   `json:"total_documents"`
	TotalChunks       int64   `json:"total_chunks"`
	EmbeddedChunks    int64   `json:"chunks_with_embeddings"`
	EmbeddingCoverage float64 `json:"embedding_coverage"`
}

func (e *Engine) Stats(ctx context.Context) (IndexStats, error) {
	st, err := e.chunks.Stats(ctx)
	if err != nil {
		return IndexStats{}, err
	}
	out := IndexStats{
		TotalDocuments: st.TotalDocuments,
		TotalChunks:    st.TotalChunks,
		EmbeddedChunks: st.EmbeddedChunks,
	}
	if st.TotalChunks > 0 {
		out.EmbeddingCoverage = float64(st.EmbeddedChunks) / float64(st.TotalChunks)
	}
	return out, nil
}
