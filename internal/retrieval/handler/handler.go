package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/devstudio-tyler/company-on/internal/retrieval"
	"github.com/devstudio-tyler/company-on/internal/retrieval/cache"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/logger"
	"github.com/devstudio-tyler/company-on/pkg/tracing"
)

type SearchEngine interface {
	Search(ctx context.Context, query string, limit int, alpha, beta float64) (*retrieval.Response, error)
	Stats(ctx context.Context) (retrieval.IndexStats, error)
}

// Defaults are applied to parameters the caller leaves out.
type Defaults struct {
	Limit      int
	MaxResults int
	Alpha      float64
	Beta       float64
}

type Handler struct {
	engine   SearchEngine
	cache    *cache.QueryCache
	defaults Defaults
	logger   *slog.Logger
}

// New builds the handler. queryCache may be nil.
func New(engine SearchEngine, queryCache *cache.QueryCache, defaults Defaults) *Handler {
	return &Handler{
		engine:   engine,
		cache:    queryCache,
		defaults: defaults,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search/hybrid", h.HybridSearch)
	mux.HandleFunc("GET /api/v1/search/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/search/cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /api/v1/search/cache", h.CacheInvalidate)
}

type searchRequest struct {
	Query       string   `json:"query"`
	Limit       *int     `json:"limit"`
	Alpha       *float64 `json:"alpha"`
	Beta        *float64 `json:"beta"`
	DocumentIDs []int64  `json:"document_ids"`
}

// Search serves GET /api/v1/search?q=...&limit=&alpha=&beta=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req := searchRequest{Query: params.Get("q")}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		req.Limit = &n
	}
	for name, dst := range map[string]**float64{"alpha": &req.Alpha, "beta": &req.Beta} {
		if v := params.Get(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, name+" must be a number")
				return
			}
			*dst = &f
		}
	}
	h.serve(w, r, req)
}

// HybridSearch serves POST /api/v1/search/hybrid with a JSON body. An
// optional document_ids list restricts the returned chunks.
func (h *Handler) HybridSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.serve(w, r, req)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req searchRequest) {
	ctx, span := tracing.StartSpan(r.Context(), "search", logger.RequestID(r.Context()))
	log := logger.FromContext(ctx)

	limit := h.defaults.Limit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if h.defaults.MaxResults > 0 && limit > h.defaults.MaxResults {
		limit = h.defaults.MaxResults
	}
	alpha, beta := h.defaults.Alpha, h.defaults.Beta
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if req.Beta != nil {
		beta = *req.Beta
	}

	compute := func() (*retrieval.Response, error) {
		return h.engine.Search(ctx, req.Query, limit, alpha, beta)
	}
	var (
		resp     *retrieval.Response
		cacheHit bool
		err      error
	)
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, cache.Request{Query: req.Query, Limit: limit, Alpha: alpha, Beta: beta}, compute)
	} else {
		resp, err = compute()
	}
	span.End(err)
	span.Log(log)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, apperrors.ErrInvalidInput) {
			h.writeError(w, status, errorMessage(err))
			return
		}
		log.Error("search failed", "query", req.Query, "error", err)
		h.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	if len(req.DocumentIDs) > 0 {
		resp = filterDocuments(resp, req.DocumentIDs)
	}
	log.Debug("search served", "cache_hit", cacheHit, "returned", resp.Total)
	h.writeJSON(w, http.StatusOK, resp)
}

func filterDocuments(resp *retrieval.Response, ids []int64) *retrieval.Response {
	keep := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := *resp
	out.Results = make([]retrieval.Result, 0, len(resp.Results))
	for _, res := range resp.Results {
		if _, ok := keep[res.DocumentID]; ok {
			out.Results = append(out.Results, res)
		}
	}
	out.Total = len(out.Results)
	return &out
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("reading search stats failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
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
