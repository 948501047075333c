// Package embedder turns chunk and query text into unit-length vectors. It
// batches requests to the backend, reuses cached vectors, and validates
// every vector before handing it out. It never retries; callers decide.
package embedder

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	"github.com/devstudio-tyler/company-on/pkg/resilience"
)

// Model is an embedding backend.
type Model interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
}

type Embedder struct {
	model     Model
	cache     Cache
	batchSize int
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Embedder)

func WithCache(c Cache) Option                        { return func(e *Embedder) { e.cache = c } }
func WithBatchSize(n int) Option                      { return func(e *Embedder) { e.batchSize = n } }
func WithBreaker(b *resilience.CircuitBreaker) Option { return func(e *Embedder) { e.breaker = b } }
func WithMetrics(m *metrics.Metrics) Option           { return func(e *Embedder) { e.metrics = m } }

func New(model Model, opts ...Option) *Embedder {
	e := &Embedder{
		model:     model,
		batchSize: 100,
		logger:    slog.Default().With("component", "embedder", "model", model.Name()),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 {
		e.batchSize = 100
	}
	return e
}

func (e *Embedder) ModelName() string { return e.model.Name() }
func (e *Embedder) Dimension() int    { return e.model.Dimension() }

// EmbedBatch returns one normalised vector per text, in input order.
// Backend failures are ErrEmbeddingUnavailable; malformed vectors are
// ErrValidationFailure. Both classify as processing_failed.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	missing := e.fromCache(ctx, texts, out)
	for start := 0; start < len(missing); start += e.batchSize {
		idx := missing[start:min(start+e.batchSize, len(missing))]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vectors, err := e.call(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, apperrors.ValidationFailure("backend returned %d vectors for %d texts", len(vectors), len(batch))
		}
		for j, v := range vectors {
			n := Normalize(v)
			if err := Validate(n, e.model.Dimension()); err != nil {
				return nil, err
			}
			out[idx[j]] = n
			e.store(ctx, batch[j], n)
		}
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// fromCache fills out with cached vectors and returns the indices still
// missing. Cache errors only cost a backend call.
func (e *Embedder) fromCache(ctx context.Context, texts []string, out [][]float32) []int {
	all := make([]int, len(texts))
	for i := range all {
		all[i] = i
	}
	if e.cache == nil {
		return all
	}
	cached, err := e.cache.GetMany(ctx, e.model.Name(), texts)
	if err != nil {
		e.logger.Warn("embedding cache read failed", "error", err)
		return all
	}

	var missing []int
	for i, v := range cached {
		if v != nil && Validate(v, e.model.Dimension()) == nil {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	for i := len(cached); i < len(texts); i++ {
		missing = append(missing, i)
	}
	e.metrics.ObserveEmbeddingCache(len(texts)-len(missing), len(missing))
	return missing
}

func (e *Embedder) store(ctx context.Context, text string, v []float32) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, e.model.Name(), text, v); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}
}

func (e *Embedder) call(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	run := func() error {
		var err error
		vectors, err = e.model.Embed(ctx, batch)
		return err
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(run)
	} else {
		err = run()
	}
	if err != nil {
		e.metrics.ObserveEmbedding(outcome(err))
		if ctx.Err() != nil {
			return nil, apperrors.ProcessingFailed(ctx.Err(), "embedding %d texts", len(batch))
		}
		return nil, apperrors.Wrap(apperrors.ErrEmbeddingUnavailable, err, "embedding %d texts", len(batch))
	}
	e.metrics.ObserveEmbedding("success")
	return vectors, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
