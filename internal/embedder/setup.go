package embedder

import (
	"github.com/devstudio-tyler/company-on/pkg/config"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	"github.com/devstudio-tyler/company-on/pkg/redis"
	"github.com/devstudio-tyler/company-on/pkg/resilience"
)

// FromConfig wires the HTTP client, the optional Redis vector cache and a
// circuit breaker whose state is exported as a gauge. cache may be nil.
// The client is returned as well so callers can register it as a health
// probe.
func FromConfig(cfg config.EmbeddingConfig, cache *redis.Client, m *metrics.Metrics) (*Embedder, *Client) {
	client := NewClient(cfg)
	breaker := resilience.NewCircuitBreaker("embedding", resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, to resilience.State) {
			m.SetBreakerState(name, int(to))
		},
	})
	opts := []Option{
		WithBatchSize(cfg.BatchSize),
		WithBreaker(breaker),
		WithMetrics(m),
	}
	if cfg.CacheOn && cache != nil {
		opts = append(opts, WithCache(NewRedisCache(cache)))
	}
	return New(client, opts...), client
}
