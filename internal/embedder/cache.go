package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/devstudio-tyler/company-on/pkg/redis"
)

// Cache stores vectors by model and content hash. Entries never expire;
// a later write for the same key replaces the earlier one.
type Cache interface {
	GetMany(ctx context.Context, model string, texts []string) ([][]float32, error)
	Put(ctx context.Context, model, text string, vector []float32) error
}

// CacheKey is embedding:<model>:<sha256 of text>.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + model + ":" + hex.EncodeToString(sum[:])
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) GetMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(model, t)
	}
	raw, err := c.client.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("embedding cache mget: %w", err)
	}
	out := make([][]float32, len(texts))
	for i, b := range raw {
		if b == nil {
			continue
		}
		var v []float32
		if err := json.Unmarshal(b, &v); err == nil {
			out[i] = v
		}
	}
	return out, nil
}

func (c *RedisCache) Put(ctx context.Context, model, text string, vector []float32) error {
	b, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, CacheKey(model, text), b, 0)
}
