package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
)

// CachedGenerator wraps a SummaryGenerator with an in-memory TTL cache keyed
// by a hash of the prompt. The prompt embeds the incident id and its
// structured fields, so a key identifies one incident in one state.
type CachedGenerator struct {
	inner   domain.SummaryGenerator
	cache   *gocache.Cache
	metrics *observability.Metrics
}

// NewCachedGenerator creates a cache decorator around a generator.
func NewCachedGenerator(inner domain.SummaryGenerator, ttl time.Duration, metrics *observability.Metrics) *CachedGenerator {
	return &CachedGenerator{
		inner:   inner,
		cache:   gocache.New(ttl, 2*ttl),
		metrics: metrics,
	}
}

func (c *CachedGenerator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	key := promptKey(prompt)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.GenerationCache.WithLabelValues("hit").Inc()
		return v.(string), nil
	}
	c.metrics.GenerationCache.WithLabelValues("miss").Inc()

	text, err := c.inner.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	// Only cache responses that parse so a malformed answer can be retried.
	if _, err := domain.ParseSummaryResponse(text); err == nil {
		c.cache.SetDefault(key, text)
	}
	return text, nil
}

// Len reports the number of cached entries, including expired ones not yet
// evicted.
func (c *CachedGenerator) Len() int {
	return c.cache.ItemCount()
}

func promptKey(p domain.Prompt) string {
	h := sha256.New()
	h.Write([]byte(p.System))
	h.Write([]byte{0})
	h.Write([]byte(p.User))
	return hex.EncodeToString(h.Sum(nil))
}
