package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sqlhelper/sqlhelper/agent/pkg/pipeline"
)

const DefaultCacheTTL = 5 * time.Minute

// Cached memoizes retrieval results per (question, count). Retrieval is not
// re-run within a turn, but identical questions across turns are common.
type Cached struct {
	inner pipeline.Retriever
	ttl   time.Duration
	cache *ttlcache.Cache[string, []string]
}

func NewCached(inner pipeline.Retriever, ttl time.Duration, capacity uint64) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	opts := []ttlcache.Option[string, []string]{ttlcache.WithTTL[string, []string](ttl)}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []string](capacity))
	}
	return &Cached{
		inner: inner,
		ttl:   ttl,
		cache: ttlcache.New(opts...),
	}
}

// Start runs the expired-item cleaner until Stop is called.
func (c *Cached) Start() { c.cache.Start() }

func (c *Cached) Stop() { c.cache.Stop() }

func (c *Cached) Retrieve(ctx context.Context, question string, count int) ([]string, error) {
	if count <= 0 {
		return nil, pipeline.ErrInvalidCount
	}
	key := cacheKey(question, count)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	snippets, err := c.inner.Retrieve(ctx, question, count)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, snippets, c.ttl)
	return snippets, nil
}

// Invalidate drops every cached result, e.g. after reindexing.
func (c *Cached) Invalidate() { c.cache.DeleteAll() }

func cacheKey(question string, count int) string {
	return fmt.Sprintf("%d:%s", count, strings.Join(strings.Fields(strings.ToLower(question)), " "))
}
