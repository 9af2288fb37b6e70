package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"moran/internal/agent"
)

const DefaultCacheSize = 4096

// Matcher is the match contract CachedMatcher decorates.
type Matcher interface {
	Play(ctx context.Context, a, b agent.Agent, turns int, noise float64, rng *rand.Rand) ([]Outcome, error)
}

type cacheKey struct {
	tagA, tagB   agent.TypeTag
	nameA, nameB string
	turns        int
}

// CachedMatcher memoizes deterministic match results. A match is
// deterministic when noise is zero and neither agent is stochastic; all other
// matches are delegated without touching the cache.
type CachedMatcher struct {
	next  Matcher
	cache *lru.Cache[cacheKey, []Outcome]

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedMatcher(next Matcher, size int) (*CachedMatcher, error) {
	if next == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, []Outcome](size)
	if err != nil {
		return nil, err
	}
	return &CachedMatcher{next: next, cache: cache}, nil
}

func (c *CachedMatcher) Play(ctx context.Context, a, b agent.Agent, turns int, noise float64, rng *rand.Rand) ([]Outcome, error) {
	if noise != 0 || a.Stochastic() || b.Stochastic() {
		return c.next.Play(ctx, a, b, turns, noise, rng)
	}

	key := cacheKey{tagA: a.TypeTag(), tagB: b.TypeTag(), nameA: a.Name(), nameB: b.Name(), turns: turns}
	if cached, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return append([]Outcome(nil), cached...), nil
	}
	c.misses.Add(1)

	outcomes, err := c.next.Play(ctx, a, b, turns, noise, rng)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]Outcome(nil), outcomes...))
	return outcomes, nil
}

func (c *CachedMatcher) Hits() int64 {
	return c.hits.Load()
}

func (c *CachedMatcher) Misses() int64 {
	return c.misses.Load()
}

func (c *CachedMatcher) Len() int {
	return c.cache.Len()
}
