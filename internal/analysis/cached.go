package analysis

import (
	"context"
	"fmt"

	"crossfade/internal/cache"
	"crossfade/pkg/models"
)

// Cached remembers results of an analyzer per track. Only results from the
// analysis service are cached; fallbacks are cheap and may improve once the
// service is back.
type Cached struct {
	next  Analyzer
	cache *cache.MemoryCache[*Result]
}

// NewCached wraps next with a result cache
func NewCached(next Analyzer, c *cache.MemoryCache[*Result]) *Cached {
	return &Cached{next: next, cache: c}
}

func cacheKey(track *models.Track) string {
	return fmt.Sprintf("%s:%d", track.ID, track.FileSize)
}

func (c *Cached) Analyze(ctx context.Context, track *models.Track) (*Result, error) {
	key := cacheKey(track)
	if result, ok := c.cache.Get(key); ok {
		return result, nil
	}

	result, err := c.next.Analyze(ctx, track)
	if err != nil {
		return nil, err
	}
	if result.Source == SourceService {
		c.cache.Set(key, result)
	}
	return result, nil
}

// Forget drops the cached result of a track
func (c *Cached) Forget(track *models.Track) {
	c.cache.Delete(cacheKey(track))
}
