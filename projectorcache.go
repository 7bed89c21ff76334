package geosample

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// A crsPair is a projector cache key.
type crsPair struct {
	source string
	target string
}

// A ProjectorCache is a cache of Projectors keyed by CRS pair. It is safe for
// concurrent use.
type ProjectorCache struct {
	mutex sync.Mutex
	cache *lru.Cache[crsPair, *Projector]
}

// NewProjectorCache returns a new ProjectorCache holding up to size
// Projectors.
func NewProjectorCache(size int) (*ProjectorCache, error) {
	// Evicted projectors are not closed because a caller may still hold them.
	cache, err := lru.NewWithEvict(size, func(key crsPair, value *Projector) {
		projectorCacheEvictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	return &ProjectorCache{
		cache: cache,
	}, nil
}

// Get returns a Projector from source to target, creating it if needed.
func (c *ProjectorCache) Get(source, target string) (*Projector, error) {
	key := crsPair{
		source: normalizeCRS(source),
		target: normalizeCRS(target),
	}

	if projector, ok := c.cache.Get(key); ok {
		projectorCacheHits.Inc()
		return projector, nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if projector, ok := c.cache.Get(key); ok {
		projectorCacheHits.Inc()
		return projector, nil
	}

	projectorCacheMisses.Inc()

	projector, err := NewProjector(key.source, key.target)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, projector)
	return projector, nil
}

// Len returns the number of Projectors in c.
func (c *ProjectorCache) Len() int {
	return c.cache.Len()
}
