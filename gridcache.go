package geosample

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/maypok86/otter/v2"
)

// A gridKey is the SHA-256 digest of an encoded raster.
type gridKey [sha256.Size]byte

// A GridCache caches decoded Grids by the digest of their encoded bytes, so
// that uploading the same raster twice decodes it once.
type GridCache struct {
	cache         *otter.Cache[gridKey, *Grid]
	decodeOptions []DecodeOption
}

// NewGridCache returns a new GridCache holding at most size Grids.
func NewGridCache(size int, decodeOptions ...DecodeOption) (*GridCache, error) {
	cache, err := otter.New(&otter.Options[gridKey, *Grid]{
		MaximumSize: max(size, 1),
	})
	if err != nil {
		return nil, err
	}
	return &GridCache{
		cache:         cache,
		decodeOptions: decodeOptions,
	}, nil
}

// Load returns the Grid decoded from data and its identifier.
func (c *GridCache) Load(ctx context.Context, data []byte) (*Grid, string, error) {
	key := gridKey(sha256.Sum256(data))
	id := hex.EncodeToString(key[:])
	loaded := false
	grid, err := c.cache.Get(ctx, key, otter.LoaderFunc[gridKey, *Grid](func(context.Context, gridKey) (*Grid, error) {
		loaded = true
		return Decode(data, c.decodeOptions...)
	}))
	// Callers that wait on another caller's in-flight load are counted as
	// hits.
	if loaded {
		gridCacheMisses.Inc()
	} else {
		gridCacheHits.Inc()
	}
	if err != nil {
		return nil, "", err
	}
	return grid, id, nil
}

// Lookup returns the Grid with identifier id, if it is cached.
func (c *GridCache) Lookup(id string) (*Grid, bool) {
	var key gridKey
	if len(id) != hex.EncodedLen(len(key)) {
		return nil, false
	}
	if _, err := hex.Decode(key[:], []byte(id)); err != nil {
		return nil, false
	}
	return c.cache.GetIfPresent(key)
}
