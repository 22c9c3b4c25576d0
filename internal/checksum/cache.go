package checksum

import (
	"os"

	"github.com/cuberecall/packsync/pkg/syncerr"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 4096

type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// CachedHasher memoizes digests in memory keyed by (path, size, mtime).
// Nothing is persisted; a process restart rehashes everything.
type CachedHasher struct {
	inner Hasher
	cache *lru.Cache[cacheKey, string]
}

func NewCachedHasher(inner Hasher, size int) (*CachedHasher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &CachedHasher{inner: inner, cache: cache}, nil
}

func (c *CachedHasher) FileDigest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &syncerr.IOError{Op: "stat", Path: path, Err: err}
	}

	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if sum, ok := c.cache.Get(key); ok {
		return sum, nil
	}

	sum, err := c.inner.FileDigest(path)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, sum)
	return sum, nil
}

// Len reports the number of cached digests.
func (c *CachedHasher) Len() int {
	return c.cache.Len()
}

// Inner returns the wrapped hasher.
func (c *CachedHasher) Inner() Hasher {
	return c.inner
}
