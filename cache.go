package hyperlog

import lru "github.com/hashicorp/golang-lru/v2"

// defaultCacheSize is the default bounded cache capacity (spec §4.10).
const defaultCacheSize = 65536

// Cache is a bounded mapping from block index to decrypted block bytes, held
// before value decoding so each Session decodes with its own encoding.
// Entries are only ever valid for the fork they were inserted under; a
// fork change invalidates the whole cache rather than individual entries
// (spec §4.10, §3 "Cache").
type Cache interface {
	Get(index uint64) ([]byte, bool)
	Put(index uint64, value []byte)
	Purge()
}

// lruCache adapts hashicorp/golang-lru to the Cache interface, giving the
// façade an LRU-by-insertion eviction policy with no age-based expiry
// (spec §4.10).
type lruCache struct {
	inner *lru.Cache[uint64, []byte]
}

// NewCache returns the default bounded cache described in spec §4.1's
// `cache: true` option. size <= 0 uses defaultCacheSize.
func NewCache(size int) Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[uint64, []byte](size)
	if err != nil {
		// Only size <= 0 can make lru.New fail, and that's normalized above.
		panic(err)
	}
	return &lruCache{inner: c}
}

func (c *lruCache) Get(index uint64) ([]byte, bool) { return c.inner.Peek(index) }
func (c *lruCache) Put(index uint64, value []byte)  { c.inner.Add(index, value) }
func (c *lruCache) Purge()                          { c.inner.Purge() }
