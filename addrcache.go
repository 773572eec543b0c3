package nest

import (
	"container/list"
	"sync"
)

// defaultAddrCacheSize bounds the process-wide normalization cache.
const defaultAddrCacheSize = 50

// canonicalAddrs maps raw outer-container addresses to their canonical
// absolute form. Shared by every connection in the process.
var canonicalAddrs = newAddrCache(defaultAddrCacheSize)

// addrCache is an LRU cache of canonicalized outer addresses. It provides
// thread-safe access, evicting the least recently used mapping once the
// bound is reached. Reads refresh recency, not just writes.
type addrCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// cachedAddr is a single raw-to-canonical mapping.
type cachedAddr struct {
	raw       string
	canonical string
}

// newAddrCache creates an address cache holding at most maxSize entries.
// If maxSize is zero or negative, the default bound is used.
func newAddrCache(maxSize int) *addrCache {
	if maxSize <= 0 {
		maxSize = defaultAddrCacheSize
	}
	return &addrCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// get retrieves the canonical form cached for a raw address. Accessing an
// entry promotes it to the front of the LRU list.
func (c *addrCache) get(raw string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[raw]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cachedAddr).canonical, true
}

// put stores a canonical form for a raw address. If a mapping already
// exists, it is updated and promoted. If the cache is at capacity, the
// least recently used mapping is evicted before adding the new one.
func (c *addrCache) put(raw, canonical string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[raw]; ok {
		elem.Value.(*cachedAddr).canonical = canonical
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest, oldest.Value.(*cachedAddr).raw)
	}

	c.entries[raw] = c.order.PushFront(&cachedAddr{raw: raw, canonical: canonical})
}

// len reports the number of live mappings.
func (c *addrCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeLocked removes an element from both the list and map.
// Caller must hold c.mu.
func (c *addrCache) removeLocked(elem *list.Element, raw string) {
	c.order.Remove(elem)
	delete(c.entries, raw)
}
