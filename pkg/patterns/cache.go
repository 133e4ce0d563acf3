package patterns

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheKey identifies one cached read result. The hour bucket embeds a
// coarse time component so entries silently expire at hourly rollovers
// independently of the TTL sweep.
type CacheKey struct {
	Method     string
	HourBucket int64
	ArgSig     string
}

// NewCacheKey builds a key for the current hour.
func NewCacheKey(method, argSig string) CacheKey {
	return newCacheKeyAt(method, argSig, time.Now())
}

func newCacheKeyAt(method, argSig string, now time.Time) CacheKey {
	return CacheKey{
		Method:     method,
		HourBucket: now.Unix() / 3600,
		ArgSig:     argSig,
	}
}

// MethodMetrics is the per-method breakdown exposed by Metrics.
type MethodMetrics struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// CacheMetrics is the aggregate view of cache behaviour.
type CacheMetrics struct {
	Hits          int64                    `json:"hits"`
	Misses        int64                    `json:"misses"`
	HitRate       float64                  `json:"hit_rate"`
	Expirations   int64                    `json:"expirations"`
	Evictions     int64                    `json:"evictions"`
	TotalRequests int64                    `json:"total_requests"`
	CacheSize     int                      `json:"cache_size"`
	Utilization   float64                  `json:"utilization"`
	PerMethod     map[string]MethodMetrics `json:"per_method"`
}

// CacheInfo describes the cache configuration.
type CacheInfo struct {
	MaxSize int           `json:"max_size"`
	TTL     time.Duration `json:"ttl"`
	Size    int           `json:"size"`
}

type cacheEntry struct {
	key        CacheKey
	value      interface{}
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache is a TTL+LRU cache over Pattern Store reads. Every operation is
// atomic under the cache's own lock.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	entries map[CacheKey]*list.Element
	order   *list.List // front = most recently accessed

	hits        int64
	misses      int64
	expirations int64
	evictions   int64
	perMethod   map[string]*MethodMetrics

	now func() time.Time
}

// NewCache creates a cache holding at most maxSize entries, each valid for ttl.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		maxSize:   maxSize,
		ttl:       ttl,
		entries:   make(map[CacheKey]*list.Element),
		order:     list.New(),
		perMethod: make(map[string]*MethodMetrics),
		now:       time.Now,
	}
}

// Get returns the cached value for key. Expired entries are removed lazily
// and reported as misses.
func (c *Cache) Get(key CacheKey) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pm := c.methodMetrics(key.Method)

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		pm.Misses++
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		pm.Misses++
		return nil, false
	}

	entry.accessedAt = c.now()
	c.order.MoveToFront(el)
	c.hits++
	pm.Hits++
	return entry.value, true
}

// Set stores value under key, evicting the least recently accessed entry if
// the cache is full. Expired entries are swept opportunistically.
func (c *Cache) Set(key CacheKey, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = now.Add(c.ttl)
		entry.accessedAt = now
		c.order.MoveToFront(el)
		return
	}

	c.sweepLocked(now)

	if len(c.entries) >= c.maxSize {
		// Evict the entry with the smallest accessedAt, i.e. the list back.
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
			c.evictions++
		}
	}

	entry := &cacheEntry{
		key:        key,
		value:      value,
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}
	c.entries[key] = c.order.PushFront(entry)
}

// Clear removes all entries. Metrics counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]*list.Element)
	c.order.Init()
}

// Metrics returns a snapshot of cache behaviour counters.
func (c *Cache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	perMethod := make(map[string]MethodMetrics, len(c.perMethod))
	for m, v := range c.perMethod {
		perMethod[m] = *v
	}
	return CacheMetrics{
		Hits:          c.hits,
		Misses:        c.misses,
		HitRate:       hitRate,
		Expirations:   c.expirations,
		Evictions:     c.evictions,
		TotalRequests: total,
		CacheSize:     len(c.entries),
		Utilization:   float64(len(c.entries)) / float64(c.maxSize),
		PerMethod:     perMethod,
	}
}

// Info returns the cache configuration and current size.
func (c *Cache) Info() CacheInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheInfo{MaxSize: c.maxSize, TTL: c.ttl, Size: len(c.entries)}
}

func (c *Cache) methodMetrics(method string) *MethodMetrics {
	pm, ok := c.perMethod[method]
	if !ok {
		pm = &MethodMetrics{}
		c.perMethod[method] = pm
	}
	return pm
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

func (c *Cache) sweepLocked(now time.Time) {
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.removeLocked(el)
			c.expirations++
		}
		el = prev
	}
}

// CachedStore wraps a Store's expensive reads behind a Cache. Reads that
// miss fall through to the store and populate the cache.
type CachedStore struct {
	store *Store
	cache *Cache
}

// NewCachedStore wraps store with a cache of the given size and TTL.
func NewCachedStore(store *Store, maxSize int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		store: store,
		cache: NewCache(maxSize, ttl),
	}
}

// Store returns the underlying pattern store.
func (cs *CachedStore) Store() *Store { return cs.store }

// Cache returns the underlying cache, for metrics and clearing.
func (cs *CachedStore) Cache() *Cache { return cs.cache }

// GetPatternsByEntityType is the cached form of Store.GetPatternsByEntityType.
func (cs *CachedStore) GetPatternsByEntityType(name string) []*Pattern {
	key := NewCacheKey("get_patterns_by_entity_type", name)
	if v, ok := cs.cache.Get(key); ok {
		return v.([]*Pattern)
	}
	ps := cs.store.GetPatternsByEntityType(name)
	cs.cache.Set(key, ps)
	return ps
}

// AggregatedExamples is the cached form of Store.AggregatedExamples.
func (cs *CachedStore) AggregatedExamples(t EntityType) []string {
	key := NewCacheKey("get_aggregated_examples", string(t))
	if v, ok := cs.cache.Get(key); ok {
		return v.([]string)
	}
	ex := cs.store.AggregatedExamples(t)
	cs.cache.Set(key, ex)
	return ex
}

// GetPatternsByConfidence is the cached form of Store.GetPatternsByConfidence.
func (cs *CachedStore) GetPatternsByConfidence(min float64) []*Pattern {
	key := NewCacheKey("get_patterns_by_confidence", fmt.Sprintf("%.4f", min))
	if v, ok := cs.cache.Get(key); ok {
		return v.([]*Pattern)
	}
	ps := cs.store.GetPatternsByConfidence(min)
	cs.cache.Set(key, ps)
	return ps
}

// RelationshipPatterns is the cached form of Store.RelationshipPatterns.
func (cs *CachedStore) RelationshipPatterns() map[string][]*RelationshipPattern {
	key := NewCacheKey("get_relationship_patterns", "")
	if v, ok := cs.cache.Get(key); ok {
		return v.(map[string][]*RelationshipPattern)
	}
	rels := cs.store.RelationshipPatterns()
	cs.cache.Set(key, rels)
	return rels
}
