package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/lexext-cli/pkg/logging"
)

func newClockedCache(maxSize int, ttl time.Duration) (*Cache, *time.Time) {
	c := NewCache(maxSize, ttl)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheHitAndMiss(t *testing.T) {
	c, _ := newClockedCache(4, time.Minute)
	key := NewCacheKey("get_patterns_by_entity_type", "JUDGE")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []string{"a"})
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, v)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, 0.5, m.HitRate)
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, MethodMetrics{Hits: 1, Misses: 1}, m.PerMethod["get_patterns_by_entity_type"])
}

func TestCacheTTLExpiryOnGet(t *testing.T) {
	c, now := newClockedCache(4, time.Minute)
	key := NewCacheKey("m", "a")
	c.Set(key, 1)

	*now = now.Add(2 * time.Minute)
	_, ok := c.Get(key)
	assert.False(t, ok)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Expirations)
	assert.Equal(t, 0, m.CacheSize)
}

func TestCacheLRUEviction(t *testing.T) {
	c, now := newClockedCache(2, time.Hour)

	a := CacheKey{Method: "m", HourBucket: 1, ArgSig: "a"}
	b := CacheKey{Method: "m", HourBucket: 1, ArgSig: "b"}
	d := CacheKey{Method: "m", HourBucket: 1, ArgSig: "d"}

	c.Set(a, "A")
	*now = now.Add(time.Second)
	c.Set(b, "B")

	// Touch a so b becomes least recently accessed.
	*now = now.Add(time.Second)
	_, ok := c.Get(a)
	require.True(t, ok)

	*now = now.Add(time.Second)
	c.Set(d, "D")

	_, ok = c.Get(b)
	assert.False(t, ok, "least recently accessed entry evicted")
	_, ok = c.Get(a)
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Metrics().Evictions)
}

func TestCacheSetSweepsExpired(t *testing.T) {
	c, now := newClockedCache(10, time.Minute)
	c.Set(CacheKey{Method: "m", ArgSig: "a"}, 1)
	c.Set(CacheKey{Method: "m", ArgSig: "b"}, 2)

	*now = now.Add(5 * time.Minute)
	c.Set(CacheKey{Method: "m", ArgSig: "c"}, 3)

	info := c.Info()
	assert.Equal(t, 1, info.Size, "expired entries swept on set")
}

func TestCacheClearPreservesMetrics(t *testing.T) {
	c, _ := newClockedCache(4, time.Minute)
	key := NewCacheKey("m", "a")
	c.Set(key, 1)
	c.Get(key)

	c.Clear()
	assert.Equal(t, 0, c.Info().Size)
	assert.Equal(t, int64(1), c.Metrics().Hits)
}

func TestHourBucketChangesKey(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 1, 11, 1, 0, 0, time.UTC)
	k1 := newCacheKeyAt("m", "a", t1)
	k2 := newCacheKeyAt("m", "a", t2)
	assert.NotEqual(t, k1, k2, "entries silently expire at hourly rollovers")
}

func TestCachedStoreFallsThroughAndCaches(t *testing.T) {
	dir := writeTestPatterns(t)
	s := NewStore(dir, logging.NewNopLogger())
	require.NoError(t, s.LoadAll())

	cs := NewCachedStore(s, 16, time.Minute)

	first := cs.GetPatternsByEntityType("JUDGE")
	require.Len(t, first, 1)
	second := cs.GetPatternsByEntityType("JUDGE")
	require.Len(t, second, 1)

	m := cs.Cache().Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)

	ex := cs.AggregatedExamples(EntityJudge)
	assert.Contains(t, ex, "Judge Maria Alvarez")

	rels := cs.RelationshipPatterns()
	assert.Contains(t, rels, "judicial")
}
