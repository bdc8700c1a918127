package rebalance

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const cacheSize = 256

// AnalysisCache keeps the last computed snapshot per scope so repeated
// reads within the TTL avoid a full population scan.
type AnalysisCache struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewAnalysisCache(ttl time.Duration) *AnalysisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache, _ := lru.New(cacheSize)
	return &AnalysisCache{cache: cache, ttl: ttl, now: time.Now}
}

// Get returns the cached snapshot for a scope when still fresh, else nil.
func (c *AnalysisCache) Get(guildID string) *AnalysisSnapshot {
	v, ok := c.cache.Get(guildID)
	if !ok {
		return nil
	}
	snap := v.(*AnalysisSnapshot)
	if c.now().Sub(snap.Timestamp) > c.ttl {
		c.cache.Remove(guildID)
		return nil
	}
	return snap
}

func (c *AnalysisCache) Put(guildID string, snap *AnalysisSnapshot) {
	c.cache.Add(guildID, snap)
}
