package rebalance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisCacheTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewAnalysisCache(5 * time.Minute)
	cache.now = func() time.Time { return now }

	assert.Nil(t, cache.Get("g1"))

	snap := &AnalysisSnapshot{GuildID: "g1", Timestamp: now}
	cache.Put("g1", snap)
	assert.Same(t, snap, cache.Get("g1"))

	// Entries are independent per scope.
	assert.Nil(t, cache.Get("g2"))

	// Within the TTL the entry survives; past it the read evicts.
	cache.now = func() time.Time { return now.Add(5 * time.Minute) }
	assert.Same(t, snap, cache.Get("g1"))

	cache.now = func() time.Time { return now.Add(5*time.Minute + time.Second) }
	assert.Nil(t, cache.Get("g1"))
	assert.Nil(t, cache.Get("g1"), "stale entry is gone, not resurrected")
}
