package models

import (
	"time"

	"github.com/uptrace/bun"
)

// EconomySnapshot is the persisted form of one analysis cycle's result.
// A new row is written per cycle; rows are never updated.
type EconomySnapshot struct {
	bun.BaseModel `bun:"table:economy_snapshots,alias:es"`

	ID             int64     `bun:"id,pk,autoincrement"`
	GuildID        string    `bun:"guild_id,notnull"`
	Timestamp      time.Time `bun:"timestamp,notnull"`
	TotalUsers     int       `bun:"total_users,notnull"`
	TotalWealth    int64     `bun:"total_wealth,notnull"`
	AverageBalance int64     `bun:"average_balance,notnull"`
	MedianBalance  int64     `bun:"median_balance,notnull"`
	GiniIndex      float64   `bun:"gini_index,notnull"`
	InflationRate  float64   `bun:"inflation_rate,notnull"`
	HealthScore    float64   `bun:"health_score,notnull"`
	HealthLevel    string    `bun:"health_level,notnull"`

	// Bucket counts and recommendations, stored as JSONB for history display.
	WealthBuckets   map[string]int `bun:"wealth_buckets,type:jsonb"`
	Recommendations []string       `bun:"recommendations,type:jsonb"`
}
