package gildbot

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log        LogConfig        `toml:"log"`
	Bot        BotConfig        `toml:"bot"`
	DB         DBConfig         `toml:"db"`
	Rebalancer RebalancerConfig `toml:"rebalancer"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Archive    ArchiveConfig    `toml:"archive"`
}

type BotConfig struct {
	DevGuilds       []snowflake.ID `toml:"dev_guilds"`
	Token           string         `toml:"token"`
	AnnounceChannel snowflake.ID   `toml:"announce_channel"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ArchiveConfig configures snapshot report uploads to S3-compatible storage.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Key     string `toml:"key"`
	Secret  string `toml:"secret"`
	Region  string `toml:"region"`
	Bucket  string `toml:"bucket"`
	Prefix  string `toml:"prefix"`
}

// RebalancerConfig holds every tunable of the analysis and intervention loop.
// Zero values fall back to the defaults in economy/rebalance/constants.go.
type RebalancerConfig struct {
	Interval      time.Duration `toml:"interval"`
	CacheTTL      time.Duration `toml:"cache_ttl"`
	ExemptUserIDs []string      `toml:"exempt_user_ids"`

	// Intervention gating
	CrashCooldown    time.Duration `toml:"crash_cooldown"`
	StimulusCooldown time.Duration `toml:"stimulus_cooldown"`
	TaxCooldown      time.Duration `toml:"tax_cooldown"`
	DailyEventCap    int           `toml:"daily_event_cap"`

	// Health scoring
	HealthHysteresisMargin float64 `toml:"health_hysteresis_margin"`

	// Random seed for intervention magnitudes; 0 means time-seeded.
	Seed int64 `toml:"seed"`
}

func (c RebalancerConfig) IntervalOrDefault() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return 10 * time.Minute
}

func (c RebalancerConfig) CacheTTLOrDefault() time.Duration {
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return 5 * time.Minute
}
