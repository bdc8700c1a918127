package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gildhall/gildbot/gildbot/database/models"
	"github.com/gildhall/gildbot/gildbot/database/repositories"
	"github.com/gildhall/gildbot/gildbot/logger"
	"github.com/gildhall/gildbot/gildbot/metrics"
)

// AnalysisSnapshot is one immutable cycle result for a scope. A new
// snapshot supersedes the previous one; none is ever mutated.
type AnalysisSnapshot struct {
	Timestamp      time.Time
	GuildID        string
	TotalUsers     int
	TotalWealth    int64
	AverageBalance int64
	MedianBalance  int64
	GiniIndex      float64
	WealthBuckets  []WealthBucket
	PerGameRatios  map[string]GameRatio
	HealthScore    float64
	HealthLevel    HealthLevel
	InflationRate  float64

	// Recommendations are operator-facing strings; entries prefixed with
	// "CRITICAL:" count into the health summary.
	Recommendations []string
}

// HealthSummary is the condensed view served to commands.
type HealthSummary struct {
	Health                      HealthLevel
	TotalUsers                  int
	AverageBalance              int64
	TotalWealth                 int64
	CriticalRecommendationCount int
}

// Config holds the engine tunables. Zero values fall back to defaults.
type Config struct {
	Interval time.Duration
	CacheTTL time.Duration

	HealthHysteresisMargin float64
	ExemptUserIDs          []string

	Scheduler SchedulerConfig
	Seed      int64
}

// Archiver receives each persisted snapshot for long-term storage. Optional
// and best effort.
type Archiver interface {
	UploadSnapshot(ctx context.Context, snap *AnalysisSnapshot) error
}

// Engine is the economic health analyzer and rebalancer for all scopes.
// Constructed once at startup and injected wherever multipliers or analyses
// are consumed; it holds no global state.
type Engine struct {
	accounts  repositories.AccountRepository
	gameStats repositories.GameStatsRepository
	snapshots repositories.SnapshotRepository

	multipliers *MultiplierEngine
	scheduler   *InterventionScheduler
	cache       *AnalysisCache
	archiver    Archiver

	cfg    Config
	exempt map[string]struct{}
	now    func() time.Time

	mu         sync.Mutex
	lastLevels map[string]HealthLevel
}

func NewEngine(
	accounts repositories.AccountRepository,
	gameStats repositories.GameStatsRepository,
	snapshots repositories.SnapshotRepository,
	announcer Announcer,
	cfg Config,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAnalysisInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	exempt := make(map[string]struct{}, len(cfg.ExemptUserIDs))
	for _, id := range cfg.ExemptUserIDs {
		exempt[id] = struct{}{}
	}
	cfg.Scheduler.ExemptUserIDs = exempt

	multipliers := NewMultiplierEngine(nil)
	return &Engine{
		accounts:    accounts,
		gameStats:   gameStats,
		snapshots:   snapshots,
		multipliers: multipliers,
		scheduler:   NewInterventionScheduler(accounts, multipliers, announcer, NewRand(cfg.Seed), cfg.Scheduler),
		cache:       NewAnalysisCache(cfg.CacheTTL),
		cfg:         cfg,
		exempt:      exempt,
		now:         time.Now,
		lastLevels:  make(map[string]HealthLevel),
	}
}

// SetArchiver wires optional snapshot archiving.
func (e *Engine) SetArchiver(a Archiver) {
	e.archiver = a
}

// GetMultipliers returns the current active multiplier for a game/variant.
// Safe for concurrent use by live game sessions; never fails.
func (e *Engine) GetMultipliers(game, variant string) Multiplier {
	return e.multipliers.GetMultipliers(game, variant)
}

// Multipliers exposes the underlying engine for display commands.
func (e *Engine) Multipliers() *MultiplierEngine {
	return e.multipliers
}

// GetAnalysis returns the cached snapshot when fresh, else recomputes
// synchronously.
func (e *Engine) GetAnalysis(ctx context.Context, guildID string) (*AnalysisSnapshot, error) {
	return e.RunFullAnalysis(ctx, guildID)
}

// GetHealthSummary derives the condensed health view from the snapshot.
func (e *Engine) GetHealthSummary(ctx context.Context, guildID string) (HealthSummary, error) {
	snap, err := e.GetAnalysis(ctx, guildID)
	if err != nil {
		return HealthSummary{Health: HealthUnknown}, err
	}

	critical := 0
	for _, rec := range snap.Recommendations {
		if strings.HasPrefix(rec, "CRITICAL:") {
			critical++
		}
	}

	return HealthSummary{
		Health:                      snap.HealthLevel,
		TotalUsers:                  snap.TotalUsers,
		AverageBalance:              snap.AverageBalance,
		TotalWealth:                 snap.TotalWealth,
		CriticalRecommendationCount: critical,
	}, nil
}

// RunFullAnalysis samples every account, scores economic health and caches
// the snapshot. A fresh cached snapshot short-circuits the scan, so manual
// triggers are idempotent with the periodic driver. Repository failures
// degrade to a neutral UNKNOWN snapshot instead of an error; a degraded
// snapshot is not cached so the next call retries.
func (e *Engine) RunFullAnalysis(ctx context.Context, guildID string) (*AnalysisSnapshot, error) {
	if snap := e.cache.Get(guildID); snap != nil {
		return snap, nil
	}

	accounts, err := e.accounts.GetByGuild(ctx, guildID)
	if err != nil {
		slog.Warn("Account scan failed, producing neutral snapshot",
			slog.String("type", "eco"),
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()))
		return e.neutralSnapshot(guildID), nil
	}

	balances := make([]int64, 0, len(accounts))
	for _, account := range accounts {
		if _, ok := e.exempt[account.DiscordID]; ok {
			continue
		}
		balances = append(balances, account.TotalBalance())
	}

	dist := AnalyzeDistribution(balances)

	var ratios map[string]GameRatio
	if stats, err := e.gameStats.GetByGuild(ctx, guildID); err != nil {
		slog.Warn("Game stats scan failed, scoring without edge data",
			slog.String("type", "eco"),
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()))
	} else {
		ratios = AggregateGameStats(stats)
	}

	inflation := e.inflationRate(ctx, guildID, dist.AverageBalance)
	meanEdge, hasEdge := MeanHouseEdge(ratios)

	score := ScoreHealth(HealthInputs{
		PoorSharePercent: dist.PoorSharePercent(),
		MeanHouseEdge:    meanEdge,
		HasEdgeData:      hasEdge,
		TotalUsers:       len(balances),
		InflationRate:    inflation,
	})

	e.mu.Lock()
	level := ClassifyWithHysteresis(score, e.lastLevels[guildID], e.cfg.HealthHysteresisMargin)
	e.lastLevels[guildID] = level
	e.mu.Unlock()

	snap := &AnalysisSnapshot{
		Timestamp:       e.now(),
		GuildID:         guildID,
		TotalUsers:      len(balances),
		TotalWealth:     dist.TotalWealth,
		AverageBalance:  dist.AverageBalance,
		MedianBalance:   dist.MedianBalance,
		GiniIndex:       dist.GiniIndex,
		WealthBuckets:   dist.Buckets,
		PerGameRatios:   ratios,
		HealthScore:     score,
		HealthLevel:     level,
		InflationRate:   inflation,
		Recommendations: buildRecommendations(dist, meanEdge, hasEdge, level),
	}

	e.persistSnapshot(ctx, snap)
	e.cache.Put(guildID, snap)

	metrics.HealthScore.WithLabelValues(guildID).Set(score)
	metrics.GiniIndex.WithLabelValues(guildID).Set(dist.GiniIndex)
	metrics.AnalysisCycles.WithLabelValues(guildID).Inc()

	slog.Info("Economy analysis completed",
		slog.String("type", "eco"),
		slog.String("guild_id", guildID),
		slog.Int("total_users", snap.TotalUsers),
		slog.Float64("gini", snap.GiniIndex),
		slog.Float64("score", score),
		slog.String("health", string(level)))

	return snap, nil
}

// CheckForInterventions reads the fresh analysis and may apply exactly one
// intervention. Safe to call manually alongside the periodic driver.
func (e *Engine) CheckForInterventions(ctx context.Context, guildID string) (*InterventionResult, error) {
	snap, err := e.GetAnalysis(ctx, guildID)
	if err != nil {
		return nil, err
	}

	result, err := e.scheduler.Check(ctx, snap)
	if err != nil {
		return nil, err
	}
	if result != nil {
		metrics.Interventions.WithLabelValues(guildID, string(result.Kind)).Inc()
		if result.Undistributed > 0 {
			metrics.UndistributedTax.WithLabelValues(guildID).Add(float64(result.Undistributed))
		}
	}
	return result, nil
}

// Start runs the fixed-interval control loop until ctx is cancelled. Each
// tick runs analysis, multiplier update and intervention check sequentially
// per scope. Pending override timers are stopped on shutdown.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		defer e.multipliers.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.runTick(ctx)
			}
		}
	}()
}

func (e *Engine) runTick(ctx context.Context) {
	guildIDs, err := e.accounts.ListGuildIDs(ctx)
	if err != nil {
		slog.Error("Failed to list scopes for rebalance tick",
			slog.String("type", "eco"),
			slog.Any("error", err))
		return
	}

	for _, guildID := range guildIDs {
		start := time.Now()
		err := e.RunCycle(ctx, guildID)
		if err != nil {
			metrics.CycleErrors.WithLabelValues(guildID).Inc()
		}
		logger.LogCycle(guildID, time.Since(start), err)
	}
}

// RunCycle performs one full analysis/update/intervention pass for a scope.
// The multiplier update always runs, whether or not an intervention fires,
// so an intervention's override layers over the fresh baseline.
func (e *Engine) RunCycle(ctx context.Context, guildID string) error {
	snap, err := e.RunFullAnalysis(ctx, guildID)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}

	if snap.HealthLevel != HealthUnknown {
		e.multipliers.UpdateFromAnalysis(snap.HealthLevel, snap.GiniIndex)
	}

	if _, err := e.CheckForInterventions(ctx, guildID); err != nil {
		return fmt.Errorf("interventions: %w", err)
	}
	return nil
}

func (e *Engine) neutralSnapshot(guildID string) *AnalysisSnapshot {
	return &AnalysisSnapshot{
		Timestamp:     e.now(),
		GuildID:       guildID,
		WealthBuckets: emptyBuckets(),
		HealthLevel:   HealthUnknown,
	}
}

// inflationRate compares the current average balance with the previously
// persisted snapshot's; 0 when no history exists.
func (e *Engine) inflationRate(ctx context.Context, guildID string, avg int64) float64 {
	prev, err := e.snapshots.GetLatest(ctx, guildID)
	if err != nil {
		slog.Warn("Failed to load previous snapshot for inflation",
			slog.String("type", "eco"),
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()))
		return 0
	}
	if prev == nil || prev.AverageBalance <= 0 {
		return 0
	}
	return float64(avg-prev.AverageBalance) / float64(prev.AverageBalance) * 100
}

func (e *Engine) persistSnapshot(ctx context.Context, snap *AnalysisSnapshot) {
	buckets := make(map[string]int, len(snap.WealthBuckets))
	for _, b := range snap.WealthBuckets {
		buckets[b.Label] = b.Count
	}

	row := &models.EconomySnapshot{
		GuildID:         snap.GuildID,
		Timestamp:       snap.Timestamp,
		TotalUsers:      snap.TotalUsers,
		TotalWealth:     snap.TotalWealth,
		AverageBalance:  snap.AverageBalance,
		MedianBalance:   snap.MedianBalance,
		GiniIndex:       snap.GiniIndex,
		InflationRate:   snap.InflationRate,
		HealthScore:     snap.HealthScore,
		HealthLevel:     string(snap.HealthLevel),
		WealthBuckets:   buckets,
		Recommendations: snap.Recommendations,
	}
	if err := e.snapshots.Create(ctx, row); err != nil {
		slog.Warn("Failed to persist snapshot",
			slog.String("type", "eco"),
			slog.String("guild_id", snap.GuildID),
			slog.String("error", err.Error()))
	}

	if e.archiver != nil {
		if err := e.archiver.UploadSnapshot(ctx, snap); err != nil {
			slog.Warn("Snapshot archive upload failed",
				slog.String("type", "eco"),
				slog.String("guild_id", snap.GuildID),
				slog.String("error", err.Error()))
		}
	}
}

func buildRecommendations(dist Distribution, meanEdge float64, hasEdge bool, level HealthLevel) []string {
	var recs []string

	if dist.GiniIndex > TaxGiniThreshold {
		recs = append(recs, fmt.Sprintf("CRITICAL: inequality at %.2f exceeds the redistribution threshold", dist.GiniIndex))
	} else if dist.GiniIndex > CrashGiniThreshold {
		recs = append(recs, fmt.Sprintf("inequality at %.2f is approaching intervention levels", dist.GiniIndex))
	}

	if hasEdge {
		switch {
		case meanEdge < 0:
			recs = append(recs, fmt.Sprintf("CRITICAL: players are beating the house (mean edge %.1f%%)", meanEdge))
		case meanEdge > 25:
			recs = append(recs, fmt.Sprintf("house edge at %.1f%% is draining players too fast", meanEdge))
		}
	} else {
		recs = append(recs, "insufficient game data; house edge unscored")
	}

	if dist.PoorSharePercent() >= 85 {
		recs = append(recs, fmt.Sprintf("%.0f%% of accounts sit in the lowest wealth bucket", dist.PoorSharePercent()))
	}

	if level == HealthCritical {
		recs = append(recs, "CRITICAL: overall economic health is critical")
	}

	return recs
}
