package rebalance

import "time"

// Health score weights and caps
const (
	MaxDistributionPoints = 30
	MaxHouseEdgePoints    = 40
	MaxPopulationPoints   = 20
	MaxInflationPoints    = 10
)

// Health level score thresholds
const (
	ScoreExcellent = 80.0
	ScoreGood      = 65.0
	ScoreFair      = 50.0
	ScorePoor      = 35.0
)

// Payout multiplier adjustment factors per health level
const (
	AdjustPoor      = 1.30
	AdjustFair      = 1.00
	AdjustGood      = 0.85
	AdjustExcellent = 0.70

	GiniPenaltyThreshold = 0.8
	GiniPenaltyFactor    = 0.90
)

// Intervention gating defaults
const (
	DefaultCrashCooldown    = 2 * time.Hour
	DefaultStimulusCooldown = 4 * time.Hour
	DefaultTaxCooldown      = 6 * time.Hour
	DefaultDailyEventCap    = 3
)

// Contraction ("crash") parameters
const (
	CrashGiniThreshold  = 0.7
	CrashWealthFloor    = 5_000_000 // accounts below this are never hit
	CrashMinPercent     = 0.05
	CrashMaxPercent     = 0.13
	CrashOverrideFactor = 0.80
	CrashOverrideWindow = 1 * time.Hour
)

// Stimulus parameters
const (
	StimulusWealthCeiling  = 10_000 // only accounts below this receive a payout
	StimulusMinAmount      = 1_000
	StimulusMaxAmount      = 5_000
	StimulusOverrideFactor = 1.15
	StimulusOverrideWindow = 2 * time.Hour
)

// Progressive wealth tax parameters
const (
	TaxGiniThreshold = 0.75

	TaxBracket1Floor = 50_000_000
	TaxBracket1Rate  = 0.025
	TaxBracket2Floor = 10_000_000
	TaxBracket2Rate  = 0.015
	TaxBracket3Floor = 5_000_000
	TaxBracket3Rate  = 0.01

	RedistributionCeiling  = 1_000_000 // eligibility ceiling for payouts
	RedistributionShareCap = 50_000    // per-account payout ceiling
)

// Analysis defaults
const (
	DefaultAnalysisInterval = 10 * time.Minute
	DefaultCacheTTL         = 5 * time.Minute

	// Bounded concurrency for mass balance writes during an intervention.
	interventionWriteWorkers = 4
)

// wealthBucketBounds are the upper bounds (exclusive) of the first four
// wealth buckets; the fifth bucket is unbounded.
var wealthBucketBounds = [4]int64{10_000, 100_000, 1_000_000, 10_000_000}

var wealthBucketLabels = [5]string{"0-10k", "10k-100k", "100k-1M", "1M-10M", "10M+"}
