package rebalance

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Multiplier is either a single payout factor or an ordered payout ladder
// for games with tiered outcomes. Exactly one of the two is set.
type Multiplier struct {
	Value  float64
	Ladder []float64
}

// Scalar builds a single-value multiplier.
func Scalar(v float64) Multiplier {
	return Multiplier{Value: v}
}

// Ladder builds an ordered multi-tier multiplier.
func Ladder(vs ...float64) Multiplier {
	return Multiplier{Ladder: vs}
}

// IsZero reports whether the multiplier carries no value at all, which is
// what lookups of entirely unknown keys return.
func (m Multiplier) IsZero() bool {
	return m.Value == 0 && len(m.Ladder) == 0
}

func (m Multiplier) scaled(factor float64) Multiplier {
	if len(m.Ladder) > 0 {
		out := make([]float64, len(m.Ladder))
		for i, v := range m.Ladder {
			out[i] = round2(v * factor)
		}
		return Multiplier{Ladder: out}
	}
	return Multiplier{Value: round2(m.Value * factor)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Table maps game -> variant -> multiplier. Tables are immutable once
// published; updates build a new table and swap the pointer.
type Table map[string]map[string]Multiplier

func (t Table) scaled(factor float64) Table {
	out := make(Table, len(t))
	for game, variants := range t {
		scaled := make(map[string]Multiplier, len(variants))
		for variant, m := range variants {
			scaled[variant] = m.scaled(factor)
		}
		out[game] = scaled
	}
	return out
}

// Games returns all game/variant keys of the table, for autocomplete.
func (t Table) Games() []string {
	keys := make([]string, 0, len(t))
	for game, variants := range t {
		for variant := range variants {
			keys = append(keys, ratioKey(game, variant))
		}
	}
	return keys
}

// DefaultBaseTable is the designed-default payout table.
func DefaultBaseTable() Table {
	return Table{
		"slots": {
			"classic": Ladder(2, 5, 25),
			"deluxe":  Ladder(3, 10, 50, 250),
		},
		"blackjack": {
			"":          Scalar(2),
			"insurance": Scalar(2.5),
		},
		"roulette": {
			"straight": Scalar(35),
			"split":    Scalar(17),
			"color":    Scalar(2),
		},
		"coinflip": {
			"": Scalar(1.95),
		},
		"dice": {
			"": Scalar(5.8),
		},
	}
}

// TemporaryOverride is the single outstanding boost/reduction window over
// the active table. At most one exists at a time; installing a new one
// cancels the pending expiry of the old one.
type TemporaryOverride struct {
	Factor    float64
	ExpiresAt time.Time

	prior *Table
	timer *time.Timer
}

// MultiplierEngine derives the active payout table from the base table and
// the latest health analysis, and serves lock-free concurrent reads via an
// atomic snapshot pointer.
type MultiplierEngine struct {
	base   Table
	active atomic.Pointer[Table]

	mu         sync.Mutex
	override   *TemporaryOverride
	lastFactor float64
}

func NewMultiplierEngine(base Table) *MultiplierEngine {
	if base == nil {
		base = DefaultBaseTable()
	}
	e := &MultiplierEngine{base: base, lastFactor: 1.0}
	initial := base.scaled(1.0)
	e.active.Store(&initial)
	return e
}

// healthAdjustmentFactor maps a health level to the uniform payout factor.
// CRITICAL uses POOR's value by convention; UNKNOWN leaves payouts alone.
func healthAdjustmentFactor(level HealthLevel) float64 {
	switch level {
	case HealthPoor, HealthCritical:
		return AdjustPoor
	case HealthGood:
		return AdjustGood
	case HealthExcellent:
		return AdjustExcellent
	default:
		return AdjustFair
	}
}

// UpdateFromAnalysis recomputes the active table when the combined
// adjustment factor shifted. An outstanding override is deliberately not
// reconciled with the new baseline; its restore snapshot predates it.
func (e *MultiplierEngine) UpdateFromAnalysis(level HealthLevel, gini float64) {
	factor := healthAdjustmentFactor(level)
	if gini > GiniPenaltyThreshold {
		factor *= GiniPenaltyFactor
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if factor == e.lastFactor {
		return
	}
	e.lastFactor = factor

	next := e.base.scaled(factor)
	e.active.Store(&next)

	slog.Info("Active multiplier table recomputed",
		slog.String("type", "eco"),
		slog.String("health", string(level)),
		slog.Float64("factor", factor))
}

// ApplyOverride installs a temporary multiplicative boost/reduction over the
// current active table. If an override is already outstanding the new one
// replaces it: the pending expiry is cancelled and the new factor is applied
// to the original pre-override snapshot, so overrides never compound.
func (e *MultiplierEngine) ApplyOverride(factor float64, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prior := e.active.Load()
	if e.override != nil {
		e.override.timer.Stop()
		prior = e.override.prior
	}

	next := (*prior).scaled(factor)
	e.active.Store(&next)

	ov := &TemporaryOverride{
		Factor:    factor,
		ExpiresAt: time.Now().Add(duration),
		prior:     prior,
	}
	ov.timer = time.AfterFunc(duration, func() {
		e.expireOverride(ov)
	})
	e.override = ov

	slog.Info("Temporary multiplier override applied",
		slog.String("type", "eco"),
		slog.Float64("factor", factor),
		slog.Duration("duration", duration))
}

// expireOverride restores the exact pre-override active table. A superseded
// override is a no-op; the newer one owns the slot.
func (e *MultiplierEngine) expireOverride(ov *TemporaryOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.override != ov {
		return
	}
	e.active.Store(ov.prior)
	e.override = nil

	slog.Info("Multiplier override expired, table restored",
		slog.String("type", "eco"),
		slog.Float64("factor", ov.Factor))
}

// ActiveOverride returns the factor and expiry of the outstanding override,
// or false when none is pending.
func (e *MultiplierEngine) ActiveOverride() (float64, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.override == nil {
		return 0, time.Time{}, false
	}
	return e.override.Factor, e.override.ExpiresAt, true
}

// Stop cancels any pending override expiry. Used on shutdown.
func (e *MultiplierEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.override != nil {
		e.override.timer.Stop()
		e.override = nil
	}
}

// GetMultipliers returns the current active multiplier for a game/variant.
// Unknown variants fall back to the base table; entirely unknown keys return
// an empty multiplier. It never fails and is safe for concurrent use.
func (e *MultiplierEngine) GetMultipliers(game, variant string) Multiplier {
	active := *e.active.Load()
	if variants, ok := active[game]; ok {
		if m, ok := variants[variant]; ok {
			return m
		}
	}
	if variants, ok := e.base[game]; ok {
		if m, ok := variants[variant]; ok {
			return m
		}
	}
	return Multiplier{}
}

// GameKeys lists the base table's game/variant keys.
func (e *MultiplierEngine) GameKeys() []string {
	return e.base.Games()
}
