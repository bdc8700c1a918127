package rebalance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAdjustmentFactor(t *testing.T) {
	assert.Equal(t, AdjustPoor, healthAdjustmentFactor(HealthPoor))
	assert.Equal(t, AdjustPoor, healthAdjustmentFactor(HealthCritical))
	assert.Equal(t, AdjustFair, healthAdjustmentFactor(HealthFair))
	assert.Equal(t, AdjustGood, healthAdjustmentFactor(HealthGood))
	assert.Equal(t, AdjustExcellent, healthAdjustmentFactor(HealthExcellent))
	assert.Equal(t, AdjustFair, healthAdjustmentFactor(HealthUnknown))
}

func TestUpdateFromAnalysis(t *testing.T) {
	e := NewMultiplierEngine(nil)

	// Fresh engine serves the base table unchanged.
	assert.InDelta(t, 2.0, e.GetMultipliers("blackjack", "").Value, 1e-9)

	e.UpdateFromAnalysis(HealthPoor, 0.5)
	assert.InDelta(t, 2.60, e.GetMultipliers("blackjack", "").Value, 1e-9)

	ladder := e.GetMultipliers("slots", "classic").Ladder
	require.Len(t, ladder, 3)
	assert.InDelta(t, 2.60, ladder[0], 1e-9)
	assert.InDelta(t, 6.50, ladder[1], 1e-9)
	assert.InDelta(t, 32.50, ladder[2], 1e-9)

	// The base table never mutates; EXCELLENT scales down from base.
	e.UpdateFromAnalysis(HealthExcellent, 0.5)
	assert.InDelta(t, 1.40, e.GetMultipliers("blackjack", "").Value, 1e-9)
}

func TestUpdateFromAnalysisGiniPenalty(t *testing.T) {
	e := NewMultiplierEngine(nil)

	e.UpdateFromAnalysis(HealthPoor, 0.85)
	// 1.30 * 0.90 = 1.17, each value rounded to 2 decimals.
	assert.InDelta(t, 2.34, e.GetMultipliers("blackjack", "").Value, 1e-9)

	// Exactly at the threshold there is no penalty.
	e2 := NewMultiplierEngine(nil)
	e2.UpdateFromAnalysis(HealthPoor, GiniPenaltyThreshold)
	assert.InDelta(t, 2.60, e2.GetMultipliers("blackjack", "").Value, 1e-9)
}

func TestUpdateFromAnalysisSkipsUnchangedFactor(t *testing.T) {
	e := NewMultiplierEngine(nil)

	e.UpdateFromAnalysis(HealthGood, 0.5)
	before := e.active.Load()

	// Same factor again leaves the published table untouched.
	e.UpdateFromAnalysis(HealthGood, 0.5)
	assert.Same(t, before, e.active.Load())

	e.UpdateFromAnalysis(HealthFair, 0.5)
	assert.NotSame(t, before, e.active.Load())
}

func TestGetMultipliersUnknownKeys(t *testing.T) {
	e := NewMultiplierEngine(nil)

	assert.True(t, e.GetMultipliers("poker", "").IsZero())
	assert.True(t, e.GetMultipliers("slots", "mega").IsZero())
}

func TestApplyOverrideAndExpiry(t *testing.T) {
	e := NewMultiplierEngine(nil)

	e.ApplyOverride(0.80, 40*time.Millisecond)
	assert.InDelta(t, 1.60, e.GetMultipliers("blackjack", "").Value, 1e-9)

	factor, expires, ok := e.ActiveOverride()
	require.True(t, ok)
	assert.InDelta(t, 0.80, factor, 1e-9)
	assert.False(t, expires.IsZero())

	// After expiry the exact pre-override table is restored.
	time.Sleep(120 * time.Millisecond)
	assert.InDelta(t, 2.0, e.GetMultipliers("blackjack", "").Value, 1e-9)
	_, _, ok = e.ActiveOverride()
	assert.False(t, ok)
}

func TestApplyOverrideReplacesWithoutCompounding(t *testing.T) {
	e := NewMultiplierEngine(nil)

	e.ApplyOverride(0.80, time.Hour)
	e.ApplyOverride(1.15, 40*time.Millisecond)

	// The second override applies to the pre-override snapshot, so the
	// blackjack payout is 2.0*1.15, not 2.0*0.80*1.15.
	assert.InDelta(t, 2.30, e.GetMultipliers("blackjack", "").Value, 1e-9)

	factor, _, ok := e.ActiveOverride()
	require.True(t, ok)
	assert.InDelta(t, 1.15, factor, 1e-9)

	// Expiry of the replacement restores the original table; the replaced
	// override's timer must not fire afterwards.
	time.Sleep(120 * time.Millisecond)
	assert.InDelta(t, 2.0, e.GetMultipliers("blackjack", "").Value, 1e-9)
}

func TestStopCancelsOverride(t *testing.T) {
	e := NewMultiplierEngine(nil)
	e.ApplyOverride(1.15, time.Hour)
	e.Stop()

	_, _, ok := e.ActiveOverride()
	assert.False(t, ok)
}

func TestGameKeys(t *testing.T) {
	e := NewMultiplierEngine(Table{
		"slots":    {"classic": Ladder(2, 5, 25)},
		"coinflip": {"": Scalar(1.95)},
	})

	keys := e.GameKeys()
	assert.ElementsMatch(t, []string{"slots/classic", "coinflip"}, keys)
}
