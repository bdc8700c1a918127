package rebalance

// HealthLevel is the five-level classification of overall economic health.
type HealthLevel string

const (
	HealthExcellent HealthLevel = "EXCELLENT"
	HealthGood      HealthLevel = "GOOD"
	HealthFair      HealthLevel = "FAIR"
	HealthPoor      HealthLevel = "POOR"
	HealthCritical  HealthLevel = "CRITICAL"
	HealthUnknown   HealthLevel = "UNKNOWN"
)

// HealthInputs are the signals the scorer combines.
type HealthInputs struct {
	PoorSharePercent float64
	MeanHouseEdge    float64
	HasEdgeData      bool
	TotalUsers       int
	InflationRate    float64
}

// ScoreHealth accumulates weighted points from each signal. No single
// factor can exceed its cap; the result is in [0, 100].
func ScoreHealth(in HealthInputs) float64 {
	var score float64
	score += distributionPoints(in.PoorSharePercent)
	score += houseEdgePoints(in.MeanHouseEdge, in.HasEdgeData)
	score += populationPoints(in.TotalUsers)
	score += inflationPoints(in.InflationRate)
	return score
}

// ClassifyHealth maps a score to its level. Pure and deterministic.
func ClassifyHealth(score float64) HealthLevel {
	switch {
	case score >= ScoreExcellent:
		return HealthExcellent
	case score >= ScoreGood:
		return HealthGood
	case score >= ScoreFair:
		return HealthFair
	case score >= ScorePoor:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// ClassifyWithHysteresis keeps the previous level when the score sits within
// margin points of the previous level's band. A zero margin reproduces plain
// ClassifyHealth, which can oscillate every cycle on a borderline score.
func ClassifyWithHysteresis(score float64, prev HealthLevel, margin float64) HealthLevel {
	next := ClassifyHealth(score)
	if margin <= 0 || prev == "" || prev == HealthUnknown || next == prev {
		return next
	}

	lo, hi := bandBounds(prev)
	if score >= lo-margin && score < hi+margin {
		return prev
	}
	return next
}

// bandBounds returns the [lo, hi) score band of a level.
func bandBounds(level HealthLevel) (float64, float64) {
	switch level {
	case HealthExcellent:
		return ScoreExcellent, 101
	case HealthGood:
		return ScoreGood, ScoreExcellent
	case HealthFair:
		return ScoreFair, ScoreGood
	case HealthPoor:
		return ScorePoor, ScoreFair
	default:
		return 0, ScorePoor
	}
}

// distributionPoints: fewer accounts stuck in the lowest bucket scores higher.
func distributionPoints(poorShare float64) float64 {
	switch {
	case poorShare < 60:
		return MaxDistributionPoints
	case poorShare < 75:
		return 20
	case poorShare < 85:
		return 10
	default:
		return 0
	}
}

// houseEdgePoints: a healthy edge sits roughly in the 5-15% band. Players
// winning too much or the house taking too much both score near zero.
// Without wager data the factor is scored neutral rather than punitive.
func houseEdgePoints(edge float64, hasData bool) float64 {
	if !hasData {
		return MaxHouseEdgePoints / 2
	}
	switch {
	case edge >= 5 && edge <= 15:
		return MaxHouseEdgePoints
	case edge >= 0 && edge < 5, edge > 15 && edge <= 25:
		return 25
	case edge >= -5 && edge < 0, edge > 25 && edge <= 40:
		return 10
	default:
		return 0
	}
}

func populationPoints(users int) float64 {
	switch {
	case users >= 100:
		return MaxPopulationPoints
	case users >= 50:
		return 15
	case users >= 20:
		return 10
	case users >= 5:
		return 5
	default:
		return 0
	}
}

func inflationPoints(rate float64) float64 {
	switch {
	case rate < 2:
		return MaxInflationPoints
	case rate < 5:
		return 7
	case rate < 10:
		return 4
	default:
		return 0
	}
}
