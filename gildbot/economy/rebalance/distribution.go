package rebalance

import (
	"sort"
)

// WealthBucket is one band of the five-bucket wealth distribution.
type WealthBucket struct {
	Label   string
	Count   int
	Percent float64
}

// Distribution holds population-level wealth statistics for one scope.
type Distribution struct {
	TotalWealth    int64
	AverageBalance int64
	MedianBalance  int64
	GiniIndex      float64
	Buckets        []WealthBucket
}

// AnalyzeDistribution computes total, average and median wealth, the
// five-bucket distribution and the Gini index over the given balances.
// Exempt accounts must be filtered out by the caller beforehand.
// An empty input yields a zero-filled result.
func AnalyzeDistribution(balances []int64) Distribution {
	dist := Distribution{Buckets: emptyBuckets()}
	if len(balances) == 0 {
		return dist
	}

	var total int64
	for _, b := range balances {
		if b < 0 {
			b = 0
		}
		total += b
	}

	dist.TotalWealth = total
	dist.AverageBalance = total / int64(len(balances))
	dist.MedianBalance = median(balances)
	dist.GiniIndex = giniIndex(balances)

	for _, b := range balances {
		dist.Buckets[bucketIndex(b)].Count++
	}
	n := float64(len(balances))
	for i := range dist.Buckets {
		dist.Buckets[i].Percent = float64(dist.Buckets[i].Count) / n * 100
	}

	return dist
}

// PoorSharePercent returns the percentage of accounts in the lowest bucket.
func (d Distribution) PoorSharePercent() float64 {
	if len(d.Buckets) == 0 {
		return 0
	}
	return d.Buckets[0].Percent
}

func emptyBuckets() []WealthBucket {
	buckets := make([]WealthBucket, len(wealthBucketLabels))
	for i, label := range wealthBucketLabels {
		buckets[i] = WealthBucket{Label: label}
	}
	return buckets
}

func bucketIndex(balance int64) int {
	for i, bound := range wealthBucketBounds {
		if balance < bound {
			return i
		}
	}
	return len(wealthBucketBounds)
}

// giniIndex computes the Gini coefficient over the balances using the
// sorted-rank formula: sum((2i - n - 1) * b[i]) / (n * S) for 1-based i.
// Returns 0 for an empty or zero-sum population.
func giniIndex(balances []int64) float64 {
	if len(balances) == 0 {
		return 0
	}

	sorted := make([]float64, len(balances))
	var sum float64
	for i, b := range balances {
		if b < 0 {
			b = 0
		}
		sorted[i] = float64(b)
		sum += float64(b)
	}
	if sum == 0 {
		return 0
	}

	sort.Float64s(sorted)

	n := float64(len(sorted))
	var numerator float64
	for i, b := range sorted {
		numerator += (2*float64(i+1) - n - 1) * b
	}

	return numerator / (n * sum)
}

// median of the balances; average of the two middle values on even counts.
func median(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
