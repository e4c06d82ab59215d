package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
//
// A non-positive or NaN previous price yields a zero return for that step.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev > 0 && !math.IsNaN(prev) && !math.IsNaN(cur) {
			returns[i-1] = (cur - prev) / prev
		}
	}

	return returns
}

// SortedCopy returns an ascending copy of data, leaving the input untouched.
func SortedCopy(data []float64) []float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return sorted
}

// Median returns the middle value of data (average of the two middle values
// for even lengths). Returns NaN for empty input.
func Median(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return math.NaN()
	}
	sorted := SortedCopy(data)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile returns the p-th quantile (0 ≤ p ≤ 1) of data using linear
// interpolation between order statistics, matching numpy's default.
func Percentile(data []float64, p float64) float64 {
	n := len(data)
	if n == 0 {
		return math.NaN()
	}
	sorted := SortedCopy(data)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// InterquartileRange returns Q3 - Q1 of data.
func InterquartileRange(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return Percentile(data, 0.75) - Percentile(data, 0.25)
}

// SilvermanBandwidth returns the rule-of-thumb Gaussian kernel bandwidth
// 0.9 * min(sd, IQR/1.34) * n^(-1/5).
func SilvermanBandwidth(data []float64) float64 {
	n := len(data)
	if n < 2 {
		return 0
	}
	spread := StdDev(data)
	if iqr := InterquartileRange(data) / 1.34; iqr > 0 && iqr < spread {
		spread = iqr
	}
	return 0.9 * spread * math.Pow(float64(n), -0.2)
}
