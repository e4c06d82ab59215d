package formulas

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerateHistogram is returned when the data has no spread to bin.
var ErrDegenerateHistogram = errors.New("formulas: data has zero spread")

// Histogram is a fixed-width binning of a sample.
type Histogram struct {
	Edges  []float64 // len(Counts)+1 ascending bin edges
	Counts []int
	Width  float64
}

// FreedmanDiaconisWidth returns the bin width 2 * IQR * n^(-1/3).
func FreedmanDiaconisWidth(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return 2 * InterquartileRange(data) * math.Pow(float64(len(data)), -1.0/3.0)
}

// FreedmanDiaconisHistogram bins data between its min and max using the
// Freedman-Diaconis rule for the number of bins (rounded up, capped at maxBins).
func FreedmanDiaconisHistogram(data []float64, maxBins int) (Histogram, error) {
	if len(data) == 0 {
		return Histogram{}, ErrDegenerateHistogram
	}
	sorted := SortedCopy(data)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	width := FreedmanDiaconisWidth(sorted)
	if width <= 0 || hi <= lo {
		return Histogram{}, ErrDegenerateHistogram
	}

	bins := int(math.Ceil((hi - lo) / width))
	if bins < 1 {
		bins = 1
	}
	if maxBins > 0 && bins > maxBins {
		bins = maxBins
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)
	edges[bins] = hi
	// stat.Histogram bins are half-open, so the last divider sits just past hi
	dividers := make([]float64, bins+1)
	copy(dividers, edges)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	weights := stat.Histogram(nil, dividers, sorted, nil)
	counts := make([]int, bins)
	for i, w := range weights {
		counts[i] = int(w)
	}

	return Histogram{Edges: edges, Counts: counts, Width: (hi - lo) / float64(bins)}, nil
}

// CountAfterFirstGap returns the number of observations in bins located after
// the first empty bin. Zero when no bin is empty.
func (h Histogram) CountAfterFirstGap() int {
	for i, c := range h.Counts {
		if c != 0 {
			continue
		}
		total := 0
		for _, after := range h.Counts[i+1:] {
			total += after
		}
		return total
	}
	return 0
}
