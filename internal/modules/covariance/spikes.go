package covariance

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/eigenrisk/pkg/formulas"
)

// SpikeEstimate is the number of eigenvalues separated from the noise bulk
// together with the noise variance estimated alongside it.
type SpikeEstimate struct {
	Count  int     `json:"count" msgpack:"count"`
	Sigma2 float64 `json:"sigma2" msgpack:"sigma2"`
	Method string  `json:"method" msgpack:"method"`
}

// SpikeEstimator estimates the spike count of a covariance spectrum with
// aspect ratio gamma = p/n. values need not be sorted.
type SpikeEstimator interface {
	EstimateSpikes(values []float64, gamma float64) (SpikeEstimate, error)
	Name() string
}

// NewSpikeEstimator returns the estimator registered under method.
func NewSpikeEstimator(method string, alpha float64) (SpikeEstimator, error) {
	switch method {
	case MethodKNTest:
		if alpha == 0 {
			alpha = DefaultAlpha
		}
		if err := validAlpha(alpha); err != nil {
			return nil, err
		}
		return KNTest{Alpha: alpha}, nil
	case MethodMedianFit:
		return MedianFit{}, nil
	default:
		return nil, fmt.Errorf("unknown spike method %q: %w", method, ErrInvalidMethod)
	}
}

// KNTest is the Kritchman-Nadler sequential test: the k-th eigenvalue is a
// spike while it exceeds the Tracy-Widom threshold at significance Alpha,
// with the noise level re-estimated for every k.
type KNTest struct {
	Alpha   float64
	MaxIter int
	Tol     float64
}

func (KNTest) Name() string { return MethodKNTest }

func (kn KNTest) withDefaults() KNTest {
	if kn.Alpha == 0 {
		kn.Alpha = DefaultAlpha
	}
	if kn.MaxIter <= 0 {
		kn.MaxIter = DefaultKNMaxIter
	}
	if kn.Tol <= 0 {
		kn.Tol = DefaultKNTol
	}
	return kn
}

// EstimateSpikes implements SpikeEstimator.
func (kn KNTest) EstimateSpikes(values []float64, gamma float64) (SpikeEstimate, error) {
	kn = kn.withDefaults()
	s, err := formulas.TracyWidomQuantile(kn.Alpha)
	if err != nil {
		return SpikeEstimate{}, fmt.Errorf("%v: %w", err, ErrInvalidConfig)
	}
	if gamma <= 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return SpikeEstimate{}, fmt.Errorf("aspect ratio %v: %w", gamma, ErrInvalidConfig)
	}

	sorted, p, n, err := knSpectrum(values, gamma)
	if err != nil {
		return SpikeEstimate{}, err
	}
	dim := len(sorted)

	for k := 1; k < dim; k++ {
		sigma2, err := kn.noiseLevel(sorted, k, n)
		if err != nil {
			return SpikeEstimate{}, err
		}
		mu, sd := formulas.JohnstoneCentering(n, p-float64(k))
		threshold := sigma2 * (mu + s*sd) / n
		if sorted[k-1] < threshold {
			prev, err := kn.noiseLevel(sorted, k-1, n)
			if err != nil {
				return SpikeEstimate{}, err
			}
			return SpikeEstimate{Count: k - 1, Sigma2: prev, Method: MethodKNTest}, nil
		}
	}
	return SpikeEstimate{}, fmt.Errorf("every eigenvalue tested as a spike: %w", ErrFit)
}

// knSpectrum returns the descending spectrum the test runs on with its
// dimension p and observation count n. When p > n that is the nonzero part
// of the n x n dual, scaled by n/p, with the roles of p and n swapped.
func knSpectrum(values []float64, gamma float64) ([]float64, float64, float64, error) {
	sorted := descending(values)
	p := float64(len(sorted))
	n := p / gamma

	if p > n {
		m := int(math.Round(n))
		if m < 2 {
			return nil, 0, 0, fmt.Errorf("%d observations: %w", m, ErrInsufficientData)
		}
		dual := make([]float64, m)
		for i := range dual {
			dual[i] = sorted[i] * float64(m) / p
		}
		sorted = dual
		p, n = float64(m), p
	}

	if len(sorted) < 2 {
		return nil, 0, 0, fmt.Errorf("%d eigenvalues: %w", len(sorted), ErrInsufficientData)
	}
	return sorted, p, n, nil
}

// noiseLevel solves the Kritchman-Nadler fixed point for the noise variance
// given k spikes among the descending eigenvalues.
func (kn KNTest) noiseLevel(sorted []float64, k int, n float64) (float64, error) {
	p := len(sorted)
	rest := floats.Sum(sorted[k:])
	free := float64(p - k)
	sigma2 := rest / free
	if k == 0 {
		return sigma2, nil
	}

	for iter := 0; iter < kn.MaxIter; iter++ {
		signal := 0.0
		for _, l := range sorted[:k] {
			b := l + sigma2 - sigma2*free/n
			disc := b*b - 4*l*sigma2
			rho := (b + math.Sqrt(math.Max(disc, 0))) / 2
			signal += l - rho
		}
		next := (rest + signal) / free
		if next <= 0 || math.IsNaN(next) {
			return 0, fmt.Errorf("noise variance collapsed at k=%d: %w", k, ErrFit)
		}
		if math.Abs(next-sigma2) <= kn.Tol*sigma2 {
			return next, nil
		}
		sigma2 = next
	}
	return 0, fmt.Errorf("noise fixed point at k=%d after %d iterations: %w", k, kn.MaxIter, ErrFit)
}

// MedianFit matches the median of the bulk to the Marchenko-Pastur median
// over a grid of noise variances. A Freedman-Diaconis histogram seeds the
// lower end of the grid.
type MedianFit struct {
	GridSize int
}

func (MedianFit) Name() string { return MethodMedianFit }

// EstimateSpikes implements SpikeEstimator.
func (mf MedianFit) EstimateSpikes(values []float64, gamma float64) (SpikeEstimate, error) {
	if mf.GridSize <= 0 {
		mf.GridSize = DefaultGridSize
	}
	if mf.GridSize < 2 {
		return SpikeEstimate{}, fmt.Errorf("grid size %d: %w", mf.GridSize, ErrInvalidConfig)
	}
	if gamma <= 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return SpikeEstimate{}, fmt.Errorf("aspect ratio %v: %w", gamma, ErrInvalidConfig)
	}

	sorted := descending(values)
	n := len(sorted)
	if n < MinHistogramSize {
		return SpikeEstimate{}, fmt.Errorf("%d eigenvalues, need %d: %w", n, MinHistogramSize, ErrInsufficientData)
	}

	// eigenvalues past min(p, n) are structural zeros
	m := n
	if obs := int(math.Round(float64(n) / gamma)); obs < m {
		m = obs
	}
	if m < MinHistogramSize {
		return SpikeEstimate{}, fmt.Errorf("%d non-zero eigenvalues, need %d: %w", m, MinHistogramSize, ErrInsufficientData)
	}
	nonzero := sorted[:m]

	hist, err := formulas.FreedmanDiaconisHistogram(nonzero, 0)
	if err != nil {
		if errors.Is(err, formulas.ErrDegenerateHistogram) {
			return SpikeEstimate{}, fmt.Errorf("eigenvalues have zero IQR: %w", ErrInsufficientData)
		}
		return SpikeEstimate{}, err
	}
	k0 := hist.CountAfterFirstGap()
	if k0 > m-2 {
		k0 = m - 2
	}

	edgeFactor := math.Pow(1+math.Sqrt(gamma), 2)
	lo := nonzero[k0] / edgeFactor
	hi := formulas.Mean(sorted)
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return SpikeEstimate{}, fmt.Errorf("spectrum is zero: %w", ErrInsufficientData)
	}

	unitMedian := formulas.MarchenkoPastur{Q: gamma, Sigma2: 1}.Median()

	best, bestDist := 0.0, math.Inf(1)
	bulk := make([]float64, 0, m)
	for g := 0; g < mf.GridSize; g++ {
		sigma2 := lo + (hi-lo)*float64(g)/float64(mf.GridSize-1)
		if sigma2 <= 0 {
			continue
		}
		edge := sigma2 * edgeFactor
		bulk = bulk[:0]
		for _, v := range nonzero {
			if v <= edge {
				bulk = append(bulk, v)
			}
		}
		if len(bulk) == 0 {
			continue
		}
		if d := math.Abs(sigma2*unitMedian - formulas.Median(bulk)); d < bestDist {
			best, bestDist = sigma2, d
		}
	}
	if math.IsInf(bestDist, 1) {
		return SpikeEstimate{}, fmt.Errorf("no grid point leaves a bulk: %w", ErrFit)
	}

	edge := best * edgeFactor
	count := 0
	for _, v := range sorted {
		if v > edge {
			count++
		}
	}
	return SpikeEstimate{Count: count, Sigma2: best, Method: MethodMedianFit}, nil
}

func descending(values []float64) []float64 {
	sorted := formulas.SortedCopy(values)
	floats.Reverse(sorted)
	for i, v := range sorted {
		if v < 0 {
			sorted[i] = 0
		}
	}
	return sorted
}
