package covariance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ShrinkageResult is the output of spiked-covariance shrinkage.
type ShrinkageResult struct {
	Covariance *mat.SymDense
	Norm       Norm
	Pivot      int
	// SpikeCount is the number of leading eigenvalues actually shrunk as
	// spikes; candidates inside the bulk are not counted.
	SpikeCount int
	Sigma2     float64
	Gamma      float64
	Method     string
	// Shrunk holds the whitened shrunk eigenvalue per position of
	// Spectrum.Values. Bulk positions are exactly 1.
	Shrunk []float64
	// Shrinkage is the whitened empirical eigenvalue minus Shrunk.
	Shrinkage []float64
	Spectrum  Spectrum
}

// BulkEdge returns the upper Marchenko-Pastur edge (1+sqrt(gamma))^2 of a
// whitened spectrum.
func BulkEdge(gamma float64) float64 {
	r := 1 + math.Sqrt(gamma)
	return r * r
}

// Shrink applies the shrinker for (norm, pivot) to the top k of the
// descending eigenvalues whitened by sigma2. Spikes are never shrunk below
// the bulk edge; every other position is exactly 1. It also returns the
// number of leading eigenvalues that were above the edge.
func Shrink(values []float64, k int, gamma, sigma2 float64, norm Norm, pivot int) ([]float64, int, error) {
	s, err := lookupShrinker(norm, pivot)
	if err != nil {
		return nil, 0, err
	}
	n := len(values)
	if k < 0 {
		return nil, 0, fmt.Errorf("spike count %d is negative: %w", k, ErrInvalidConfig)
	}
	if gamma <= 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return nil, 0, fmt.Errorf("aspect ratio %v: %w", gamma, ErrInvalidConfig)
	}
	if k >= n {
		return nil, 0, fmt.Errorf("spike count %d with %d eigenvalues: %w", k, n, ErrDegenerateSpike)
	}
	if obs := n2obs(n, gamma); k >= obs {
		return nil, 0, fmt.Errorf("spike count %d with %d observations: %w", k, obs, ErrDegenerateSpike)
	}
	if sigma2 <= 0 || math.IsNaN(sigma2) || math.IsInf(sigma2, 0) {
		return nil, 0, fmt.Errorf("noise variance %v: %w", sigma2, ErrNumerical)
	}

	edge := BulkEdge(gamma)
	shrunk := make([]float64, n)
	effective := 0
	for i := range shrunk {
		shrunk[i] = 1
		if i >= k {
			continue
		}
		lambda := values[i] / sigma2
		if lambda <= edge {
			continue
		}
		eta := s.fn(spikeGeometry(lambda, gamma))
		if math.IsNaN(eta) || math.IsInf(eta, 0) {
			return nil, 0, fmt.Errorf("shrinker %s/%d at %v: %w", norm, pivot, lambda, ErrNumerical)
		}
		shrunk[i] = math.Max(eta, edge)
		effective++
	}
	return shrunk, effective, nil
}

// n2obs recovers the observation count T = N/gamma.
func n2obs(n int, gamma float64) int {
	return int(math.Round(float64(n) / gamma))
}

// EstimateSpikedCovariance shrinks the spiked eigenvalues of the sample
// covariance of r under the configured loss.
func EstimateSpikedCovariance(r ReturnMatrix, opts SpikedOptions) (ShrinkageResult, error) {
	if err := opts.Validate(); err != nil {
		return ShrinkageResult{}, err
	}
	opts = opts.withDefaults()
	if err := r.validate(2); err != nil {
		return ShrinkageResult{}, err
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, r.Data, nil)
	gamma := opts.Gamma
	if gamma == 0 {
		gamma = r.AspectRatio()
	}
	return ShrinkCovariance(&cov, gamma, opts)
}

// ShrinkCovariance runs the spiked pipeline on a sample covariance matrix
// with aspect ratio gamma.
func ShrinkCovariance(cov mat.Symmetric, gamma float64, opts SpikedOptions) (ShrinkageResult, error) {
	if err := opts.Validate(); err != nil {
		return ShrinkageResult{}, err
	}
	opts = opts.withDefaults()
	if gamma <= 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return ShrinkageResult{}, fmt.Errorf("aspect ratio %v: %w", gamma, ErrInvalidConfig)
	}
	n := cov.SymmetricDim()
	if opts.NumSpikes != nil && *opts.NumSpikes >= n {
		return ShrinkageResult{}, fmt.Errorf("numSpikes %d with %d assets: %w", *opts.NumSpikes, n, ErrDegenerateSpike)
	}

	spectrum, err := Eigendecompose(cov, DefaultSymmetryTol)
	if err != nil {
		return ShrinkageResult{}, fmt.Errorf("failed to decompose covariance: %w", err)
	}

	estimate, err := opts.spikes(spectrum.Values, gamma)
	if err != nil {
		return ShrinkageResult{}, err
	}

	shrunk, effective, err := Shrink(spectrum.Values, estimate.Count, gamma, estimate.Sigma2, opts.Norm, opts.Pivot)
	if err != nil {
		return ShrinkageResult{}, err
	}

	scaled := make([]float64, n)
	shrinkage := make([]float64, n)
	for i := range shrunk {
		scaled[i] = estimate.Sigma2 * shrunk[i]
		shrinkage[i] = spectrum.Values[i]/estimate.Sigma2 - shrunk[i]
	}

	pivot := opts.Pivot
	if !opts.Norm.IsMatrixNorm() {
		pivot = 0
	}
	return ShrinkageResult{
		Covariance: spectrum.Reconstruct(scaled),
		Norm:       opts.Norm,
		Pivot:      pivot,
		SpikeCount: effective,
		Sigma2:     estimate.Sigma2,
		Gamma:      gamma,
		Method:     estimate.Method,
		Shrunk:     shrunk,
		Shrinkage:  shrinkage,
		Spectrum:   spectrum,
	}, nil
}

// spikes returns the configured spike count and noise variance. A fixed
// NumSpikes takes its noise variance from the Kritchman-Nadler estimator.
func (o SpikedOptions) spikes(values []float64, gamma float64) (SpikeEstimate, error) {
	if o.NumSpikes != nil {
		k := *o.NumSpikes
		if obs := n2obs(len(values), gamma); k >= obs {
			return SpikeEstimate{}, fmt.Errorf("numSpikes %d with %d observations: %w", k, obs, ErrDegenerateSpike)
		}
		kn := KNTest{Alpha: o.Alpha}.withDefaults()
		sorted, _, n, err := knSpectrum(values, gamma)
		if err != nil {
			return SpikeEstimate{}, err
		}
		sigma2, err := kn.noiseLevel(sorted, k, n)
		if err != nil {
			return SpikeEstimate{}, err
		}
		return SpikeEstimate{Count: k, Sigma2: sigma2, Method: "fixed"}, nil
	}

	est, err := NewSpikeEstimator(o.Method, o.Alpha)
	if err != nil {
		return SpikeEstimate{}, err
	}
	if mf, ok := est.(MedianFit); ok {
		mf.GridSize = o.GridSize
		est = mf
	}
	return est.EstimateSpikes(values, gamma)
}
