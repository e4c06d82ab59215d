package covariance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RMTResult is the output of RMT denoising.
//
// Under EigenTreat "average" the trace of Correlation equals the trace of the
// sample correlation. Under "delete" the noise eigenvalues are zeroed and the
// trace drops by their sum.
type RMTResult struct {
	Covariance  *mat.SymDense
	Correlation *mat.SymDense
	// Spectrum is the eigendecomposition of the sample correlation.
	Spectrum Spectrum
	// Denoised holds the eigenvalues used for reconstruction, aligned with
	// Spectrum.Values.
	Denoised    []float64
	MP          MPFit
	Signal      []int
	EigenTreat  string
	TraceBefore float64
	TraceAfter  float64
}

// EstimateRMT denoises the sample covariance of r by fitting the
// Marchenko-Pastur law to the spectrum of its correlation matrix.
func EstimateRMT(r ReturnMatrix, opts RMTOptions) (RMTResult, error) {
	if err := opts.Validate(); err != nil {
		return RMTResult{}, err
	}
	if err := r.validate(2); err != nil {
		return RMTResult{}, err
	}

	t, n := r.Dims()
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, r.Data, nil)

	stds := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v <= 0 || math.IsNaN(v) {
			return RMTResult{}, fmt.Errorf("asset %q has zero variance: %w", r.Labels[i], ErrNumerical)
		}
		stds[i] = math.Sqrt(v)
	}
	corr := mat.NewSymDense(n, nil)
	stat.CorrelationMatrix(corr, r.Data, nil)

	res, err := Denoise(corr, t, opts)
	if err != nil {
		return RMTResult{}, err
	}
	res.Covariance = rescale(res.Correlation, stds)
	return res, nil
}

// Denoise runs the RMT pipeline on a correlation matrix estimated from t
// observations. The returned Covariance equals the denoised correlation.
func Denoise(corr mat.Symmetric, t int, opts RMTOptions) (RMTResult, error) {
	if err := opts.Validate(); err != nil {
		return RMTResult{}, err
	}
	opts = opts.withDefaults()

	n := corr.SymmetricDim()
	q := opts.Q
	if q == 0 {
		if t <= 0 {
			return RMTResult{}, fmt.Errorf("need observation count or Q: %w", ErrInsufficientData)
		}
		q = float64(n) / float64(t)
	}

	spectrum, err := Eigendecompose(corr, DefaultSymmetryTol)
	if err != nil {
		return RMTResult{}, fmt.Errorf("failed to decompose correlation: %w", err)
	}

	fit, err := FitMarchenkoPastur(spectrum.Values, q, opts.MP)
	if err != nil {
		return RMTResult{}, fmt.Errorf("failed to fit Marchenko-Pastur: %w", err)
	}

	denoised := treatNoise(spectrum.Values, fit, opts.EigenTreat)
	c := spectrum.Reconstruct(denoised)

	return RMTResult{
		Covariance:  c,
		Correlation: c,
		Spectrum:    spectrum,
		Denoised:    denoised,
		MP:          fit,
		Signal:      fit.Signal,
		EigenTreat:  opts.EigenTreat,
		TraceBefore: spectrum.Trace(),
		TraceAfter:  mat.Trace(c),
	}, nil
}

func treatNoise(values []float64, fit MPFit, treat string) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	noise := make([]int, 0, len(values))
	noiseValues := make([]float64, 0, len(values))
	for i, v := range values {
		if !fit.IsSignal(i) {
			noise = append(noise, i)
			noiseValues = append(noiseValues, v)
		}
	}
	if len(noise) == 0 {
		return out
	}

	replacement := 0.0
	if treat == EigenTreatAverage {
		replacement = floats.Sum(noiseValues) / float64(len(noise))
	}
	for _, i := range noise {
		out[i] = replacement
	}
	return out
}

// rescale returns D c D with D = diag(stds).
func rescale(c mat.Symmetric, stds []float64) *mat.SymDense {
	n := c.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, c.At(i, j)*stds[i]*stds[j])
		}
	}
	return out
}
