package covariance

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/eigenrisk/pkg/formulas"
)

// MPFit is a Marchenko-Pastur fit of an eigenvalue spectrum.
type MPFit struct {
	Sigma2    float64 `json:"sigma2" msgpack:"sigma2"`
	LambdaMin float64 `json:"lambda_min" msgpack:"lambda_min"` // 0 when Q >= 1
	LambdaMax float64 `json:"lambda_max" msgpack:"lambda_max"`
	Q         float64 `json:"q" msgpack:"q"`
	// Signal holds indices into the input values classified as signal,
	// largest eigenvalue first.
	Signal []int  `json:"signal" msgpack:"signal"`
	Fit    string `json:"fit" msgpack:"fit"`
	Cutoff string `json:"cutoff" msgpack:"cutoff"`
	// Iterations counts the candidate bulk fits evaluated.
	Iterations int `json:"iterations" msgpack:"iterations"`
}

// IsSignal reports whether index i was classified as signal.
func (f MPFit) IsSignal(i int) bool {
	for _, s := range f.Signal {
		if s == i {
			return true
		}
	}
	return false
}

// FitMarchenkoPastur fits the noise variance of an eigenvalue spectrum with
// aspect ratio q = N/T and classifies the eigenvalues above the fitted bulk
// edge as signal.
func FitMarchenkoPastur(values []float64, q float64, opts MPOptions) (MPFit, error) {
	if err := opts.Validate(); err != nil {
		return MPFit{}, err
	}
	opts = opts.withDefaults()
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return MPFit{}, fmt.Errorf("aspect ratio %v: %w", q, ErrInvalidConfig)
	}

	n := len(values)
	if n < opts.MinBulk+1 {
		return MPFit{}, fmt.Errorf("%d eigenvalues, need at least %d: %w", n, opts.MinBulk+1, ErrInsufficientData)
	}

	// descending copy, remembering original positions
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })
	sorted := make([]float64, n)
	for i, src := range order {
		v := values[src]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return MPFit{}, fmt.Errorf("non-finite eigenvalue: %w", ErrNumerical)
		}
		// round-off negatives of a PSD spectrum
		sorted[i] = math.Max(v, 0)
	}

	f := &mpFitter{
		sorted: sorted,
		rank:   numericalRank(sorted),
		q:      q,
		opts:   opts,
		unit:   formulas.MarchenkoPastur{Q: q, Sigma2: 1},
	}
	if f.rank < opts.MinBulk+1 {
		return MPFit{}, fmt.Errorf("%d non-zero eigenvalues, need at least %d: %w", f.rank, opts.MinBulk+1, ErrInsufficientData)
	}
	if opts.Fit == FitQuantile {
		f.quantiles = unitQuantiles(f.unit, n)
	}

	var (
		sigma2 float64
		k      int
		iters  int
		err    error
	)
	switch opts.Cutoff {
	case CutoffMax:
		sigma2, err = f.fitBulk(1)
		iters = 1
	case CutoffEach:
		sigma2, k, iters, err = f.each()
	}
	if err != nil {
		return MPFit{}, err
	}

	result := MPFit{
		Sigma2: sigma2,
		Q:      q,
		Fit:    opts.Fit,
		Cutoff: opts.Cutoff,
	}
	result.LambdaMin, result.LambdaMax = bulkEdges(sigma2, q)
	result.Iterations = iters

	switch opts.Cutoff {
	case CutoffMax:
		for i, v := range sorted {
			if v > result.LambdaMax {
				result.Signal = append(result.Signal, order[i])
			}
		}
	case CutoffEach:
		for i := 0; i < k; i++ {
			result.Signal = append(result.Signal, order[i])
		}
	}
	if result.Signal == nil {
		result.Signal = []int{}
	}
	return result, nil
}

func bulkEdges(sigma2, q float64) (float64, float64) {
	lo, hi := formulas.MarchenkoPastur{Q: q, Sigma2: sigma2}.Edges()
	if q >= 1 {
		lo = 0
	}
	return lo, hi
}

// rankTol is the relative size below which an eigenvalue counts as a
// structural zero.
const rankTol = 1e-10

// densityBoundTol marks a density fit that ended on the edge of its search
// interval.
const densityBoundTol = 1e-6

// singularQ is the aspect ratio from which the MP density near zero is too
// steep for a Gaussian KDE to follow.
const singularQ = 0.8

// numericalRank counts the descending values above rankTol times the largest.
func numericalRank(sorted []float64) int {
	if len(sorted) == 0 || sorted[0] <= 0 {
		return 0
	}
	cut := rankTol * sorted[0]
	rank := 0
	for rank < len(sorted) && sorted[rank] > cut {
		rank++
	}
	return rank
}

type mpFitter struct {
	sorted    []float64
	rank      int // eigenvalues that are not structural zeros
	q         float64
	opts      MPOptions
	unit      formulas.MarchenkoPastur
	quantiles []float64 // unit-law quantile of each descending rank
}

// unitQuantiles returns the sigma2 = 1 quantile at the plotting position
// (N - i - 0.5)/N of descending rank i.
func unitQuantiles(unit formulas.MarchenkoPastur, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = unit.Quantile((float64(n-i) - 0.5) / float64(n))
	}
	return out
}

// fitBulk estimates sigma2 from the eigenvalues left after excluding the
// top k. Structural zeros do not count towards MinBulk.
func (f *mpFitter) fitBulk(k int) (float64, error) {
	if f.rank-k < f.opts.MinBulk {
		return 0, fmt.Errorf("%d non-zero bulk eigenvalues left, need %d: %w", f.rank-k, f.opts.MinBulk, ErrInsufficientData)
	}
	switch f.opts.Fit {
	case FitDensity:
		return f.fitDensity(f.sorted[k:])
	default:
		return f.fitQuantile(k)
	}
}

// fitQuantile is the least-squares slope of the bulk eigenvalues on the
// unit-law quantiles of their ranks. MP is a scale family in sigma2, so the
// fit is closed form.
func (f *mpFitter) fitQuantile(k int) (float64, error) {
	num, den := 0.0, 0.0
	for i := k; i < len(f.sorted); i++ {
		num += f.sorted[i] * f.quantiles[i]
		den += f.quantiles[i] * f.quantiles[i]
	}
	if den <= 0 || num <= 0 {
		return 0, fmt.Errorf("quantile fit has no spread: %w", ErrFit)
	}
	return num / den, nil
}

// fitDensity minimises the squared distance between the MP density and a
// Gaussian KDE of the non-zero bulk, over sigma2 in (0, 2*mean). From
// singularQ on, points within two bandwidths of zero are left out of the
// comparison. A minimum on either end of the interval is ErrFit.
func (f *mpFitter) fitDensity(bulk []float64) (float64, error) {
	mean := formulas.Mean(bulk)
	if mean <= 0 {
		return 0, fmt.Errorf("bulk has zero mean: %w", ErrFit)
	}

	points := make([]float64, 0, len(bulk))
	for _, v := range bulk {
		if v > 1e-12*mean {
			points = append(points, v)
		}
	}
	if len(points) < 2 {
		return 0, fmt.Errorf("bulk has %d non-zero eigenvalues: %w", len(points), ErrFit)
	}
	bw := formulas.SilvermanBandwidth(points)
	if bw <= 0 {
		return 0, fmt.Errorf("bulk has zero spread: %w", ErrFit)
	}
	var grid, kde []float64
	for _, x := range points {
		if f.q >= singularQ && x <= 2*bw {
			continue
		}
		grid = append(grid, x)
		kde = append(kde, formulas.GaussianKDE(points, bw, x))
	}
	if len(grid) < 2 {
		return 0, fmt.Errorf("bulk has %d eigenvalues clear of zero: %w", len(grid), ErrFit)
	}

	upper := 2 * mean
	sigma2 := func(u float64) float64 { return upper / (1 + math.Exp(-u)) }
	renorm := 1 / (1 - f.unit.Atom())

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			law := formulas.MarchenkoPastur{Q: f.q, Sigma2: sigma2(x[0])}
			sse := 0.0
			for i, p := range grid {
				d := law.PDF(p)*renorm - kde[i]
				sse += d * d
			}
			return sse
		},
	}
	settings := &optimize.Settings{MajorIterations: f.opts.MaxIter}

	result, err := optimize.Minimize(problem, []float64{0}, settings, &optimize.NelderMead{})
	if err != nil {
		return 0, fmt.Errorf("density fit: %v: %w", err, ErrFit)
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit, optimize.Failure:
		return 0, fmt.Errorf("density fit stopped with %v: %w", result.Status, ErrFit)
	}
	fitted := sigma2(result.X[0])
	if fitted >= (1-densityBoundTol)*upper || fitted <= densityBoundTol*upper {
		return 0, fmt.Errorf("density fit ended on the search bound at sigma2 %v: %w", fitted, ErrFit)
	}
	return fitted, nil
}

// each grows the signal set one eigenvalue at a time until the largest
// remaining eigenvalue lies inside the fitted bulk, or NumEig is reached.
func (f *mpFitter) each() (sigma2 float64, k, iters int, err error) {
	maxK := f.rank - f.opts.MinBulk
	if f.opts.NumEig > 0 && f.opts.NumEig < maxK {
		maxK = f.opts.NumEig
	}

	if !f.opts.Parallel {
		for k = 0; k <= maxK; k++ {
			s, err := f.fitBulk(k)
			if err != nil {
				return 0, 0, k + 1, err
			}
			if k == maxK || f.inBulk(k, s) {
				return s, k, k + 1, nil
			}
		}
	}

	type candidate struct {
		sigma2 float64
		err    error
	}
	candidates := make([]candidate, maxK+1)

	workers := f.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for k := 0; k <= maxK; k++ {
		g.Go(func() error {
			s, err := f.fitBulk(k)
			candidates[k] = candidate{sigma2: s, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for k = 0; k <= maxK; k++ {
		c := candidates[k]
		if c.err != nil {
			return 0, 0, k + 1, c.err
		}
		if k == maxK || f.inBulk(k, c.sigma2) {
			return c.sigma2, k, k + 1, nil
		}
	}
	// unreachable: k == maxK always returns
	return 0, 0, maxK + 1, fmt.Errorf("cutoff search exhausted: %w", ErrFit)
}

func (f *mpFitter) inBulk(k int, sigma2 float64) bool {
	_, hi := bulkEdges(sigma2, f.q)
	return f.sorted[k] <= hi
}
