package covariance

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultSymmetryTol is the relative asymmetry accepted by Eigendecompose.
const DefaultSymmetryTol = 1e-8

// Spectrum is an eigendecomposition with values sorted descending.
// Column j of Vectors is the unit eigenvector of Values[j].
type Spectrum struct {
	Values  []float64
	Vectors *mat.Dense
}

// Eigendecompose returns the descending spectrum of a symmetric matrix.
// Each eigenvector is signed so that its largest-magnitude entry is positive.
func Eigendecompose(m mat.Matrix, tol float64) (Spectrum, error) {
	r, c := m.Dims()
	if r != c || r == 0 {
		return Spectrum{}, fmt.Errorf("matrix is %dx%d, want square: %w", r, c, ErrNumerical)
	}
	if tol <= 0 {
		tol = DefaultSymmetryTol
	}

	scale := math.Max(1, mat.Norm(m, math.Inf(1)))
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			a, b := m.At(i, j), m.At(j, i)
			if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
				return Spectrum{}, fmt.Errorf("non-finite entry at (%d,%d): %w", i, j, ErrNumerical)
			}
			if math.Abs(a-b) > tol*scale {
				return Spectrum{}, fmt.Errorf("asymmetry %.3g at (%d,%d): %w", math.Abs(a-b), i, j, ErrNumerical)
			}
			sym.SetSym(i, j, (a+b)/2)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return Spectrum{}, fmt.Errorf("symmetric eigendecomposition failed: %w", ErrNumerical)
	}

	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// gonum returns ascending order
	order := make([]int, r)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	spectrum := Spectrum{
		Values:  make([]float64, r),
		Vectors: mat.NewDense(r, r, nil),
	}
	for j, src := range order {
		spectrum.Values[j] = values[src]
		sign := 1.0
		best := 0.0
		for i := 0; i < r; i++ {
			if v := vecs.At(i, src); math.Abs(v) > best {
				best = math.Abs(v)
				sign = math.Copysign(1, v)
			}
		}
		for i := 0; i < r; i++ {
			spectrum.Vectors.Set(i, j, sign*vecs.At(i, src))
		}
	}
	return spectrum, nil
}

// Len returns the number of eigenpairs.
func (s Spectrum) Len() int {
	return len(s.Values)
}

// Trace returns the sum of the eigenvalues.
func (s Spectrum) Trace() float64 {
	return floats.Sum(s.Values)
}

// Reconstruct returns V diag(values) V^T as an exactly symmetric matrix.
// values must have one entry per eigenvector.
func (s Spectrum) Reconstruct(values []float64) *mat.SymDense {
	n := len(s.Values)
	if len(values) != n {
		panic(fmt.Sprintf("covariance: %d values for %d eigenvectors", len(values), n))
	}

	scaled := mat.NewDense(n, n, nil)
	scaled.Apply(func(i, j int, v float64) float64 { return v * values[j] }, s.Vectors)

	var full mat.Dense
	full.Mul(scaled, s.Vectors.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
	}
	return out
}
