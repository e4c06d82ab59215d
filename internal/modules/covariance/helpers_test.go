package covariance

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/aristath/eigenrisk/pkg/formulas"
)

// gaussianReturns draws obs observations of a zero-mean Gaussian with the
// given diagonal variances.
func gaussianReturns(t *testing.T, seed uint64, variances []float64, obs int) ReturnMatrix {
	t.Helper()

	n := len(variances)
	sigma := mat.NewSymDense(n, nil)
	for i, v := range variances {
		sigma.SetSym(i, i, v)
	}
	dist, ok := distmv.NewNormal(make([]float64, n), sigma, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	require.True(t, ok)

	rows := make([][]float64, obs)
	for i := range rows {
		rows[i] = dist.Rand(nil)
	}
	r, err := NewReturnMatrix(labels(n), rows)
	require.NoError(t, err)
	return r
}

// factorReturns draws returns with one common factor loading on every asset.
func factorReturns(t *testing.T, seed uint64, n, obs int, loading float64) ReturnMatrix {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, seed+1))
	rows := make([][]float64, obs)
	for i := range rows {
		market := rng.NormFloat64()
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = loading*market + rng.NormFloat64()
		}
	}
	r, err := NewReturnMatrix(labels(n), rows)
	require.NoError(t, err)
	return r
}

// spikedVariances is 48, 46, ..., 20 followed by unit noise up to n.
func spikedVariances(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
		if i < 15 {
			v[i] = float64(48 - 2*i)
		}
	}
	return v
}

func labels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("A%03d", i)
	}
	return out
}

func diagonal(v []float64) *mat.SymDense {
	m := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		m.SetSym(i, i, x)
	}
	return m
}

func sampleCovariance(r ReturnMatrix) *mat.SymDense {
	var c mat.SymDense
	stat.CovarianceMatrix(&c, r.Data, nil)
	return &c
}

func frobeniusDistance(a, b mat.Matrix) float64 {
	var d mat.Dense
	d.Sub(a, b)
	return mat.Norm(&d, 2)
}

func assertSymmetric(t *testing.T, m mat.Matrix, tol float64) {
	t.Helper()
	r, c := m.Dims()
	require.Equal(t, r, c)
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			require.InDelta(t, m.At(i, j), m.At(j, i), tol)
		}
	}
}

func minEigenvalue(t *testing.T, m mat.Symmetric) float64 {
	t.Helper()
	spectrum, err := Eigendecompose(m, 0)
	require.NoError(t, err)
	return spectrum.Values[len(spectrum.Values)-1]
}

func mpLaw(q float64) formulas.MarchenkoPastur {
	return formulas.MarchenkoPastur{Q: q, Sigma2: 1}
}

func sampleCorrelation(t *testing.T, r ReturnMatrix) *mat.SymDense {
	t.Helper()
	c := sampleCovariance(r)
	n := c.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, c.At(i, j)/math.Sqrt(c.At(i, i)*c.At(j, j)))
		}
	}
	return out
}
