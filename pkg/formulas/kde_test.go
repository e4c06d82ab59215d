package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/integrate/quad"
)

func TestGaussianKDE(t *testing.T) {
	points := []float64{-1, 0, 0.5, 2}

	t.Run("single point is a normal density", func(t *testing.T) {
		got := GaussianKDE([]float64{0}, 1, 0)
		assert.InDelta(t, 1/math.Sqrt(2*math.Pi), got, 1e-12)
	})

	t.Run("integrates to one", func(t *testing.T) {
		mass := quad.Fixed(func(x float64) float64 { return GaussianKDE(points, 0.4, x) }, -8, 10, 400, nil, 0)
		assert.InDelta(t, 1, mass, 1e-6)
	})

	t.Run("degenerate inputs", func(t *testing.T) {
		assert.Zero(t, GaussianKDE(nil, 1, 0))
		assert.Zero(t, GaussianKDE(points, 0, 0))
	})
}
