package covariance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnMatrix(t *testing.T) {
	r, err := NewReturnMatrix([]string{"A", "B"}, [][]float64{{0.01, 0.02}, {-0.01, 0.00}, {0.03, -0.02}})
	require.NoError(t, err)

	obs, n := r.Dims()
	assert.Equal(t, 3, obs)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 2.0/3.0, r.AspectRatio(), 1e-12)
	assert.Equal(t, -0.02, r.Data.At(2, 1))

	_, err = NewReturnMatrix([]string{"A", "B"}, [][]float64{{0.01}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewReturnMatrix([]string{"A"}, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = NewReturnMatrix([]string{"A"}, [][]float64{{math.Inf(1)}})
	assert.ErrorIs(t, err, ErrNumerical)
}

func TestReturnsFromSeries(t *testing.T) {
	series := map[string][]float64{
		"X": {0.1, 0.2},
		"Y": {0.3, 0.4},
	}
	r, err := ReturnsFromSeries(series, []string{"Y", "X"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "X"}, r.Labels)
	assert.Equal(t, 0.3, r.Data.At(0, 0))
	assert.Equal(t, 0.2, r.Data.At(1, 1))

	_, err = ReturnsFromSeries(series, []string{"Z"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ReturnsFromSeries(map[string][]float64{"X": {1}, "Y": {1, 2}}, []string{"X", "Y"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReturnsFromPricesFillsGaps(t *testing.T) {
	prices := map[string][]float64{
		"A": {math.NaN(), 100, 110, math.NaN(), 121},
		"B": {50, 50, 50, 50, 55},
	}
	r, err := ReturnsFromPrices(prices, []string{"A", "B"})
	require.NoError(t, err)

	obs, _ := r.Dims()
	require.Equal(t, 4, obs)
	assert.InDelta(t, 0.0, r.Data.At(0, 0), 1e-12) // back-filled
	assert.InDelta(t, 0.1, r.Data.At(1, 0), 1e-12)
	assert.InDelta(t, 0.0, r.Data.At(2, 0), 1e-12) // forward-filled
	assert.InDelta(t, 0.1, r.Data.At(3, 0), 1e-12)
	assert.InDelta(t, 0.1, r.Data.At(3, 1), 1e-12)
}
