package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracyWidomQuantile(t *testing.T) {
	prev := math.Inf(-1)
	for _, alpha := range SupportedSignificanceLevels() {
		s, err := TracyWidomQuantile(alpha)
		require.NoError(t, err)
		assert.Greater(t, s, prev, "quantiles grow as alpha shrinks")
		prev = s
	}

	s, err := TracyWidomQuantile(0.005)
	require.NoError(t, err)
	assert.Equal(t, 2.4224, s)

	_, err = TracyWidomQuantile(0.2)
	assert.Error(t, err)
}

func TestJohnstoneCentering(t *testing.T) {
	mu, sigma := JohnstoneCentering(500, 100)
	// n*lambda_max / n ~ (1+sqrt(p/n))^2
	assert.InDelta(t, math.Pow(1+math.Sqrt(0.2), 2), mu/500, 0.01)
	assert.Greater(t, sigma, 0.0)
	assert.Less(t, sigma, mu)
}
