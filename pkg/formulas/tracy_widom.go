package formulas

import (
	"fmt"
	"math"
)

// tracyWidom1Quantiles holds upper quantiles s(alpha) of the Tracy-Widom
// distribution for real matrices (beta = 1): P(TW1 > s) = alpha.
var tracyWidom1Quantiles = map[float64]float64{
	0.10:  0.4501,
	0.05:  0.9793,
	0.025: 1.4538,
	0.01:  2.0234,
	0.005: 2.4224,
	0.001: 3.2724,
}

// TracyWidomQuantile returns s(alpha) for the supported significance levels.
func TracyWidomQuantile(alpha float64) (float64, error) {
	for a, s := range tracyWidom1Quantiles {
		if math.Abs(a-alpha) < 1e-12 {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unsupported significance level %g", alpha)
}

// SupportedSignificanceLevels lists the alphas with a tabulated quantile.
func SupportedSignificanceLevels() []float64 {
	return []float64{0.10, 0.05, 0.025, 0.01, 0.005, 0.001}
}

// JohnstoneCentering returns the centring mu and scaling sigma of the largest
// eigenvalue of an n-observation, p-variable white Wishart matrix (Johnstone 2001).
// n*lambda_max is approximately mu + sigma*TW1.
func JohnstoneCentering(n, p float64) (mu, sigma float64) {
	a := math.Sqrt(n - 0.5)
	b := math.Sqrt(p - 0.5)
	mu = (a + b) * (a + b)
	sigma = (a + b) * math.Cbrt(1/a+1/b)
	return mu, sigma
}
