package formulas

import "gonum.org/v1/gonum/stat/distuv"

// GaussianKDE evaluates a Gaussian kernel density estimate of points at x.
func GaussianKDE(points []float64, bandwidth, x float64) float64 {
	if len(points) == 0 || bandwidth <= 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		sum += distuv.Normal{Mu: p, Sigma: bandwidth}.Prob(x)
	}
	return sum / float64(len(points))
}
