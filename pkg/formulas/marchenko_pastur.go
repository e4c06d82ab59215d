package formulas

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// mpQuadNodes is the Gauss-Legendre order used for the MP CDF.
const mpQuadNodes = 64

// mpBisectSteps bounds the quantile search; 80 halvings of [0, pi] exhaust float64.
const mpBisectSteps = 80

// MarchenkoPastur is the limiting eigenvalue law of a sample covariance of
// pure noise with aspect ratio Q = N/T and noise variance Sigma2.
//
// For Q > 1 the law has an atom of mass 1-1/Q at zero; PDF only describes the
// continuous part.
type MarchenkoPastur struct {
	Q      float64
	Sigma2 float64
}

// Edges returns the support [a, b] of the continuous part.
func (mp MarchenkoPastur) Edges() (float64, float64) {
	sq := math.Sqrt(mp.Q)
	return mp.Sigma2 * (1 - sq) * (1 - sq), mp.Sigma2 * (1 + sq) * (1 + sq)
}

// Atom returns the probability mass at zero.
func (mp MarchenkoPastur) Atom() float64 {
	if mp.Q <= 1 {
		return 0
	}
	return 1 - 1/mp.Q
}

// PDF evaluates the density of the continuous part at x.
func (mp MarchenkoPastur) PDF(x float64) float64 {
	a, b := mp.Edges()
	if x <= a || x >= b || x <= 0 {
		return 0
	}
	return math.Sqrt((b-x)*(x-a)) / (2 * math.Pi * mp.Sigma2 * mp.Q * x)
}

// CDF returns P(X <= x), atom included.
func (mp MarchenkoPastur) CDF(x float64) float64 {
	if x < 0 {
		return 0
	}
	a, b := mp.Edges()
	atom := mp.Atom()
	if x <= a {
		return atom
	}
	if x >= b {
		return 1
	}
	return math.Min(1, atom+mp.continuousMass(mp.theta(x)))
}

// Quantile returns the smallest x with CDF(x) >= p.
func (mp MarchenkoPastur) Quantile(p float64) float64 {
	a, b := mp.Edges()
	atom := mp.Atom()
	switch {
	case p <= 0:
		if atom > 0 {
			return 0
		}
		return a
	case p >= 1:
		return b
	case atom > 0 && p <= atom:
		return 0
	}

	target := p - atom
	lo, hi := 0.0, math.Pi
	for i := 0; i < mpBisectSteps; i++ {
		mid := (lo + hi) / 2
		if mp.continuousMass(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return mp.at((lo + hi) / 2)
}

// Median returns the median of the continuous part, i.e. the quantile that
// splits the non-zero eigenvalues in half.
func (mp MarchenkoPastur) Median() float64 {
	atom := mp.Atom()
	return mp.Quantile(atom + (1-atom)/2)
}

// Mean returns the mean of the law (Sigma2 for any Q).
func (mp MarchenkoPastur) Mean() float64 {
	return mp.Sigma2
}

// x = m - r cos(theta) maps [0, pi] onto [a, b] and cancels the square-root
// endpoints of the density.
func (mp MarchenkoPastur) at(theta float64) float64 {
	a, b := mp.Edges()
	m, r := (a+b)/2, (b-a)/2
	return m - r*math.Cos(theta)
}

func (mp MarchenkoPastur) theta(x float64) float64 {
	a, b := mp.Edges()
	m, r := (a+b)/2, (b-a)/2
	c := (m - x) / r
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

func (mp MarchenkoPastur) continuousMass(theta float64) float64 {
	if theta <= 0 {
		return 0
	}
	a, b := mp.Edges()
	m, r := (a+b)/2, (b-a)/2
	scale := r * r / (2 * math.Pi * mp.Sigma2 * mp.Q)
	f := func(t float64) float64 {
		x := m - r*math.Cos(t)
		if x <= 0 {
			// Q == 1: sin^2/(r(1-cos)) -> (1+cos)/r as x -> 0
			return scale * (1 + math.Cos(t)) / r
		}
		s := math.Sin(t)
		return scale * s * s / x
	}
	return quad.Fixed(f, 0, theta, mpQuadNodes, quad.Legendre{}, 0)
}
