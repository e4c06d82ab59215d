package covariance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Norm names a loss family for spike shrinkage. The matrix norms combine
// with a pivot; the statistical losses do not.
type Norm string

const (
	Frobenius Norm = "Frobenius"
	Operator  Norm = "Operator"
	Nuclear   Norm = "Nuclear"

	Stein      Norm = "Stein"
	Entropy    Norm = "Entropy"
	Divergence Norm = "Divergence"
	Frechet    Norm = "Frechet"
	Affinity   Norm = "Affinity"
)

// MaxPivot is the number of pivots defined for the matrix norms.
const MaxPivot = 7

// Pivots, for the 2x2 block A = diag(l, 1) and its estimate B:
//
//	1  A - B
//	2  A^-1 - B^-1
//	3  A^-1 B - I
//	4  B^-1 A - I
//	5  A^-1 B + B^-1 A - 2I
//	6  A^-1/2 B A^-1/2 - I
//	7  log(A^-1/2 B A^-1/2)
var pivotNames = [MaxPivot + 1]string{
	"",
	"A-B",
	"inv(A)-inv(B)",
	"inv(A)B-I",
	"inv(B)A-I",
	"inv(A)B+inv(B)A-2I",
	"A^-1/2 B A^-1/2-I",
	"log(A^-1/2 B A^-1/2)",
}

// Valid reports whether n is a supported loss.
func (n Norm) Valid() bool {
	switch n {
	case Frobenius, Operator, Nuclear, Stein, Entropy, Divergence, Frechet, Affinity:
		return true
	}
	return false
}

// IsMatrixNorm reports whether the loss takes a pivot.
func (n Norm) IsMatrixNorm() bool {
	return n == Frobenius || n == Operator || n == Nuclear
}

// ParseNorm matches s case-insensitively against the supported losses.
func ParseNorm(s string) (Norm, error) {
	for _, n := range []Norm{Frobenius, Operator, Nuclear, Stein, Entropy, Divergence, Frechet, Affinity} {
		if strings.EqualFold(string(n), s) {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown norm %q: %w", s, ErrInvalidNorm)
}

type lossKey struct {
	norm  Norm
	pivot int
}

// spike holds the population spike l and the squared cosine c2 and sine s2
// between empirical and population eigenvectors.
type spike struct {
	l, c2, s2 float64
}

type shrinker struct {
	closed bool
	fn     func(sp spike) float64
}

// goldenSteps shrinks the search interval by 0.618^120.
const goldenSteps = 120

var shrinkers = buildShrinkers()

func buildShrinkers() map[lossKey]shrinker {
	closed := func(fn func(sp spike) float64) shrinker { return shrinker{closed: true, fn: fn} }
	atLeastOne := func(v float64) float64 { return math.Max(v, 1) }

	reg := map[lossKey]shrinker{
		{Frobenius, 1}: closed(func(sp spike) float64 { return sp.l*sp.c2 + sp.s2 }),
		{Frobenius, 2}: closed(func(sp spike) float64 { return sp.l / (sp.c2 + sp.l*sp.s2) }),
		{Frobenius, 3}: closed(func(sp spike) float64 {
			return (sp.l*sp.c2 + sp.l*sp.l*sp.s2) / (sp.c2 + sp.l*sp.l*sp.s2)
		}),
		{Frobenius, 4}: closed(func(sp spike) float64 {
			return (sp.l*sp.l*sp.c2 + sp.s2) / (sp.l*sp.c2 + sp.s2)
		}),
		{Frobenius, 6}: closed(func(sp spike) float64 {
			d := sp.c2 + sp.l*sp.s2
			return 1 + (sp.l-1)*sp.c2/(d*d)
		}),

		{Operator, 1}: closed(func(sp spike) float64 { return sp.l }),
		{Operator, 2}: closed(func(sp spike) float64 { return sp.l }),
		{Operator, 6}: closed(func(sp spike) float64 { return 1 + (sp.l-1)/(sp.c2+sp.l*sp.s2) }),

		{Nuclear, 1}: closed(func(sp spike) float64 { return atLeastOne(1 + (sp.l-1)*(1-2*sp.s2)) }),
		{Nuclear, 2}: closed(func(sp spike) float64 { return atLeastOne(sp.l / (sp.c2 + (2*sp.l-1)*sp.s2)) }),
		{Nuclear, 3}: closed(func(sp spike) float64 { return atLeastOne(sp.l / (sp.c2 + sp.l*sp.l*sp.s2)) }),
		{Nuclear, 4}: closed(func(sp spike) float64 { return atLeastOne((sp.l*sp.l*sp.c2 + sp.s2) / sp.l) }),
		{Nuclear, 6}: closed(func(sp spike) float64 {
			d := sp.c2 + sp.l*sp.s2
			return atLeastOne(1 + (sp.l-1)*(sp.c2-sp.l*sp.s2)/(d*d))
		}),

		{Stein, 0}:   closed(func(sp spike) float64 { return sp.l / (sp.c2 + sp.l*sp.s2) }),
		{Entropy, 0}: closed(func(sp spike) float64 { return sp.l*sp.c2 + sp.s2 }),
		{Divergence, 0}: closed(func(sp spike) float64 {
			return math.Sqrt((sp.l*sp.l*sp.c2 + sp.l*sp.s2) / (sp.c2 + sp.l*sp.s2))
		}),
		{Frechet, 0}: closed(func(sp spike) float64 {
			r := math.Sqrt(sp.l)*sp.c2 + sp.s2
			return r * r
		}),
		{Affinity, 0}: closed(func(sp spike) float64 {
			return ((1+sp.c2)*sp.l + sp.s2) / (1 + sp.c2 + sp.l*sp.s2)
		}),
	}

	// no closed form registered: minimise the block loss directly
	for _, norm := range []Norm{Frobenius, Operator, Nuclear} {
		for pivot := 1; pivot <= MaxPivot; pivot++ {
			key := lossKey{norm, pivot}
			if _, ok := reg[key]; ok {
				continue
			}
			reg[key] = shrinker{fn: func(sp spike) float64 {
				return minimizeBlockLoss(norm, pivot, sp)
			}}
		}
	}
	return reg
}

func lookupShrinker(norm Norm, pivot int) (shrinker, error) {
	if !norm.Valid() {
		return shrinker{}, fmt.Errorf("unknown norm %q: %w", norm, ErrInvalidNorm)
	}
	if !norm.IsMatrixNorm() {
		pivot = 0
	} else if pivot < 1 || pivot > MaxPivot {
		return shrinker{}, fmt.Errorf("pivot %d outside 1..%d: %w", pivot, MaxPivot, ErrInvalidConfig)
	}
	s, ok := shrinkers[lossKey{norm, pivot}]
	if !ok {
		return shrinker{}, fmt.Errorf("no shrinker for %s pivot %d: %w", norm, pivot, ErrInvalidNorm)
	}
	return s, nil
}

// LossInfo describes one registered shrinker.
type LossInfo struct {
	Norm       Norm   `json:"norm"`
	Pivot      int    `json:"pivot,omitempty"`
	Expression string `json:"expression,omitempty"`
	ClosedForm bool   `json:"closed_form"`
}

// Losses lists the registered shrinkers ordered by norm then pivot.
func Losses() []LossInfo {
	out := make([]LossInfo, 0, len(shrinkers))
	for key, s := range shrinkers {
		info := LossInfo{Norm: key.norm, Pivot: key.pivot, ClosedForm: s.closed}
		if key.pivot > 0 {
			info.Expression = pivotNames[key.pivot]
		}
		out = append(out, info)
	}
	rank := map[Norm]int{Frobenius: 0, Operator: 1, Nuclear: 2, Stein: 3, Entropy: 4, Divergence: 5, Frechet: 6, Affinity: 7}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Norm != out[j].Norm {
			return rank[out[i].Norm] < rank[out[j].Norm]
		}
		return out[i].Pivot < out[j].Pivot
	})
	return out
}

// spikeGeometry maps a whitened empirical eigenvalue above the bulk edge to
// its population spike and eigenvector overlap.
func spikeGeometry(lambda, gamma float64) spike {
	b := lambda + 1 - gamma
	l := (b + math.Sqrt(math.Max(b*b-4*lambda, 0))) / 2
	d := l - 1
	c2 := (1 - gamma/(d*d)) / (1 + gamma/d)
	c2 = math.Min(math.Max(c2, 0), 1)
	return spike{l: l, c2: c2, s2: 1 - c2}
}

// BlockLoss is the loss between the 2x2 population block A = diag(l, 1) and
// the estimate B = I + (eta-1) u u^T with u = (c, s), for a matrix norm and
// pivot. c2 is the squared cosine between the empirical and population
// eigenvectors.
func BlockLoss(norm Norm, pivot int, l, c2, eta float64) (float64, error) {
	if !norm.IsMatrixNorm() {
		return 0, fmt.Errorf("block loss for %q: %w", norm, ErrInvalidNorm)
	}
	if pivot < 1 || pivot > MaxPivot {
		return 0, fmt.Errorf("pivot %d outside 1..%d: %w", pivot, MaxPivot, ErrInvalidConfig)
	}
	if l <= 0 || eta <= 0 || c2 < 0 || c2 > 1 {
		return 0, fmt.Errorf("block loss at l=%v c2=%v eta=%v: %w", l, c2, eta, ErrNumerical)
	}
	return blockLoss(norm, pivot, spike{l: l, c2: c2, s2: 1 - c2}, eta), nil
}

func blockLoss(norm Norm, pivot int, sp spike, eta float64) float64 {
	c, s := math.Sqrt(sp.c2), math.Sqrt(sp.s2)
	u := mat.NewVecDense(2, []float64{c, s})

	a := mat.NewDiagDense(2, []float64{sp.l, 1})
	aInv := mat.NewDiagDense(2, []float64{1 / sp.l, 1})
	aInvSqrt := mat.NewDiagDense(2, []float64{1 / math.Sqrt(sp.l), 1})

	b := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	b.SymRankOne(b, eta-1, u)
	bInv := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	bInv.SymRankOne(bInv, 1/eta-1, u)

	id := mat.NewDiagDense(2, []float64{1, 1})

	var d mat.Dense
	switch pivot {
	case 1:
		d.Sub(a, b)
	case 2:
		d.Sub(aInv, bInv)
	case 3:
		d.Mul(aInv, b)
		d.Sub(&d, id)
	case 4:
		d.Mul(bInv, a)
		d.Sub(&d, id)
	case 5:
		var x, y mat.Dense
		x.Mul(aInv, b)
		y.Mul(bInv, a)
		d.Add(&x, &y)
		d.Sub(&d, id)
		d.Sub(&d, id)
	case 6, 7:
		var x, y mat.Dense
		x.Mul(aInvSqrt, b)
		y.Mul(&x, aInvSqrt)
		if pivot == 6 {
			d.Sub(&y, id)
		} else {
			d.CloneFrom(symLog(&y))
		}
	}
	return matrixNorm(norm, &d)
}

// symLog returns the matrix logarithm of a symmetric positive definite x.
func symLog(x mat.Matrix) *mat.Dense {
	r, _ := x.Dims()
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, (x.At(i, j)+x.At(j, i))/2)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return mat.NewDense(r, r, nil)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for i := range vals {
		vals[i] = math.Log(vals[i])
	}
	var scaled, out mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(r, vals))
	out.Mul(&scaled, vecs.T())
	return &out
}

func matrixNorm(norm Norm, d *mat.Dense) float64 {
	if norm == Frobenius {
		return mat.Norm(d, 2)
	}
	var svd mat.SVD
	if !svd.Factorize(d, mat.SVDNone) {
		return math.Inf(1)
	}
	sv := svd.Values(nil)
	if norm == Operator {
		return sv[0]
	}
	return floats.Sum(sv)
}

// minimizeBlockLoss runs a golden-section search for eta over [1, 2l].
func minimizeBlockLoss(norm Norm, pivot int, sp spike) float64 {
	f := func(eta float64) float64 { return blockLoss(norm, pivot, sp, eta) }
	return goldenSection(f, 1, math.Max(2*sp.l, 1+1e-9), goldenSteps)
}

func goldenSection(f func(float64) float64, lo, hi float64, steps int) float64 {
	ratio := (math.Sqrt(5) - 1) / 2
	x1 := hi - ratio*(hi-lo)
	x2 := lo + ratio*(hi-lo)
	f1, f2 := f(x1), f(x2)
	for i := 0; i < steps; i++ {
		if f1 <= f2 {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - ratio*(hi-lo)
			f1 = f(x1)
		} else {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + ratio*(hi-lo)
			f2 = f(x2)
		}
	}
	return (lo + hi) / 2
}
