package covariance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/eigenrisk/pkg/formulas"
)

// ReturnMatrix is a T x N panel of returns. Rows are observations in time
// order, columns are assets named by Labels.
type ReturnMatrix struct {
	Labels []string
	Data   *mat.Dense
}

// NewReturnMatrix builds a ReturnMatrix from row-major observations.
func NewReturnMatrix(labels []string, rows [][]float64) (ReturnMatrix, error) {
	if len(rows) == 0 || len(labels) == 0 {
		return ReturnMatrix{}, fmt.Errorf("empty return matrix: %w", ErrInsufficientData)
	}

	n := len(labels)
	flat := make([]float64, 0, len(rows)*n)
	for i, row := range rows {
		if len(row) != n {
			return ReturnMatrix{}, fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), n, ErrInvalidConfig)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ReturnMatrix{}, fmt.Errorf("non-finite return at row %d column %q: %w", i, labels[j], ErrNumerical)
			}
		}
		flat = append(flat, row...)
	}

	return ReturnMatrix{
		Labels: append([]string(nil), labels...),
		Data:   mat.NewDense(len(rows), n, flat),
	}, nil
}

// ReturnsFromSeries builds a ReturnMatrix from per-asset return series of
// equal length, with columns in labels order.
func ReturnsFromSeries(series map[string][]float64, labels []string) (ReturnMatrix, error) {
	if len(labels) == 0 {
		return ReturnMatrix{}, fmt.Errorf("no assets: %w", ErrInsufficientData)
	}

	t := -1
	for _, label := range labels {
		s, ok := series[label]
		if !ok {
			return ReturnMatrix{}, fmt.Errorf("missing series for %q: %w", label, ErrInvalidConfig)
		}
		if t >= 0 && len(s) != t {
			return ReturnMatrix{}, fmt.Errorf("series %q has length %d, want %d: %w", label, len(s), t, ErrInvalidConfig)
		}
		t = len(s)
	}

	rows := make([][]float64, t)
	for i := range rows {
		rows[i] = make([]float64, len(labels))
		for j, label := range labels {
			rows[i][j] = series[label][i]
		}
	}
	return NewReturnMatrix(labels, rows)
}

// ReturnsFromPrices converts price series to simple returns. NaN gaps are
// forward-filled, then leading gaps back-filled, before differencing.
func ReturnsFromPrices(prices map[string][]float64, labels []string) (ReturnMatrix, error) {
	returns := make(map[string][]float64, len(labels))
	for _, label := range labels {
		p, ok := prices[label]
		if !ok {
			return ReturnMatrix{}, fmt.Errorf("missing prices for %q: %w", label, ErrInvalidConfig)
		}
		returns[label] = formulas.CalculateReturns(fillGaps(p))
	}
	return ReturnsFromSeries(returns, labels)
}

func fillGaps(prices []float64) []float64 {
	filled := make([]float64, len(prices))
	copy(filled, prices)

	// First pass: forward-fill
	lastValid, hasLastValid := 0.0, false
	for i := range filled {
		if math.IsNaN(filled[i]) {
			if hasLastValid {
				filled[i] = lastValid
			}
		} else {
			lastValid, hasLastValid = filled[i], true
		}
	}

	// Second pass: back-fill leading NaNs
	nextValid, hasNextValid := 0.0, false
	for i := len(filled) - 1; i >= 0; i-- {
		if math.IsNaN(filled[i]) {
			if hasNextValid {
				filled[i] = nextValid
			}
		} else {
			nextValid, hasNextValid = filled[i], true
		}
	}
	return filled
}

// Dims returns the number of observations T and assets N.
func (r ReturnMatrix) Dims() (t, n int) {
	if r.Data == nil {
		return 0, 0
	}
	return r.Data.Dims()
}

// AspectRatio returns N/T.
func (r ReturnMatrix) AspectRatio() float64 {
	t, n := r.Dims()
	if t == 0 {
		return 0
	}
	return float64(n) / float64(t)
}

func (r ReturnMatrix) validate(minObs int) error {
	t, n := r.Dims()
	if n < 2 || t < minObs {
		return fmt.Errorf("need at least 2 assets and %d observations, got %d x %d: %w", minObs, t, n, ErrInsufficientData)
	}
	if len(r.Labels) != n {
		return fmt.Errorf("%d labels for %d columns: %w", len(r.Labels), n, ErrInvalidConfig)
	}
	return nil
}
