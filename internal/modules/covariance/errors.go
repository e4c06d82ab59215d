package covariance

import (
	"context"
	"errors"
)

var (
	// ErrNumerical is returned when a matrix is not symmetric or its
	// eigendecomposition fails to converge.
	ErrNumerical = errors.New("covariance: numerical failure")

	// ErrFit is returned when an iterative fit exhausts its iteration budget.
	ErrFit = errors.New("covariance: fit did not converge")

	// ErrInsufficientData is returned when there are too few observations or
	// variables for the requested method.
	ErrInsufficientData = errors.New("covariance: insufficient data")

	ErrInvalidNorm   = errors.New("covariance: invalid norm")
	ErrInvalidMethod = errors.New("covariance: invalid method")

	// ErrDegenerateSpike is returned when the spike count leaves no bulk.
	ErrDegenerateSpike = errors.New("covariance: degenerate spike count")

	// ErrInvalidConfig covers the remaining enum and range options.
	ErrInvalidConfig = errors.New("covariance: invalid configuration")
)

// Outcome classifies err for metrics and logs: "ok", "config", "data",
// "fit", "numerical", "degenerate", "canceled" or "error".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidNorm), errors.Is(err, ErrInvalidMethod):
		return "config"
	case errors.Is(err, ErrInsufficientData):
		return "data"
	case errors.Is(err, ErrFit):
		return "fit"
	case errors.Is(err, ErrNumerical):
		return "numerical"
	case errors.Is(err, ErrDegenerateSpike):
		return "degenerate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
