package covariance

import (
	"fmt"
	"math"

	"github.com/aristath/eigenrisk/pkg/formulas"
)

// Cutoff policies for the Marchenko-Pastur fit.
const (
	CutoffMax  = "max"
	CutoffEach = "each"
)

// Treatments of eigenvalues classified as noise.
const (
	EigenTreatAverage = "average"
	EigenTreatDelete  = "delete"
)

// Bulk fitting methods.
const (
	FitQuantile = "quantile"
	FitDensity  = "density"
)

// Spike-count methods.
const (
	MethodKNTest    = "KNTest"
	MethodMedianFit = "MedianFit"
)

const (
	DefaultMinBulk   = 4
	DefaultMaxIter   = 1000
	DefaultAlpha     = 0.005
	DefaultGridSize  = 200
	DefaultKNMaxIter = 100
	DefaultKNTol     = 1e-9
	DefaultPivot     = 1
	MinHistogramSize = 8
)

// MPOptions configures FitMarchenkoPastur.
type MPOptions struct {
	Fit    string // "quantile" (default) or "density"
	Cutoff string // "max" (default) or "each"

	// NumEig caps the signal set under "each". Zero means N - MinBulk.
	NumEig int
	// MinBulk is the number of eigenvalues that must remain in the bulk.
	MinBulk int
	// MaxIter bounds the density fit optimiser.
	MaxIter int

	Parallel bool
	Workers  int // zero means GOMAXPROCS
}

func (o MPOptions) withDefaults() MPOptions {
	if o.Fit == "" {
		o.Fit = FitQuantile
	}
	if o.Cutoff == "" {
		o.Cutoff = CutoffMax
	}
	if o.MinBulk <= 0 {
		o.MinBulk = DefaultMinBulk
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	return o
}

// Validate checks enum membership and ranges.
func (o MPOptions) Validate() error {
	o = o.withDefaults()
	switch o.Fit {
	case FitQuantile, FitDensity:
	default:
		return fmt.Errorf("unknown fit %q: %w", o.Fit, ErrInvalidMethod)
	}
	switch o.Cutoff {
	case CutoffMax, CutoffEach:
	default:
		return fmt.Errorf("unknown cutoff %q: %w", o.Cutoff, ErrInvalidConfig)
	}
	if o.NumEig < 0 {
		return fmt.Errorf("numEig %d is negative: %w", o.NumEig, ErrInvalidConfig)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers %d is negative: %w", o.Workers, ErrInvalidConfig)
	}
	return nil
}

// RMTOptions configures EstimateRMT and Denoise.
type RMTOptions struct {
	// Q is the aspect ratio N/T. Zero means derive it from the data.
	Q          float64
	EigenTreat string // "average" (default) or "delete"
	MP         MPOptions
}

func (o RMTOptions) withDefaults() RMTOptions {
	if o.EigenTreat == "" {
		o.EigenTreat = EigenTreatAverage
	}
	o.MP = o.MP.withDefaults()
	return o
}

// Validate checks enum membership and ranges.
func (o RMTOptions) Validate() error {
	o = o.withDefaults()
	if o.Q < 0 || math.IsNaN(o.Q) || math.IsInf(o.Q, 0) {
		return fmt.Errorf("aspect ratio %v: %w", o.Q, ErrInvalidConfig)
	}
	switch o.EigenTreat {
	case EigenTreatAverage, EigenTreatDelete:
	default:
		return fmt.Errorf("unknown eigenTreat %q: %w", o.EigenTreat, ErrInvalidConfig)
	}
	return o.MP.Validate()
}

// SpikedOptions configures EstimateSpikedCovariance.
type SpikedOptions struct {
	// Gamma is the aspect ratio N/T. Zero means derive it from the data.
	Gamma float64
	// NumSpikes fixes the spike count. Nil means estimate it with Method.
	NumSpikes *int
	Method    string // "KNTest" (default) or "MedianFit"
	Norm      Norm   // Frobenius (default)
	Pivot     int    // 1..7 for matrix norms, default 1; ignored otherwise
	Alpha     float64
	GridSize  int
}

func (o SpikedOptions) withDefaults() SpikedOptions {
	if o.Method == "" {
		o.Method = MethodKNTest
	}
	if o.Norm == "" {
		o.Norm = Frobenius
	}
	if o.Pivot == 0 {
		o.Pivot = DefaultPivot
	}
	if o.Alpha == 0 {
		o.Alpha = DefaultAlpha
	}
	if o.GridSize == 0 {
		o.GridSize = DefaultGridSize
	}
	return o
}

// Validate checks enum membership and ranges.
func (o SpikedOptions) Validate() error {
	o = o.withDefaults()
	if o.Gamma < 0 || math.IsNaN(o.Gamma) || math.IsInf(o.Gamma, 0) {
		return fmt.Errorf("aspect ratio %v: %w", o.Gamma, ErrInvalidConfig)
	}
	if !o.Norm.Valid() {
		return fmt.Errorf("unknown norm %q: %w", o.Norm, ErrInvalidNorm)
	}
	if o.Norm.IsMatrixNorm() && (o.Pivot < 1 || o.Pivot > MaxPivot) {
		return fmt.Errorf("pivot %d outside 1..%d: %w", o.Pivot, MaxPivot, ErrInvalidConfig)
	}
	if o.NumSpikes != nil && *o.NumSpikes < 0 {
		return fmt.Errorf("numSpikes %d is negative: %w", *o.NumSpikes, ErrInvalidConfig)
	}
	if o.GridSize < 2 {
		return fmt.Errorf("grid size %d: %w", o.GridSize, ErrInvalidConfig)
	}
	if _, err := NewSpikeEstimator(o.Method, o.Alpha); err != nil {
		return err
	}
	return nil
}

func validAlpha(alpha float64) error {
	if _, err := formulas.TracyWidomQuantile(alpha); err != nil {
		return fmt.Errorf("alpha %g is not one of %v: %w", alpha, formulas.SupportedSignificanceLevels(), ErrInvalidConfig)
	}
	return nil
}
