package handlers

import (
	"fmt"
	"math"

	"github.com/aristath/eigenrisk/internal/modules/covariance"
)

// Input formats accepted by the estimator endpoints.
const (
	InputReturns = "returns"
	InputSeries  = "series"
	InputPrices  = "prices"
)

// MatrixInput carries the return data. Exactly one of Returns, Series or
// Prices is read, selected by Input.
type MatrixInput struct {
	Input  string   `json:"input" default:"returns" validate:"oneof=returns series prices"`
	Labels []string `json:"labels" validate:"required,min=2,max=2000,unique,dive,required"`
	// Returns is T rows of N asset returns in Labels order.
	Returns [][]float64 `json:"returns" validate:"required_if=Input returns"`
	// Series maps each label to its return series.
	Series map[string][]float64 `json:"series" validate:"required_if=Input series"`
	// Prices maps each label to its price series. Nulls are gaps.
	Prices map[string][]*float64 `json:"prices" validate:"required_if=Input prices"`
}

// RMTRequest is the body of POST /covariance/rmt.
type RMTRequest struct {
	MatrixInput
	Options RMTRequestOptions `json:"options"`
}

// RMTRequestOptions overrides the server profile. Zero values keep the profile.
type RMTRequestOptions struct {
	Q          float64 `json:"q" validate:"gte=0"`
	EigenTreat string  `json:"eigen_treat" validate:"omitempty,oneof=average delete"`
	Fit        string  `json:"fit" validate:"omitempty,oneof=quantile density"`
	Cutoff     string  `json:"cutoff" validate:"omitempty,oneof=max each"`
	NumEig     int     `json:"num_eig" validate:"gte=0"`
	MinBulk    int     `json:"min_bulk" validate:"gte=0"`
	MaxIter    int     `json:"max_iter" validate:"gte=0"`
	Parallel   *bool   `json:"parallel"`
}

// SpikedRequest is the body of POST /covariance/spiked.
type SpikedRequest struct {
	MatrixInput
	Options SpikedRequestOptions `json:"options"`
}

// SpikedRequestOptions overrides the server profile. Zero values keep the profile.
type SpikedRequestOptions struct {
	Gamma     float64 `json:"gamma" validate:"gte=0"`
	NumSpikes *int    `json:"num_spikes" validate:"omitempty,gte=0"`
	Method    string  `json:"method" validate:"omitempty,oneof=KNTest MedianFit"`
	Norm      string  `json:"norm"`
	Pivot     int     `json:"pivot" validate:"omitempty,gte=1"`
	Alpha     float64 `json:"alpha" validate:"omitempty,gt=0,lt=1"`
	GridSize  int     `json:"grid_size" validate:"omitempty,gte=2"`
}

// Matrix builds the ReturnMatrix for the selected input.
func (in MatrixInput) Matrix() (covariance.ReturnMatrix, error) {
	switch in.Input {
	case InputSeries:
		return covariance.ReturnsFromSeries(in.Series, in.Labels)
	case InputPrices:
		prices := make(map[string][]float64, len(in.Prices))
		for label, series := range in.Prices {
			values := make([]float64, len(series))
			for i, p := range series {
				if p == nil {
					values[i] = math.NaN()
				} else {
					values[i] = *p
				}
			}
			prices[label] = values
		}
		return covariance.ReturnsFromPrices(prices, in.Labels)
	case InputReturns, "":
		return covariance.NewReturnMatrix(in.Labels, in.Returns)
	default:
		return covariance.ReturnMatrix{}, fmt.Errorf("unknown input %q: %w", in.Input, covariance.ErrInvalidConfig)
	}
}

// apply overlays the request options on base.
func (o RMTRequestOptions) apply(base covariance.RMTOptions) covariance.RMTOptions {
	if o.Q > 0 {
		base.Q = o.Q
	}
	if o.EigenTreat != "" {
		base.EigenTreat = o.EigenTreat
	}
	if o.Fit != "" {
		base.MP.Fit = o.Fit
	}
	if o.Cutoff != "" {
		base.MP.Cutoff = o.Cutoff
	}
	if o.NumEig > 0 {
		base.MP.NumEig = o.NumEig
	}
	if o.MinBulk > 0 {
		base.MP.MinBulk = o.MinBulk
	}
	if o.MaxIter > 0 {
		base.MP.MaxIter = o.MaxIter
	}
	if o.Parallel != nil {
		base.MP.Parallel = *o.Parallel
	}
	return base
}

// apply overlays the request options on base. The norm is matched
// case-insensitively.
func (o SpikedRequestOptions) apply(base covariance.SpikedOptions) (covariance.SpikedOptions, error) {
	if o.Gamma > 0 {
		base.Gamma = o.Gamma
	}
	if o.NumSpikes != nil {
		k := *o.NumSpikes
		base.NumSpikes = &k
	}
	if o.Method != "" {
		base.Method = o.Method
	}
	if o.Norm != "" {
		norm, err := covariance.ParseNorm(o.Norm)
		if err != nil {
			return base, err
		}
		base.Norm = norm
	}
	if o.Pivot > 0 {
		base.Pivot = o.Pivot
	}
	if o.Alpha > 0 {
		base.Alpha = o.Alpha
	}
	if o.GridSize > 0 {
		base.GridSize = o.GridSize
	}
	return base, nil
}
