package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aristath/eigenrisk/internal/modules/covariance"
)

var validate = validator.New()

// EstimatorProfile holds the server-side defaults applied to requests that
// leave an option unset.
type EstimatorProfile struct {
	RMT    RMTProfile    `yaml:"rmt"`
	Spiked SpikedProfile `yaml:"spiked"`
}

// RMTProfile mirrors covariance.RMTOptions.
type RMTProfile struct {
	EigenTreat string `yaml:"eigen_treat" default:"average" validate:"oneof=average delete"`
	Fit        string `yaml:"fit" default:"quantile" validate:"oneof=quantile density"`
	Cutoff     string `yaml:"cutoff" default:"max" validate:"oneof=max each"`
	MinBulk    int    `yaml:"min_bulk" default:"4" validate:"gte=1"`
	MaxIter    int    `yaml:"max_iter" default:"1000" validate:"gte=1"`
	Parallel   bool   `yaml:"parallel"`
	Workers    int    `yaml:"workers" validate:"gte=0"`
}

// SpikedProfile mirrors covariance.SpikedOptions.
type SpikedProfile struct {
	Method   string  `yaml:"method" default:"KNTest" validate:"oneof=KNTest MedianFit"`
	Norm     string  `yaml:"norm" default:"Frobenius" validate:"required"`
	Pivot    int     `yaml:"pivot" default:"1" validate:"min=1,max=7"`
	Alpha    float64 `yaml:"alpha" default:"0.005" validate:"gt=0,lt=1"`
	GridSize int     `yaml:"grid_size" default:"200" validate:"gte=2"`
}

// DefaultProfile returns the profile with every default applied.
func DefaultProfile() (*EstimatorProfile, error) {
	p := &EstimatorProfile{}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile. Missing keys take their defaults.
func LoadProfile(path string) (*EstimatorProfile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read estimator profile: %w", err)
	}
	return ParseProfile(b)
}

// ParseProfile decodes, defaults and validates a YAML profile.
func ParseProfile(data []byte) (*EstimatorProfile, error) {
	var p EstimatorProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse estimator profile: %w", err)
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *EstimatorProfile) finish() error {
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("apply profile defaults: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("validate estimator profile: %w", err)
	}
	if err := p.RMTOptions().Validate(); err != nil {
		return fmt.Errorf("validate estimator profile: %w", err)
	}
	if err := p.SpikedOptions().Validate(); err != nil {
		return fmt.Errorf("validate estimator profile: %w", err)
	}
	return nil
}

// RMTOptions converts the profile to estimator options.
func (p *EstimatorProfile) RMTOptions() covariance.RMTOptions {
	return covariance.RMTOptions{
		EigenTreat: p.RMT.EigenTreat,
		MP: covariance.MPOptions{
			Fit:      p.RMT.Fit,
			Cutoff:   p.RMT.Cutoff,
			MinBulk:  p.RMT.MinBulk,
			MaxIter:  p.RMT.MaxIter,
			Parallel: p.RMT.Parallel,
			Workers:  p.RMT.Workers,
		},
	}
}

// SpikedOptions converts the profile to estimator options.
func (p *EstimatorProfile) SpikedOptions() covariance.SpikedOptions {
	norm, err := covariance.ParseNorm(p.Spiked.Norm)
	if err != nil {
		norm = covariance.Norm(p.Spiked.Norm)
	}
	return covariance.SpikedOptions{
		Method:   p.Spiked.Method,
		Norm:     norm,
		Pivot:    p.Spiked.Pivot,
		Alpha:    p.Spiked.Alpha,
		GridSize: p.Spiked.GridSize,
	}
}
