package covariance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticSpectrum(t *testing.T, seed uint64) []float64 {
	t.Helper()
	r := gaussianReturns(t, seed, spikedVariances(100), 500)
	spectrum, err := Eigendecompose(sampleCovariance(r), 0)
	require.NoError(t, err)
	return spectrum.Values
}

func TestNewSpikeEstimator(t *testing.T) {
	tests := []struct {
		method string
		alpha  float64
		name   string
		want   error
	}{
		{method: MethodKNTest, alpha: 0, name: MethodKNTest},
		{method: MethodKNTest, alpha: 0.01, name: MethodKNTest},
		{method: MethodMedianFit, name: MethodMedianFit},
		{method: MethodKNTest, alpha: 0.2, want: ErrInvalidConfig},
		{method: "Elbow", want: ErrInvalidMethod},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			est, err := NewSpikeEstimator(tt.method, tt.alpha)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, est.Name())
		})
	}
}

func TestSpikeEstimatorsRecoverSyntheticSpikes(t *testing.T) {
	values := syntheticSpectrum(t, 42)

	tests := []struct {
		est       SpikeEstimator
		tolerance int
	}{
		{est: KNTest{}, tolerance: 1},
		{est: KNTest{Alpha: 0.001}, tolerance: 1},
		{est: MedianFit{}, tolerance: 2},
	}
	for _, tt := range tests {
		t.Run(tt.est.Name(), func(t *testing.T) {
			got, err := tt.est.EstimateSpikes(values, 0.2)
			require.NoError(t, err)
			assert.InDelta(t, 15, got.Count, float64(tt.tolerance))
			assert.InDelta(t, 1.0, got.Sigma2, 0.15)
			assert.Equal(t, tt.est.Name(), got.Method)
		})
	}
}

func TestKNTestPureNoise(t *testing.T) {
	zero := 0
	for seed := uint64(0); seed < 10; seed++ {
		r := gaussianReturns(t, 500+seed, ones(30), 120)
		spectrum, err := Eigendecompose(sampleCovariance(r), 0)
		require.NoError(t, err)

		got, err := KNTest{}.EstimateSpikes(spectrum.Values, 0.25)
		require.NoError(t, err)
		if got.Count == 0 {
			zero++
		}
	}
	assert.GreaterOrEqual(t, zero, 8)
}

func TestKNTestDualSpectrum(t *testing.T) {
	// 80 variables, 40 observations: 40 structural zeros
	v := ones(80)
	v[0], v[1] = 60, 40
	r := gaussianReturns(t, 77, v, 40)
	spectrum, err := Eigendecompose(sampleCovariance(r), 0)
	require.NoError(t, err)

	got, err := KNTest{}.EstimateSpikes(spectrum.Values, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2, got.Count, 1)
	assert.Greater(t, got.Sigma2, 0.0)
}

func TestKNTestErrors(t *testing.T) {
	_, err := KNTest{Alpha: 0.3}.EstimateSpikes([]float64{3, 2, 1}, 0.5)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = KNTest{}.EstimateSpikes([]float64{3, 2, 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = KNTest{}.EstimateSpikes([]float64{1}, 0.5)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// geometric spectrum: every eigenvalue dwarfs the rest
	geometric := make([]float64, 6)
	for i := range geometric {
		geometric[i] = math.Ldexp(1, 10*(5-i))
	}
	_, err = KNTest{}.EstimateSpikes(geometric, 0.01)
	assert.ErrorIs(t, err, ErrFit)

	_, err = KNTest{MaxIter: 1}.EstimateSpikes(syntheticSpectrum(t, 1), 0.2)
	assert.ErrorIs(t, err, ErrFit)
}

func TestMedianFitErrors(t *testing.T) {
	_, err := MedianFit{}.EstimateSpikes([]float64{5, 4, 3, 2, 1}, 0.5)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = MedianFit{}.EstimateSpikes(ones(20), 0.5)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// 20 variables but only 5 observations: 5 usable eigenvalues
	_, err = MedianFit{}.EstimateSpikes([]float64{9, 8, 7, 6, 5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 4)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = MedianFit{GridSize: 1}.EstimateSpikes(ones(20), 0.5)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
