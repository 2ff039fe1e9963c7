package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveWalkScenario(t *testing.T) {
	m, err := Derive(1000, 0.78)
	require.NoError(t, err)
	require.InDelta(t, 780.0, m.DistanceMeters, 1e-9)
	require.InDelta(t, 40.0, m.CaloriesKcal, 1e-9)
}

func TestDeriveIsLinearAndNonNegative(t *testing.T) {
	strides := []float64{0.3, 0.78, 1.25}
	for _, stride := range strides {
		for _, steps := range []int64{0, 1, 17, 12345, 1 << 40} {
			m, err := Derive(steps, stride)
			require.NoError(t, err)
			require.InDelta(t, float64(steps)*stride, m.DistanceMeters, 1e-6)
			require.InDelta(t, float64(steps)*CaloriesPerStep, m.CaloriesKcal, 1e-6)
			require.GreaterOrEqual(t, m.DistanceMeters, 0.0)
			require.GreaterOrEqual(t, m.CaloriesKcal, 0.0)
			require.False(t, math.IsInf(m.DistanceMeters, 0) || math.IsNaN(m.DistanceMeters))
		}
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	_, err := Derive(-1, 0.78)
	require.ErrorIs(t, err, ErrNegativeSteps)

	for _, stride := range []float64{0, -0.5, math.NaN(), math.Inf(1)} {
		_, err := Derive(10, stride)
		require.ErrorIs(t, err, ErrInvalidStride)
	}

	_, err = Derive(math.MaxInt64, 1e300)
	require.ErrorIs(t, err, ErrMetricsOverflow)
}
