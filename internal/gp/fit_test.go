package gp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func smoothSeries(n int, step, noiseSD float64, seed int64) (ts, y []float64) {
	rng := rand.New(rand.NewSource(seed))
	ts = make([]float64, n)
	y = make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * step
		y[i] = math.Sin(ts[i]) + rng.NormFloat64()*noiseSD
	}
	return ts, y
}

func TestFitColumnHistoryNonIncreasing(t *testing.T) {
	ts, y := smoothSeries(21, 0.3, 0.05, 3)
	fit, err := FitColumn(ts, y, FitConfig{Restarts: 5})
	require.NoError(t, err)
	require.False(t, fit.Fallback)
	require.Len(t, fit.History, 5)
	for i := 1; i < len(fit.History); i++ {
		require.LessOrEqual(t, fit.History[i], fit.History[i-1])
	}
	require.Equal(t, fit.NegLogML, fit.History[len(fit.History)-1])
}

func TestFitColumnRecoversSensibleScales(t *testing.T) {
	ts, y := smoothSeries(40, 0.25, 0.05, 11)
	fit, err := FitColumn(ts, y, FitConfig{Restarts: 5})
	require.NoError(t, err)

	h := fit.Hyper
	require.Greater(t, h.SignalVariance, 0.0)
	require.Greater(t, h.LengthScale, 0.0)
	require.Greater(t, h.NoiseVariance, 0.0)
	// A sine with unit amplitude: signal variance near 0.5, length scale on
	// the order of the oscillation, noise variance well below the signal.
	require.Less(t, h.NoiseVariance, h.SignalVariance)
	require.Less(t, h.LengthScale, 10.0)
	require.Greater(t, h.LengthScale, 0.05)
}

func TestFitColumnFallbacks(t *testing.T) {
	// Too few points.
	fit, err := FitColumn([]float64{0, 1}, []float64{1, 2}, FitConfig{})
	require.NoError(t, err)
	require.True(t, fit.Fallback)
	require.Equal(t, FallbackHyper([]float64{0, 1}), fit.Hyper)

	// Zero variance.
	fit, err = FitColumn([]float64{0, 1, 2, 3}, []float64{5, 5, 5, 5}, FitConfig{})
	require.NoError(t, err)
	require.True(t, fit.Fallback)

	// Length mismatch is a hard error.
	_, err = FitColumn([]float64{0, 1, 2}, []float64{1, 2}, FitConfig{})
	require.ErrorIs(t, err, ErrFitFailed)
}

func TestFitColumnMatern(t *testing.T) {
	ts, y := smoothSeries(25, 0.3, 0.05, 5)
	fit, err := FitColumn(ts, y, FitConfig{Kernel: KernelMatern32, Restarts: 3})
	require.NoError(t, err)
	require.False(t, fit.Fallback)
	require.False(t, math.IsInf(fit.NegLogML, 0))
}
