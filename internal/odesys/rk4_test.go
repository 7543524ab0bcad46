package odesys

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func decayGrid(n int, step float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * step
	}
	return ts
}

func TestIntegrateLinearDecayMatchesClosedForm(t *testing.T) {
	a, err := NewAdapter(LinearDecay{})
	require.NoError(t, err)

	ts := decayGrid(11, 0.2)
	const rate = 1.5
	traj, ok, err := Integrate(a, []float64{rate}, []float64{2.0}, ts, 10)
	require.NoError(t, err)
	require.True(t, ok)

	for i, tv := range ts {
		want := 2.0 * math.Exp(-rate*tv)
		require.InDelta(t, want, traj.At(i, 0), 1e-8, "t=%v", tv)
	}
}

func TestIntegrateConvergesWithSubsteps(t *testing.T) {
	a, err := NewAdapter(LinearDecay{})
	require.NoError(t, err)

	ts := []float64{0, 1}
	exact := math.Exp(-2.0)

	errAt := func(substeps int) float64 {
		traj, ok, err := Integrate(a, []float64{2.0}, []float64{1.0}, ts, substeps)
		require.NoError(t, err)
		require.True(t, ok)
		return math.Abs(traj.At(1, 0) - exact)
	}

	coarse := errAt(1)
	fine := errAt(10)
	require.Less(t, fine, coarse)
	// RK4 is fourth order: 10x more steps should gain roughly 1e4.
	require.Less(t, fine, coarse/1e3)
}

func TestIntegrateFlagsDivergence(t *testing.T) {
	blowup := Func{
		SystemName: "quadratic_blowup",
		Vars:       1,
		Params:     1,
		Eval: func(ts []float64, x *mat.Dense, theta []float64) *mat.Dense {
			rows, _ := x.Dims()
			out := mat.NewDense(rows, 1, nil)
			for i := 0; i < rows; i++ {
				v := x.At(i, 0)
				out.Set(i, 0, theta[0]*v*v)
			}
			return out
		},
	}
	a, err := NewAdapter(blowup)
	require.NoError(t, err)

	// dx/dt = 100*x^2 from x0=1 blows up before t=1.
	_, ok, err := Integrate(a, []float64{100}, []float64{1}, decayGrid(11, 0.1), 20)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSimulateAddsNoise(t *testing.T) {
	a, err := NewAdapter(LinearDecay{})
	require.NoError(t, err)

	ts := decayGrid(21, 0.1)
	clean, err := Simulate(a, []float64{1.0}, []float64{2.0}, ts, 10, 0, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	noisy, err := Simulate(a, []float64{1.0}, []float64{2.0}, ts, 10, 0.1, rng)
	require.NoError(t, err)

	var sumSq float64
	for i := range ts {
		d := noisy.At(i, 0) - clean.At(i, 0)
		sumSq += d * d
	}
	require.Greater(t, sumSq, 0.0)
	require.Less(t, math.Sqrt(sumSq/float64(len(ts))), 0.5)

	_, err = Simulate(a, []float64{1.0}, []float64{2.0}, ts, 10, 0.1, nil)
	require.Error(t, err)
}
