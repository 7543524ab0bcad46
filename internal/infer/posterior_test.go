package infer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gradmatch/internal/gp"
	"gradmatch/internal/model"
	"gradmatch/internal/odesys"
)

func decayGrid(n int, step float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * step
	}
	return ts
}

func decayData(ts []float64, rate, noiseSD float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, len(ts))
	for i, tv := range ts {
		out[i] = 2*math.Exp(-rate*tv) + rng.NormFloat64()*noiseSD
	}
	return out
}

func decayModels(t *testing.T, ts []float64, vars int) []*gp.VarModel {
	t.Helper()
	models := make([]*gp.VarModel, vars)
	for k := range models {
		m, err := gp.NewVarModel(ts, model.HyperParams{SignalVariance: 1, LengthScale: 0.5, NoiseVariance: 0.01}, gp.KernelRBF)
		require.NoError(t, err)
		models[k] = m
	}
	return models
}

func decayPosterior(t *testing.T, inferGamma bool) (*Posterior, model.Dataset) {
	t.Helper()
	ts := decayGrid(21, 0.1)
	obs := mat.NewDense(len(ts), 1, decayData(ts, 1.5, 0.05, 1))
	ds, err := model.NewDataset(ts, obs)
	require.NoError(t, err)

	adapter, err := odesys.NewAdapter(odesys.LinearDecay{})
	require.NoError(t, err)

	post, err := NewPosterior(ds, adapter, decayModels(t, ts, 1), UniformPrior{}, 0.1, inferGamma)
	require.NoError(t, err)
	return post, ds
}

func decayFactors(t *testing.T, post *Posterior, gamma float64) []*gp.MatchFactor {
	t.Helper()
	models := post.Models()
	facs := make([]*gp.MatchFactor, len(models))
	for k, m := range models {
		fac, err := m.NewMatchFactor(gamma)
		require.NoError(t, err)
		facs[k] = fac
	}
	return facs
}

func TestEvalProducesFiniteTerms(t *testing.T) {
	post, _ := decayPosterior(t, false)
	st := post.InitialState(0, []float64{1.5}, []float64{0.1})
	facs := decayFactors(t, post, 0.1)

	terms, err := post.Eval(st, facs)
	require.NoError(t, err)
	total := terms.Total(1)
	require.False(t, math.IsInf(total, 0))
	require.False(t, math.IsNaN(total))

	// The total is exactly the sum of its parts.
	want := terms.ThetaPrior + terms.GammaPrior
	for k := range terms.Data {
		want += terms.Data[k] + terms.GPPrior[k] + terms.Match[k]
	}
	require.InDelta(t, want, total, 1e-10)
}

func TestMissingVariableDataTermIsExactlyZero(t *testing.T) {
	ts := decayGrid(21, 0.1)
	nan := math.NaN()
	vals := make([]float64, len(ts))
	for i := range vals {
		vals[i] = nan
	}
	obs := mat.NewDense(len(ts), 1, vals)
	ds, err := model.NewDataset(ts, obs)
	require.NoError(t, err)

	adapter, err := odesys.NewAdapter(odesys.LinearDecay{})
	require.NoError(t, err)
	post, err := NewPosterior(ds, adapter, decayModels(t, ts, 1), UniformPrior{}, 0.1, false)
	require.NoError(t, err)

	st := post.InitialState(0, []float64{1}, []float64{0.1})
	for i := range ts {
		st.X.Set(i, 0, math.Sin(ts[i]))
	}

	require.Zero(t, post.DataTerm(st.X, 0))

	terms, err := post.Eval(st, decayFactors(t, post, 0.1))
	require.NoError(t, err)
	require.Zero(t, terms.Data[0])
	// The remaining terms still act on the latent trajectory.
	require.NotZero(t, terms.GPPrior[0])
	require.NotZero(t, terms.Match[0])
}

func TestDataTermMatchesDirectGaussian(t *testing.T) {
	post, ds := decayPosterior(t, false)
	st := post.InitialState(0, []float64{1.5}, []float64{0.1})
	for i := range ds.Time {
		st.X.Set(i, 0, st.X.At(i, 0)+0.02)
	}

	const noiseSD = 0.1
	want := 0.0
	for i := range ds.Time {
		r := ds.Observations.At(i, 0) - st.X.At(i, 0)
		want += -0.5*r*r/(noiseSD*noiseSD) - 0.5*math.Log(2*math.Pi*noiseSD*noiseSD)
	}
	require.InDelta(t, want, post.DataTerm(st.X, 0), 1e-10)
}

func TestMatchTermsRejectNonFiniteODE(t *testing.T) {
	ts := decayGrid(11, 0.1)
	obs := mat.NewDense(len(ts), 1, decayData(ts, 1, 0.01, 2))
	ds, err := model.NewDataset(ts, obs)
	require.NoError(t, err)

	sys := odesys.Func{
		SystemName: "sqrt_param",
		Vars:       1,
		Params:     1,
		Eval: func(ts []float64, x *mat.Dense, theta []float64) *mat.Dense {
			rows, _ := x.Dims()
			out := mat.NewDense(rows, 1, nil)
			for i := 0; i < rows; i++ {
				out.Set(i, 0, math.Sqrt(theta[0]))
			}
			return out
		},
	}
	adapter, err := odesys.NewAdapter(sys)
	require.NoError(t, err)
	post, err := NewPosterior(ds, adapter, decayModels(t, ts, 1), NormalPrior{Mean: 0, SD: 10}, 0.1, false)
	require.NoError(t, err)

	st := post.InitialState(0, []float64{-1}, []float64{0.1})
	dst := make([]float64, 1)
	ok, err := post.MatchTerms(dst, st, decayFactors(t, post, 0.1))
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, math.IsInf(dst[0], -1))

	terms, err := post.Eval(st, decayFactors(t, post, 0.1))
	require.NoError(t, err)
	require.True(t, math.IsInf(terms.Total(1), -1))
}

func TestTotalTempersOnlyLikelihoodTerms(t *testing.T) {
	terms := Terms{
		Data:       []float64{-10},
		GPPrior:    []float64{-3},
		Match:      []float64{-20},
		ThetaPrior: -1,
		GammaPrior: -2,
	}
	require.InDelta(t, -36.0, terms.Total(1), 1e-12)
	require.InDelta(t, -6.0, terms.Total(0), 1e-12)
	require.InDelta(t, -21.0, terms.Total(0.5), 1e-12)
}

func TestTotalNonFiniteLikelihoodAtZeroBeta(t *testing.T) {
	terms := Terms{
		Data:       []float64{math.Inf(-1)},
		GPPrior:    []float64{-1},
		Match:      []float64{-1},
		ThetaPrior: 0,
	}
	require.True(t, math.IsInf(terms.Total(0), -1))
}

func TestGammaPriorTerm(t *testing.T) {
	post, _ := decayPosterior(t, true)
	// Gamma(1,1) log pdf at x is -x.
	require.InDelta(t, -0.7, post.GammaPriorTerm([]float64{0.7}), 1e-12)
	require.True(t, math.IsInf(post.GammaPriorTerm([]float64{-0.1}), -1))

	fixed, _ := decayPosterior(t, false)
	require.Zero(t, fixed.GammaPriorTerm([]float64{0.7}))
}

func TestInitialStateUsesDataForObservedColumns(t *testing.T) {
	post, ds := decayPosterior(t, false)
	st := post.InitialState(3, []float64{1}, []float64{0.5})
	require.Equal(t, 3, st.ID)
	for i := range ds.Time {
		require.Equal(t, ds.Observations.At(i, 0), st.X.At(i, 0))
	}

	clone := st.Clone()
	clone.X.Set(0, 0, 99)
	clone.Theta[0] = 99
	require.NotEqual(t, clone.X.At(0, 0), st.X.At(0, 0))
	require.NotEqual(t, clone.Theta[0], st.Theta[0])
}
