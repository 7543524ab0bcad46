package gradmatch

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gradmatch/internal/infer"
	"gradmatch/internal/odesys"
	"gradmatch/internal/stats"
)

func decayConfig(t *testing.T) Config {
	t.Helper()
	adapter, err := odesys.NewAdapter(odesys.LinearDecay{})
	require.NoError(t, err)

	n := 21
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * 0.1
	}
	rng := rand.New(rand.NewSource(5))
	data, err := odesys.Simulate(adapter, []float64{1.5}, []float64{2}, ts, 10, 0.05, rng)
	require.NoError(t, err)

	return Config{
		Data:             data,
		Time:             ts,
		SystemName:       "linear_decay",
		NoiseSD:          0.05,
		MaxIterations:    200,
		ChainCount:       2,
		ThinningInterval: 10,
		GPRestarts:       2,
		Seed:             1,
		InitialParams:    []float64{1.0},
	}
}

func TestRunGradientMatchingEndToEnd(t *testing.T) {
	result, err := Run(context.Background(), decayConfig(t))
	require.NoError(t, err)

	require.NotEmpty(t, result.RunID)
	require.Len(t, result.PosteriorMean, 1)
	require.Len(t, result.PosteriorSD, 1)
	require.False(t, math.IsNaN(result.PosteriorMean[0]))

	rows, cols := result.Samples.Dims()
	require.Equal(t, 20, rows)
	require.Equal(t, 1, cols)
	require.Len(t, result.LogPosteriorTrace, 20)
	require.NotNil(t, result.LatentMean)
	require.Len(t, result.GPHyperParams, 1)
	require.Contains(t, result.Acceptance, "theta_0")
	require.NotEmpty(t, result.Diagnostics)
}

func TestRunMismatchTempering(t *testing.T) {
	cfg := decayConfig(t)
	cfg.TemperMismatch = true
	cfg.TemperingScheme = "LB2"
	cfg.ChainCount = 3

	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.PosteriorMean, 1)
	require.GreaterOrEqual(t, result.SwapAcceptance, 0.0)
	require.LessOrEqual(t, result.SwapAcceptance, 1.0)
}

func TestRunUserLadder(t *testing.T) {
	cfg := decayConfig(t)
	cfg.TemperMismatch = true
	cfg.ChainCount = 2
	cfg.MismatchValues = mat.NewDense(2, 1, []float64{1, 0.01})

	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	// Row count must match the chain count.
	cfg.ChainCount = 3
	_, err = Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfig)
}

func TestRunExplicitMode(t *testing.T) {
	cfg := decayConfig(t)
	cfg.Explicit = true
	cfg.Substeps = 4
	cfg.MaxIterations = 100

	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	// Parameters extend with the initial value; noise stays fixed.
	_, cols := result.Samples.Dims()
	require.Equal(t, 2, cols)
	require.Nil(t, result.LatentMean)
	require.Empty(t, result.GPHyperParams)
}

func TestRunExplicitInfersNoiseByDefault(t *testing.T) {
	cfg := decayConfig(t)
	cfg.Explicit = true
	cfg.Substeps = 4
	cfg.MaxIterations = 100
	cfg.NoiseSD = 0

	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	_, cols := result.Samples.Dims()
	require.Equal(t, 3, cols)
	// The inferred noise sd stays positive.
	require.Greater(t, result.PosteriorMean[2], 0.0)
}

func TestRunObservedVariablesMasking(t *testing.T) {
	adapter, err := odesys.NewAdapter(odesys.LotkaVolterra{})
	require.NoError(t, err)
	n := 21
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * 0.1
	}
	rng := rand.New(rand.NewSource(9))
	data, err := odesys.Simulate(adapter, []float64{2, 1, 4, 1}, []float64{5, 3}, ts, 10, 0.1, rng)
	require.NoError(t, err)

	cfg := Config{
		Data:              data,
		Time:              ts,
		SystemName:        "lotka_volterra",
		NoiseSD:           0.1,
		MaxIterations:     50,
		ChainCount:        2,
		ThinningInterval:  10,
		GPRestarts:        2,
		Seed:              2,
		InitialParams:     []float64{2, 1, 4, 1},
		ObservedVariables: []int{0},
	}
	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.GPHyperParams, 2)

	cfg.ObservedVariables = []int{5}
	_, err = Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfig)
}

func TestRunConfigValidation(t *testing.T) {
	base := decayConfig(t)

	cases := []struct {
		name   string
		mutate func(cfg Config) Config
	}{
		{"no data", func(cfg Config) Config { cfg.Data = nil; return cfg }},
		{"no system", func(cfg Config) Config { cfg.SystemName = ""; return cfg }},
		{"unknown system", func(cfg Config) Config { cfg.SystemName = "bogus"; return cfg }},
		{"both systems", func(cfg Config) Config { cfg.System = odesys.LinearDecay{}; return cfg }},
		{"unknown prior", func(cfg Config) Config { cfg.LogPrior = "bogus"; return cfg }},
		{"both priors", func(cfg Config) Config {
			cfg.LogPrior = "uniform"
			cfg.Prior = infer.UniformPrior{}
			return cfg
		}},
		{"time mismatch", func(cfg Config) Config { cfg.Time = cfg.Time[:5]; return cfg }},
		{"no noise sd", func(cfg Config) Config { cfg.NoiseSD = 0; return cfg }},
		{"bad scheme", func(cfg Config) Config {
			cfg.TemperMismatch = true
			cfg.TemperingScheme = "LB7"
			return cfg
		}},
		{"explicit with mismatch tempering", func(cfg Config) Config {
			cfg.Explicit = true
			cfg.TemperMismatch = true
			return cfg
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Run(context.Background(), tc.mutate(base))
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestRunPartialColumnRejected(t *testing.T) {
	cfg := decayConfig(t)
	masked := mat.DenseCopyOf(cfg.Data)
	masked.Set(3, 0, math.NaN())
	cfg.Data = masked

	_, err := Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfig)
}

func TestRunReportsEmptyArchive(t *testing.T) {
	cfg := decayConfig(t)
	// Fewer sweeps than the thinning interval: no draw is ever archived.
	cfg.MaxIterations = 5
	cfg.ThinningInterval = 10

	_, err := Run(context.Background(), cfg)
	require.ErrorIs(t, err, stats.ErrNoSamples)
}
