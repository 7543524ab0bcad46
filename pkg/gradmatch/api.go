// Package gradmatch is the public entry point for adaptive gradient
// matching: Bayesian ODE parameter inference that models the state
// trajectories with Gaussian processes and matches their implied
// derivatives against the ODE instead of integrating it.
package gradmatch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"gradmatch/internal/gp"
	"gradmatch/internal/infer"
	"gradmatch/internal/model"
	"gradmatch/internal/odesys"
	"gradmatch/internal/stats"
)

var ErrConfig = errors.New("invalid configuration")

// Config enumerates every recognized option. Zero values take the documented
// defaults; validation is eager and happens before any sampling.
type Config struct {
	// Data is the T x K observation matrix. Fully unobserved variables are
	// marked with NaN columns or via ObservedVariables.
	Data *mat.Dense
	// Time is the strictly increasing observation grid.
	Time []float64

	// System is the ODE right-hand side; SystemName alternatively resolves a
	// registered system. Exactly one must be set.
	System     odesys.System
	SystemName string

	// NoiseSD is the fixed observation noise. Required in gradient-matching
	// mode; in explicit mode leaving it zero switches to inferring the noise.
	NoiseSD float64

	// MaxIterations is the sweep budget (default 100000).
	MaxIterations int
	// ChainCount is the population size (default 20).
	ChainCount int

	// Explicit switches to numerical integration instead of gradient
	// matching.
	Explicit bool
	// InferNoise additionally samples the observation noise sd in explicit
	// mode.
	InferNoise bool

	// TemperMismatch fixes a mismatch row per rung from MismatchValues or
	// the named TemperingScheme ("LB2" or "LB10", default "LB10"); otherwise
	// the mismatch is a sampled parameter under a power-posterior ladder.
	TemperMismatch  bool
	TemperingScheme string
	MismatchValues  *mat.Dense

	// ObservedVariables lists the observed column indices (default: all).
	ObservedVariables []int

	// LogPrior names a built-in prior ("uniform", "gamma", "normal");
	// Prior supplies a custom one instead.
	LogPrior string
	Prior    infer.ParamPrior

	// Kernel is the covariance family ("rbf" or "matern32", default "rbf").
	Kernel string
	// GPRestarts is the optimizer restart count per variable (default 5).
	GPRestarts int
	// Substeps is the RK4 sub-interval count in explicit mode (default 10).
	Substeps int

	// InitialParams seeds every chain when set; otherwise the prior is
	// sampled.
	InitialParams []float64

	Seed             int64
	Workers          int
	ThinningInterval int
	TraceInterval    int
	ExchangeInterval int
	AdaptInterval    int

	// RunID defaults to a fresh uuid; Logger to a no-op logger.
	RunID  string
	Logger *zap.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100000
	}
	if cfg.ChainCount <= 0 {
		cfg.ChainCount = 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ThinningInterval <= 0 {
		cfg.ThinningInterval = 100
	}
	if cfg.TraceInterval <= 0 {
		cfg.TraceInterval = cfg.ThinningInterval
	}
	if cfg.ExchangeInterval <= 0 {
		cfg.ExchangeInterval = 10
	}
	if cfg.AdaptInterval <= 0 {
		cfg.AdaptInterval = 50
	}
	if cfg.GPRestarts <= 0 {
		cfg.GPRestarts = 5
	}
	if cfg.Substeps <= 0 {
		cfg.Substeps = 10
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Explicit && cfg.NoiseSD <= 0 {
		cfg.InferNoise = true
	}
}

func (cfg *Config) resolveSystem() (odesys.System, error) {
	if cfg.System != nil && cfg.SystemName != "" {
		return nil, fmt.Errorf("set either System or SystemName, not both: %w", ErrConfig)
	}
	if cfg.System != nil {
		return cfg.System, nil
	}
	if cfg.SystemName == "" {
		return nil, fmt.Errorf("an ode system is required: %w", ErrConfig)
	}
	sys, err := odesys.Lookup(cfg.SystemName)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrConfig)
	}
	return sys, nil
}

func (cfg *Config) resolvePrior() (infer.ParamPrior, error) {
	if cfg.Prior != nil && cfg.LogPrior != "" {
		return nil, fmt.Errorf("set either Prior or LogPrior, not both: %w", ErrConfig)
	}
	if cfg.Prior != nil {
		return cfg.Prior, nil
	}
	prior, err := infer.LookupPrior(cfg.LogPrior)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrConfig)
	}
	return prior, nil
}

// maskUnobserved returns the data with every column absent from the observed
// index set overwritten with NaN.
func (cfg *Config) maskUnobserved() (*mat.Dense, error) {
	if cfg.Data == nil {
		return nil, fmt.Errorf("data matrix is required: %w", ErrConfig)
	}
	if len(cfg.ObservedVariables) == 0 {
		return cfg.Data, nil
	}
	rows, cols := cfg.Data.Dims()
	observed := make([]bool, cols)
	for _, idx := range cfg.ObservedVariables {
		if idx < 0 || idx >= cols {
			return nil, fmt.Errorf("observed variable index %d out of range [0,%d): %w", idx, cols, ErrConfig)
		}
		observed[idx] = true
	}
	masked := mat.DenseCopyOf(cfg.Data)
	for k := 0; k < cols; k++ {
		if observed[k] {
			continue
		}
		for i := 0; i < rows; i++ {
			masked.Set(i, k, math.NaN())
		}
	}
	return masked, nil
}

// Run performs the full inference: eager validation, per-variable GP
// hyperparameter estimation, then the population MCMC run.
func Run(ctx context.Context, cfg Config) (model.Result, error) {
	cfg.applyDefaults()
	logger := cfg.Logger.Named("gradmatch")

	sys, err := cfg.resolveSystem()
	if err != nil {
		return model.Result{}, err
	}
	adapter, err := odesys.NewAdapter(sys)
	if err != nil {
		return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
	}
	prior, err := cfg.resolvePrior()
	if err != nil {
		return model.Result{}, err
	}

	data, err := cfg.maskUnobserved()
	if err != nil {
		return model.Result{}, err
	}
	ds, err := model.NewDataset(cfg.Time, data)
	if err != nil {
		return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
	}
	if !cfg.Explicit && cfg.NoiseSD <= 0 {
		return model.Result{}, fmt.Errorf("gradient matching needs a fixed NoiseSD > 0: %w", ErrConfig)
	}

	ctrlCfg := infer.ControllerConfig{
		ChainCount:       cfg.ChainCount,
		Sweeps:           cfg.MaxIterations,
		TemperMismatch:   cfg.TemperMismatch,
		InitialTheta:     cfg.InitialParams,
		Seed:             cfg.Seed,
		Workers:          cfg.Workers,
		ExchangeInterval: cfg.ExchangeInterval,
		ThinningInterval: cfg.ThinningInterval,
		TraceInterval:    cfg.TraceInterval,
		AdaptInterval:    cfg.AdaptInterval,
		Logger:           logger,
	}

	var hypers []model.HyperParams
	if cfg.Explicit {
		if cfg.TemperMismatch {
			return model.Result{}, fmt.Errorf("mismatch tempering does not apply in explicit mode: %w", ErrConfig)
		}
		expl, err := infer.NewExplicitPosterior(ds, adapter, prior, cfg.Substeps, cfg.InferNoise, cfg.NoiseSD)
		if err != nil {
			return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
		}
		ctrlCfg.Explicit = expl
	} else {
		hypers, err = fitHyperParams(ds, cfg, logger)
		if err != nil {
			return model.Result{}, err
		}
		models := make([]*gp.VarModel, len(hypers))
		for k, h := range hypers {
			m, err := gp.NewVarModel(ds.Time, h, cfg.Kernel)
			if err != nil {
				return model.Result{}, fmt.Errorf("building gradient model for variable %d: %w", k, err)
			}
			models[k] = m
		}

		post, err := infer.NewPosterior(ds, adapter, models, prior, cfg.NoiseSD, !cfg.TemperMismatch)
		if err != nil {
			return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
		}
		ctrlCfg.Posterior = post

		if cfg.TemperMismatch {
			_, vars := ds.Dims()
			ladder := cfg.MismatchValues
			if ladder == nil {
				ladder, err = infer.DefaultLadder(cfg.TemperingScheme, cfg.ChainCount, vars)
				if err != nil {
					return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
				}
			}
			if err := infer.ValidateLadder(ladder, cfg.ChainCount, vars); err != nil {
				return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
			}
			ctrlCfg.Mismatch = ladder
		}
	}

	ctrl, err := infer.NewController(ctrlCfg)
	if err != nil {
		return model.Result{}, fmt.Errorf("%v: %w", err, ErrConfig)
	}

	logger.Debug("starting run",
		zap.String("run_id", cfg.RunID),
		zap.Int("chains", cfg.ChainCount),
		zap.Int("sweeps", cfg.MaxIterations),
		zap.Bool("explicit", cfg.Explicit),
		zap.Bool("temper_mismatch", cfg.TemperMismatch))

	runResult, err := ctrl.Run(ctx)
	if err != nil {
		return model.Result{}, err
	}

	samples := runResult.Archive.Samples()
	summaries, err := stats.Summarize(samples, 0.5)
	if err != nil {
		return model.Result{}, fmt.Errorf("summarizing posterior samples: %w", err)
	}

	swapRate := 0.0
	if runResult.SwapAttempts > 0 {
		swapRate = float64(runResult.SwapAccepts) / float64(runResult.SwapAttempts)
	}

	return model.Result{
		RunID:             cfg.RunID,
		PosteriorMean:     stats.Means(summaries),
		PosteriorSD:       stats.SDs(summaries),
		Samples:           samples,
		LogPosteriorTrace: runResult.Archive.Trace(),
		LatentMean:        runResult.Archive.LatentMean(),
		GPHyperParams:     hypers,
		Acceptance:        runResult.Acceptance,
		SwapAcceptance:    swapRate,
		Diagnostics:       runResult.Diagnostics,
	}, nil
}

// fitHyperParams estimates the covariance hyperparameters per observed
// variable; unobserved variables receive the fixed fallback record.
func fitHyperParams(ds model.Dataset, cfg Config, logger *zap.Logger) ([]model.HyperParams, error) {
	_, vars := ds.Dims()
	out := make([]model.HyperParams, vars)
	for k := 0; k < vars; k++ {
		if !ds.Observed[k] {
			out[k] = gp.FallbackHyper(ds.Time)
			continue
		}
		fit, err := gp.FitColumn(ds.Time, ds.Column(k), gp.FitConfig{
			Kernel:   cfg.Kernel,
			Restarts: cfg.GPRestarts,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("fitting gp hyperparameters for variable %d: %w", k, err)
		}
		out[k] = fit.Hyper
	}
	return out, nil
}
