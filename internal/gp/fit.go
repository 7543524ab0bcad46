package gp

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"gradmatch/internal/model"
)

var ErrFitFailed = errors.New("hyperparameter fit failed")

const defaultRestarts = 5

// FitConfig controls the per-variable hyperparameter estimation.
type FitConfig struct {
	Kernel   string
	Restarts int
	Logger   *zap.Logger
}

// Fit is the outcome of estimating one variable's hyperparameters. History
// holds the best negative marginal log-likelihood seen after each optimizer
// start; it is non-increasing by construction. Fallback marks columns that
// were too degenerate to fit.
type Fit struct {
	Hyper    model.HyperParams
	NegLogML float64
	History  []float64
	Fallback bool
}

// FallbackHyper is used for unobserved columns and for observed columns the
// optimizer cannot handle (too few points, zero variance).
func FallbackHyper(ts []float64) model.HyperParams {
	span := ts[len(ts)-1] - ts[0]
	return model.HyperParams{
		SignalVariance: 1.0,
		LengthScale:    span / 4,
		NoiseVariance:  0.1,
	}
}

// FitColumn maximizes the GP marginal likelihood of one observed column over
// (signal variance, length scale, noise variance), parameterized in log space
// and optimized with Nelder-Mead from a deterministic spread of starts.
func FitColumn(ts, y []float64, cfg FitConfig) (Fit, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(ts) != len(y) {
		return Fit{}, fmt.Errorf("time length %d vs column length %d: %w", len(ts), len(y), ErrFitFailed)
	}

	variance := stat.Variance(y, nil)
	if len(y) < 3 || variance <= 0 {
		logger.Warn("degenerate column, using fallback hyperparameters",
			zap.Int("points", len(y)),
			zap.Float64("variance", variance))
		return Fit{Hyper: FallbackHyper(ts), Fallback: true}, nil
	}

	centered := make([]float64, len(y))
	mean := stat.Mean(y, nil)
	for i, v := range y {
		centered[i] = v - mean
	}

	span := ts[len(ts)-1] - ts[0]
	objective := func(logParams []float64) float64 {
		return negLogMarginal(ts, centered, cfg.Kernel, logParams)
	}

	restarts := cfg.Restarts
	if restarts <= 0 {
		restarts = defaultRestarts
	}

	best := Fit{NegLogML: math.Inf(1)}
	for r := 0; r < restarts; r++ {
		start := []float64{
			math.Log(variance) + 0.5*float64(r-restarts/2),
			math.Log(span / float64(2+2*r)),
			math.Log(variance * 0.1 * math.Pow(2, float64(r-restarts/2))),
		}
		problem := optimize.Problem{Func: objective}
		result, err := optimize.Minimize(problem, start, &optimize.Settings{Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Iterations: 50,
		}}, &optimize.NelderMead{})
		if err != nil && result == nil {
			logger.Debug("optimizer start failed", zap.Int("restart", r), zap.Error(err))
			best.History = append(best.History, best.NegLogML)
			continue
		}
		if result.F < best.NegLogML && !math.IsInf(result.F, 0) && !math.IsNaN(result.F) {
			best.NegLogML = result.F
			best.Hyper = model.HyperParams{
				SignalVariance: math.Exp(result.X[0]),
				LengthScale:    math.Exp(result.X[1]),
				NoiseVariance:  math.Exp(result.X[2]),
			}
		}
		best.History = append(best.History, best.NegLogML)
	}

	if math.IsInf(best.NegLogML, 1) {
		return Fit{}, fmt.Errorf("no optimizer start converged to a finite marginal likelihood: %w", ErrFitFailed)
	}
	logger.Debug("fitted column hyperparameters",
		zap.Float64("signal_variance", best.Hyper.SignalVariance),
		zap.Float64("length_scale", best.Hyper.LengthScale),
		zap.Float64("noise_variance", best.Hyper.NoiseVariance),
		zap.Float64("neg_log_ml", best.NegLogML))
	return best, nil
}

// negLogMarginal is the negative GP marginal log-likelihood
// 0.5 y' (K + sn^2 I)^-1 y + 0.5 log det(K + sn^2 I) + (T/2) log 2 pi
// over log-space hyperparameters. Invalid regions score +Inf so the
// derivative-free optimizer can step through them.
func negLogMarginal(ts, y []float64, kernelName string, logParams []float64) float64 {
	h := model.HyperParams{
		SignalVariance: math.Exp(logParams[0]),
		LengthScale:    math.Exp(logParams[1]),
		NoiseVariance:  math.Exp(logParams[2]),
	}
	if !finiteHyper(h) {
		return math.Inf(1)
	}
	kern, err := NewKernel(kernelName, h)
	if err != nil {
		return math.Inf(1)
	}

	n := len(ts)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := kern.Eval(ts[i], ts[j])
			if i == j {
				v += h.NoiseVariance
			}
			cov.SetSym(i, j, v)
		}
	}
	chol, _, err := factorize(cov)
	if err != nil {
		return math.Inf(1)
	}
	return -gaussianLogDensity(chol, y)
}

func finiteHyper(h model.HyperParams) bool {
	for _, v := range []float64{h.SignalVariance, h.LengthScale, h.NoiseVariance} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}
