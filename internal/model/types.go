package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrTimeNotIncreasing = errors.New("time vector must be strictly increasing")
	ErrPartialColumn     = errors.New("partially observed column is unsupported")
)

// Dataset is the immutable input to a run: an observation grid and a T x K
// data matrix. A column is either fully observed or fully unobserved
// (all NaN); partial masking within a column is rejected at construction.
type Dataset struct {
	Time         []float64
	Observations *mat.Dense
	Observed     []bool
}

func NewDataset(time []float64, observations *mat.Dense) (Dataset, error) {
	if observations == nil {
		return Dataset{}, fmt.Errorf("observations are required: %w", ErrDimensionMismatch)
	}
	rows, cols := observations.Dims()
	if len(time) != rows {
		return Dataset{}, fmt.Errorf("time length %d vs observation rows %d: %w", len(time), rows, ErrDimensionMismatch)
	}
	if rows < 2 {
		return Dataset{}, fmt.Errorf("need at least 2 time points, got %d: %w", rows, ErrDimensionMismatch)
	}
	for i := 1; i < len(time); i++ {
		if !(time[i] > time[i-1]) {
			return Dataset{}, fmt.Errorf("time[%d]=%v <= time[%d]=%v: %w", i, time[i], i-1, time[i-1], ErrTimeNotIncreasing)
		}
	}

	observed := make([]bool, cols)
	for k := 0; k < cols; k++ {
		missing := 0
		for i := 0; i < rows; i++ {
			if math.IsNaN(observations.At(i, k)) {
				missing++
			}
		}
		switch missing {
		case 0:
			observed[k] = true
		case rows:
			observed[k] = false
		default:
			return Dataset{}, fmt.Errorf("column %d has %d of %d values missing: %w", k, missing, rows, ErrPartialColumn)
		}
	}

	return Dataset{
		Time:         append([]float64(nil), time...),
		Observations: mat.DenseCopyOf(observations),
		Observed:     observed,
	}, nil
}

func (d Dataset) Dims() (points, vars int) {
	return d.Observations.Dims()
}

func (d Dataset) ObservedCount() int {
	n := 0
	for _, ok := range d.Observed {
		if ok {
			n++
		}
	}
	return n
}

// Column returns a copy of one observation column.
func (d Dataset) Column(k int) []float64 {
	rows, _ := d.Observations.Dims()
	out := make([]float64, rows)
	mat.Col(out, k, d.Observations)
	return out
}

// HyperParams holds the fitted covariance hyperparameters for one variable.
// They are fitted once before sampling and are read-only afterwards.
type HyperParams struct {
	SignalVariance float64 `json:"signal_variance"`
	LengthScale    float64 `json:"length_scale"`
	NoiseVariance  float64 `json:"noise_variance"`
}

// SweepDiagnostics is recorded per reporting interval during sampling.
type SweepDiagnostics struct {
	Sweep             int     `json:"sweep"`
	ColdLogPosterior  float64 `json:"cold_log_posterior"`
	MeanLogPosterior  float64 `json:"mean_log_posterior"`
	ExchangeAttempts  int     `json:"exchange_attempts"`
	ExchangeAccepts   int     `json:"exchange_accepts"`
	ColdAcceptanceAll float64 `json:"cold_acceptance_all"`
}

// Result is the in-memory outcome of a run. Nothing is persisted.
type Result struct {
	RunID             string
	PosteriorMean     []float64
	PosteriorSD       []float64
	Samples           *mat.Dense
	LogPosteriorTrace []float64
	LatentMean        *mat.Dense
	GPHyperParams     []HyperParams
	Acceptance        map[string]float64
	SwapAcceptance    float64
	Diagnostics       []SweepDiagnostics
}
