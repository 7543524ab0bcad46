package odesys

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var ErrIntegrationDiverged = errors.New("integration produced non-finite state")

// Integrate runs a fixed-step fourth-order Runge-Kutta scheme over the
// observation grid, taking substeps equal sub-intervals between adjacent
// time points, and returns the trajectory sampled at the grid points
// (first row = x0). ok is false when the trajectory leaves the finite
// domain, which the sampler treats as a rejected proposal.
func Integrate(a *Adapter, theta, x0, ts []float64, substeps int) (traj *mat.Dense, ok bool, err error) {
	vars, _ := a.Dims()
	if len(x0) != vars {
		return nil, false, fmt.Errorf("initial state length %d, want %d: %w", len(x0), vars, ErrShapeMismatch)
	}
	if len(ts) < 2 {
		return nil, false, fmt.Errorf("need at least 2 time points, got %d: %w", len(ts), ErrShapeMismatch)
	}
	if substeps <= 0 {
		substeps = 1
	}

	traj = mat.NewDense(len(ts), vars, nil)
	state := append([]float64(nil), x0...)
	traj.SetRow(0, state)

	point := mat.NewDense(1, vars, nil)
	tsOne := make([]float64, 1)
	eval := func(t float64, x []float64) ([]float64, bool, error) {
		point.SetRow(0, x)
		tsOne[0] = t
		deriv, finite, evalErr := a.Evaluate(tsOne, point, theta)
		if evalErr != nil {
			return nil, false, evalErr
		}
		if !finite {
			return nil, false, nil
		}
		return deriv.RawRowView(0), true, nil
	}

	k1 := make([]float64, vars)
	tmp := make([]float64, vars)
	for i := 1; i < len(ts); i++ {
		h := (ts[i] - ts[i-1]) / float64(substeps)
		t := ts[i-1]
		for s := 0; s < substeps; s++ {
			d1, finite, err := eval(t, state)
			if err != nil || !finite {
				return traj, false, err
			}
			copy(k1, d1)

			for j := range tmp {
				tmp[j] = state[j] + 0.5*h*k1[j]
			}
			d2, finite, err := eval(t+0.5*h, tmp)
			if err != nil || !finite {
				return traj, false, err
			}
			k2 := append([]float64(nil), d2...)

			for j := range tmp {
				tmp[j] = state[j] + 0.5*h*k2[j]
			}
			d3, finite, err := eval(t+0.5*h, tmp)
			if err != nil || !finite {
				return traj, false, err
			}
			k3 := append([]float64(nil), d3...)

			for j := range tmp {
				tmp[j] = state[j] + h*k3[j]
			}
			d4, finite, err := eval(t+h, tmp)
			if err != nil || !finite {
				return traj, false, err
			}

			for j := range state {
				state[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + d4[j])
				if math.IsNaN(state[j]) || math.IsInf(state[j], 0) {
					return traj, false, nil
				}
			}
			t += h
		}
		traj.SetRow(i, state)
	}
	return traj, true, nil
}

// Simulate integrates the system at the given grid and adds iid Gaussian
// observation noise, producing a synthetic dataset matrix. noiseSD of zero
// returns the clean trajectory.
func Simulate(a *Adapter, theta, x0, ts []float64, substeps int, noiseSD float64, rng *rand.Rand) (*mat.Dense, error) {
	traj, ok, err := Integrate(a, theta, x0, ts, substeps)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("simulating %q with theta=%v: %w", a.System().Name(), theta, ErrIntegrationDiverged)
	}
	if noiseSD > 0 {
		if rng == nil {
			return nil, errors.New("random source is required for noisy simulation")
		}
		rows, cols := traj.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				traj.Set(i, j, traj.At(i, j)+rng.NormFloat64()*noiseSD)
			}
		}
	}
	return traj, nil
}
