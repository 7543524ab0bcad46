package odesys

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch = errors.New("ode system returned wrong shape")
	ErrParamCount    = errors.New("parameter count mismatch")
)

// System is the user-facing ODE right-hand-side contract. Evaluate is
// vectorized: it receives all time points at once and returns the T x K
// derivative matrix. Implementations must be pure and deterministic;
// non-finite output for some parameter settings is allowed and is handled
// by the caller as a rejected proposal.
type System interface {
	Name() string
	Dims() (vars, params int)
	Evaluate(ts []float64, x *mat.Dense, theta []float64) *mat.Dense
}

// Adapter wraps a System with the shape and finiteness checks the sampler
// relies on. Shape violations are programming errors and are returned as
// errors; non-finite values are reported through the ok flag so the caller
// can score the move at -Inf instead of crashing.
type Adapter struct {
	sys System
}

func NewAdapter(sys System) (*Adapter, error) {
	if sys == nil {
		return nil, errors.New("ode system is required")
	}
	vars, params := sys.Dims()
	if vars <= 0 || params <= 0 {
		return nil, fmt.Errorf("system %q reports dims vars=%d params=%d", sys.Name(), vars, params)
	}
	return &Adapter{sys: sys}, nil
}

func (a *Adapter) System() System { return a.sys }

func (a *Adapter) Dims() (vars, params int) { return a.sys.Dims() }

// Evaluate calls the wrapped system and validates the result. ok is false
// when any derivative entry is NaN or Inf.
func (a *Adapter) Evaluate(ts []float64, x *mat.Dense, theta []float64) (deriv *mat.Dense, ok bool, err error) {
	vars, params := a.sys.Dims()
	if len(theta) < params {
		return nil, false, fmt.Errorf("system %q wants %d parameters, got %d: %w", a.sys.Name(), params, len(theta), ErrParamCount)
	}
	rows, cols := x.Dims()
	if cols != vars || rows != len(ts) {
		return nil, false, fmt.Errorf("system %q state is %dx%d for %d time points and %d vars: %w",
			a.sys.Name(), rows, cols, len(ts), vars, ErrShapeMismatch)
	}

	deriv = a.sys.Evaluate(ts, x, theta[:params])
	if deriv == nil {
		return nil, false, fmt.Errorf("system %q returned nil derivative: %w", a.sys.Name(), ErrShapeMismatch)
	}
	dr, dc := deriv.Dims()
	if dr != rows || dc != cols {
		return nil, false, fmt.Errorf("system %q returned %dx%d, want %dx%d: %w", a.sys.Name(), dr, dc, rows, cols, ErrShapeMismatch)
	}
	for i := 0; i < dr; i++ {
		for j := 0; j < dc; j++ {
			v := deriv.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return deriv, false, nil
			}
		}
	}
	return deriv, true, nil
}

// Func adapts a plain function to the System interface.
type Func struct {
	SystemName string
	Vars       int
	Params     int
	Eval       func(ts []float64, x *mat.Dense, theta []float64) *mat.Dense
}

func (f Func) Name() string { return f.SystemName }

func (f Func) Dims() (vars, params int) { return f.Vars, f.Params }

func (f Func) Evaluate(ts []float64, x *mat.Dense, theta []float64) *mat.Dense {
	return f.Eval(ts, x, theta)
}
