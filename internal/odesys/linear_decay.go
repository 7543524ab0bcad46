package odesys

import "gonum.org/v1/gonum/mat"

// LinearDecay is the one-parameter system dx/dt = -a*x, used as a
// round-trip benchmark with the closed-form solution x(t) = x0*exp(-a*t).
type LinearDecay struct{}

var _ System = LinearDecay{}

func (LinearDecay) Name() string { return "linear_decay" }

func (LinearDecay) Dims() (vars, params int) { return 1, 1 }

func (LinearDecay) Evaluate(ts []float64, x *mat.Dense, theta []float64) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, -theta[0]*x.At(i, 0))
	}
	return out
}
