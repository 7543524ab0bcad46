package odesys

import "gonum.org/v1/gonum/mat"

// LotkaVolterra is the two-species predator-prey benchmark:
//
//	dx/dt = theta0*x - theta1*x*y
//	dy/dt = -theta2*y + theta3*x*y
type LotkaVolterra struct{}

var _ System = LotkaVolterra{}

func (LotkaVolterra) Name() string { return "lotka_volterra" }

func (LotkaVolterra) Dims() (vars, params int) { return 2, 4 }

func (LotkaVolterra) Evaluate(ts []float64, x *mat.Dense, theta []float64) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		prey := x.At(i, 0)
		pred := x.At(i, 1)
		out.Set(i, 0, theta[0]*prey-theta[1]*prey*pred)
		out.Set(i, 1, -theta[2]*pred+theta[3]*prey*pred)
	}
	return out
}
