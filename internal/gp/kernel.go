package gp

import (
	"errors"
	"fmt"
	"math"

	"gradmatch/internal/model"
)

var ErrKernelNotFound = errors.New("kernel not found")

const (
	KernelRBF      = "rbf"
	KernelMatern32 = "matern32"
)

// Kernel is a stationary covariance function in one input dimension,
// together with the closed-form derivatives the gradient model needs:
// DT is the derivative with respect to the first argument, DTDT the
// mixed second derivative with respect to both arguments.
type Kernel interface {
	Name() string
	Eval(s, t float64) float64
	DT(s, t float64) float64
	DTDT(s, t float64) float64
}

// NewKernel builds a kernel of the named family from fitted hyperparameters.
// The noise variance is not part of the kernel; it enters the covariance
// only on the diagonal during fitting.
func NewKernel(name string, h model.HyperParams) (Kernel, error) {
	if h.SignalVariance <= 0 || h.LengthScale <= 0 {
		return nil, fmt.Errorf("kernel %q needs positive signal variance and length scale, got %+v", name, h)
	}
	switch name {
	case "", KernelRBF:
		return RBF{SignalVariance: h.SignalVariance, LengthScale: h.LengthScale}, nil
	case KernelMatern32:
		return Matern32{SignalVariance: h.SignalVariance, LengthScale: h.LengthScale}, nil
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrKernelNotFound)
	}
}

// RBF is the squared-exponential kernel sigma^2 exp(-(s-t)^2 / (2 l^2)).
type RBF struct {
	SignalVariance float64
	LengthScale    float64
}

var _ Kernel = RBF{}

func (RBF) Name() string { return KernelRBF }

func (k RBF) Eval(s, t float64) float64 {
	d := s - t
	return k.SignalVariance * math.Exp(-d*d/(2*k.LengthScale*k.LengthScale))
}

func (k RBF) DT(s, t float64) float64 {
	d := s - t
	l2 := k.LengthScale * k.LengthScale
	return -k.SignalVariance * d / l2 * math.Exp(-d*d/(2*l2))
}

func (k RBF) DTDT(s, t float64) float64 {
	d := s - t
	l2 := k.LengthScale * k.LengthScale
	return k.SignalVariance / l2 * (1 - d*d/l2) * math.Exp(-d*d/(2*l2))
}

// Matern32 is the Matern kernel with smoothness 3/2:
// sigma^2 (1 + sqrt(3) r / l) exp(-sqrt(3) r / l) with r = |s-t|.
type Matern32 struct {
	SignalVariance float64
	LengthScale    float64
}

var _ Kernel = Matern32{}

func (Matern32) Name() string { return KernelMatern32 }

func (k Matern32) Eval(s, t float64) float64 {
	a := math.Sqrt(3) / k.LengthScale
	r := math.Abs(s - t)
	return k.SignalVariance * (1 + a*r) * math.Exp(-a*r)
}

func (k Matern32) DT(s, t float64) float64 {
	a := math.Sqrt(3) / k.LengthScale
	d := s - t
	return -k.SignalVariance * a * a * d * math.Exp(-a*math.Abs(d))
}

func (k Matern32) DTDT(s, t float64) float64 {
	a := math.Sqrt(3) / k.LengthScale
	r := math.Abs(s - t)
	return k.SignalVariance * a * a * (1 - a*r) * math.Exp(-a*r)
}
