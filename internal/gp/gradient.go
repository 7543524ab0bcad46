package gp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gradmatch/internal/model"
)

var negInf = math.Inf(-1)

const log2Pi = 1.8378770664093454835

// VarModel is the per-variable gradient distribution model. From the fitted
// kernel it precomputes everything that does not depend on the latent state:
// the factorized prior covariance K, the operator mapping a latent column to
// the conditional derivative mean, and the conditional derivative covariance
// A = Kdd - Kd K^-1 Kd'. All fields are read-only after construction, so one
// VarModel is safely shared across chains.
type VarModel struct {
	ts        []float64
	kern      Kernel
	priorChol *mat.Cholesky
	meanOp    *mat.Dense
	derivCov  *mat.SymDense
}

func NewVarModel(ts []float64, h model.HyperParams, kernelName string) (*VarModel, error) {
	kern, err := NewKernel(kernelName, h)
	if err != nil {
		return nil, err
	}
	n := len(ts)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 time points, got %d", n)
	}

	cov := mat.NewSymDense(n, nil)
	kd := mat.NewDense(n, n, nil)
	kdd := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			kd.Set(i, j, kern.DT(ts[i], ts[j]))
			if j >= i {
				cov.SetSym(i, j, kern.Eval(ts[i], ts[j]))
				kdd.SetSym(i, j, kern.DTDT(ts[i], ts[j]))
			}
		}
	}

	priorChol, _, err := factorize(cov)
	if err != nil {
		return nil, fmt.Errorf("factorizing prior covariance: %w", err)
	}

	// meanOp = Kd K^-1, so the conditional derivative mean is meanOp * x.
	kinv := mat.NewSymDense(n, nil)
	if err := priorChol.InverseTo(kinv); err != nil {
		return nil, fmt.Errorf("inverting prior covariance: %w", err)
	}
	meanOp := mat.NewDense(n, n, nil)
	meanOp.Mul(kd, kinv)

	// A = Kdd - Kd K^-1 Kd', symmetrized against roundoff.
	var cross mat.Dense
	cross.Mul(meanOp, kd.T())
	derivCov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (kdd.At(i, j) - cross.At(i, j) + kdd.At(j, i) - cross.At(j, i))
			derivCov.SetSym(i, j, v)
		}
	}

	return &VarModel{
		ts:        append([]float64(nil), ts...),
		kern:      kern,
		priorChol: priorChol,
		meanOp:    meanOp,
		derivCov:  derivCov,
	}, nil
}

func (m *VarModel) Kernel() Kernel { return m.kern }

func (m *VarModel) Len() int { return len(m.ts) }

// LogPrior is the GP prior log-density log N(x; 0, K) of one latent column.
func (m *VarModel) LogPrior(x []float64) float64 {
	return gaussianLogDensity(m.priorChol, x)
}

// DerivMean fills dst with the conditional derivative mean Kd K^-1 x.
func (m *VarModel) DerivMean(dst, x []float64) {
	n := len(m.ts)
	out := mat.NewVecDense(n, dst)
	out.MulVec(m.meanOp, mat.NewVecDense(n, x))
}

// MatchFactor is the factorized product-of-experts covariance A + gamma I for
// one mismatch setting. Chains own their factors; the shared VarModel never
// caches them.
type MatchFactor struct {
	Gamma   float64
	chol    *mat.Cholesky
	logNorm float64
}

// NewMatchFactor factorizes A + gamma I. Factorization failure after jitter
// escalation is a configuration error for this variable.
func (m *VarModel) NewMatchFactor(gamma float64) (*MatchFactor, error) {
	if gamma < 0 || math.IsNaN(gamma) || math.IsInf(gamma, 0) {
		return nil, fmt.Errorf("mismatch value must be finite and >= 0, got %v", gamma)
	}
	n := len(m.ts)
	cov := mat.NewSymDense(n, nil)
	cov.CopySym(m.derivCov)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, cov.At(i, i)+gamma)
	}
	chol, _, err := factorize(cov)
	if err != nil {
		return nil, fmt.Errorf("factorizing derivative covariance with gamma=%g: %w", gamma, err)
	}
	return &MatchFactor{
		Gamma:   gamma,
		chol:    chol,
		logNorm: -0.5*chol.LogDet() - 0.5*float64(n)*log2Pi,
	}, nil
}

// MatchLogDensity is the product-of-experts gradient term
// log N(f; Kd K^-1 x, A + gamma I): the analytic integral of the GP-implied
// and ODE-implied derivative densities over the derivative itself.
func (m *VarModel) MatchLogDensity(fac *MatchFactor, x, odeDeriv []float64) float64 {
	n := len(m.ts)
	r := make([]float64, n)
	m.DerivMean(r, x)
	for i := range r {
		r[i] = odeDeriv[i] - r[i]
	}
	rv := mat.NewVecDense(n, r)
	sol := mat.NewVecDense(n, nil)
	if err := fac.chol.SolveVecTo(sol, rv); err != nil {
		return negInf
	}
	return -0.5*mat.Dot(rv, sol) + fac.logNorm
}
