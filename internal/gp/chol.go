package gp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrNotPositiveDefinite = errors.New("covariance matrix is not positive definite")

const (
	jitterStartFraction = 1e-8
	jitterGrowth        = 10.0
	jitterMaxAttempts   = 6
)

// factorize Cholesky-factorizes a symmetric covariance matrix, escalating a
// diagonal jitter from a small fraction of the mean diagonal when the plain
// factorization fails. The input is not modified. The jitter actually applied
// is returned so callers can keep factorizations consistent with each other.
func factorize(cov *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := cov.SymmetricDim()

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return &chol, 0, nil
	}

	meanDiag := 0.0
	for i := 0; i < n; i++ {
		meanDiag += cov.At(i, i)
	}
	meanDiag /= float64(n)
	if meanDiag <= 0 {
		meanDiag = 1
	}

	jitter := jitterStartFraction * meanDiag
	work := mat.NewSymDense(n, nil)
	for attempt := 0; attempt < jitterMaxAttempts; attempt++ {
		work.CopySym(cov)
		for i := 0; i < n; i++ {
			work.SetSym(i, i, work.At(i, i)+jitter)
		}
		if chol.Factorize(work) {
			return &chol, jitter, nil
		}
		jitter *= jitterGrowth
	}
	return nil, 0, fmt.Errorf("after %d jitter attempts up to %g: %w", jitterMaxAttempts, jitter/jitterGrowth, ErrNotPositiveDefinite)
}

// gaussianLogDensity evaluates log N(r; 0, cov) given the factorization of cov.
func gaussianLogDensity(chol *mat.Cholesky, r []float64) float64 {
	n := len(r)
	rv := mat.NewVecDense(n, r)
	sol := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(sol, rv); err != nil {
		return negInf
	}
	quad := mat.Dot(rv, sol)
	return -0.5*quad - 0.5*chol.LogDet() - 0.5*float64(n)*log2Pi
}
