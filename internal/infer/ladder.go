package infer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrLadderShape    = errors.New("tempering ladder shape mismatch")
	ErrLadderOrder    = errors.New("tempering ladder must be monotonically decreasing")
	ErrSchemeNotFound = errors.New("tempering scheme not found")
)

const (
	SchemeLB2  = "LB2"
	SchemeLB10 = "LB10"
)

// DefaultLadder builds a named mismatch ladder: chains x vars, rung 0 the
// largest (most prior-like) mismatch, decreasing geometrically down the
// rungs. A single chain gets the smallest row of the schedule.
func DefaultLadder(scheme string, chains, vars int) (*mat.Dense, error) {
	if chains <= 0 || vars <= 0 {
		return nil, fmt.Errorf("chains=%d vars=%d: %w", chains, vars, ErrLadderShape)
	}
	var base float64
	switch scheme {
	case SchemeLB2:
		base = 2
	case "", SchemeLB10:
		base = 10
	default:
		return nil, fmt.Errorf("%q: %w", scheme, ErrSchemeNotFound)
	}

	ladder := mat.NewDense(chains, vars, nil)
	for i := 0; i < chains; i++ {
		v := math.Pow(base, -float64(i))
		if chains == 1 {
			// One chain samples at the strictest mismatch of a 5-rung schedule.
			v = math.Pow(base, -4)
		}
		for k := 0; k < vars; k++ {
			ladder.Set(i, k, v)
		}
	}
	return ladder, nil
}

// ValidateLadder checks a user-supplied mismatch ladder: one row per chain,
// one column per variable, all values positive and finite, every column
// monotonically non-increasing from rung 0 down.
func ValidateLadder(ladder *mat.Dense, chains, vars int) error {
	if ladder == nil {
		return fmt.Errorf("ladder is required: %w", ErrLadderShape)
	}
	rows, cols := ladder.Dims()
	if rows != chains || cols != vars {
		return fmt.Errorf("ladder is %dx%d, want %dx%d: %w", rows, cols, chains, vars, ErrLadderShape)
	}
	for i := 0; i < rows; i++ {
		for k := 0; k < cols; k++ {
			v := ladder.At(i, k)
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("ladder[%d,%d]=%v must be finite and > 0: %w", i, k, v, ErrLadderOrder)
			}
			if i > 0 && v > ladder.At(i-1, k) {
				return fmt.Errorf("ladder[%d,%d]=%v exceeds rung above: %w", i, k, v, ErrLadderOrder)
			}
		}
	}
	return nil
}

// PowerLadder is the inverse-temperature schedule for free-inference and
// explicit-mode tempering: beta_i = (i/(n-1))^5, ascending so the last rung
// is the untempered posterior.
func PowerLadder(chains int) []float64 {
	betas := make([]float64, chains)
	if chains == 1 {
		betas[0] = 1
		return betas
	}
	for i := range betas {
		betas[i] = math.Pow(float64(i)/float64(chains-1), 5)
	}
	return betas
}
