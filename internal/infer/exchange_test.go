package infer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExchangeProbabilityHandComputed(t *testing.T) {
	// L_i(s_j) = -3, L_j(s_i) = -4, L_i(s_i) = -2, L_j(s_j) = -6:
	// exp((-3 + -4) - (-2 + -6)) = exp(1) > 1 -> clipped to 1.
	require.Equal(t, 1.0, ExchangeProbability(-3, -4, -2, -6))

	// exp((-5 + -4) - (-2 + -6)) = exp(-1).
	require.InDelta(t, math.Exp(-1), ExchangeProbability(-5, -4, -2, -6), 1e-12)

	// Symmetric states: probability 1.
	require.Equal(t, 1.0, ExchangeProbability(-2, -2, -2, -2))
}

func TestExchangeProbabilityNonFinite(t *testing.T) {
	negInf := math.Inf(-1)

	require.Equal(t, 0.0, ExchangeProbability(negInf, -1, -1, -1))
	require.Equal(t, 0.0, ExchangeProbability(-1, negInf, -1, -1))
	require.Equal(t, 0.0, ExchangeProbability(math.NaN(), -1, -1, -1))

	// A chain stuck at -Inf always benefits from a finite payload.
	require.Equal(t, 1.0, ExchangeProbability(-1, -2, negInf, -3))
}

func TestExchangeProbabilityRange(t *testing.T) {
	cases := [][4]float64{
		{-10, -20, -1, -2},
		{-1, -2, -10, -20},
		{-5, -5, -5, -5},
	}
	for _, c := range cases {
		p := ExchangeProbability(c[0], c[1], c[2], c[3])
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 1.0)
	}
}
