package infer

import "math"

// ExchangeProbability is the parallel-tempering acceptance probability for
// swapping the payloads of rungs i and j:
//
//	min(1, exp((L_i(s_j) + L_j(s_i)) - (L_i(s_i) + L_j(s_j))))
//
// where L_r scores a payload under rung r. Any non-finite cross term makes
// the swap impossible rather than undefined.
func ExchangeProbability(crossIJ, crossJI, sameI, sameJ float64) float64 {
	if math.IsInf(crossIJ, -1) || math.IsInf(crossJI, -1) ||
		math.IsNaN(crossIJ) || math.IsNaN(crossJI) {
		return 0
	}
	if math.IsInf(sameI, -1) || math.IsInf(sameJ, -1) {
		return 1
	}
	p := math.Exp(crossIJ + crossJI - sameI - sameJ)
	if math.IsNaN(p) {
		return 0
	}
	return math.Min(1, p)
}
